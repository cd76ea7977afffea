// Package remote is the HTTP client for the content delivery sync API.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultMaxPages bounds a single sync so a misbehaving source cannot loop forever
	DefaultMaxPages = 10000

	// DefaultMaxRetries is how often a rate limited request is retried
	DefaultMaxRetries = 3
)

// Config holds the source endpoint and credentials.
type Config struct {
	BaseURL       string
	SpaceID       string
	EnvironmentID string
	AccessToken   string
	Timeout       time.Duration
	MaxPages      int
	MaxRetries    int
}

// Limiter paces requests to the source. Throttle pauses every caller sharing the limiter.
type Limiter interface {
	Wait(ctx context.Context) error
	Throttle(ctx context.Context, d time.Duration) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client talks to the sync and locales endpoints.
type Client struct {
	client  *http.Client
	config  Config
	logger  ectologger.Logger
	limiter Limiter
}

func NewClient(cfg Config, logger ectologger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.EnvironmentID == "" {
		cfg.EnvironmentID = "master"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 90 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}
}

// WithLimiter shares a request budget with other processes.
func (c *Client) WithLimiter(limiter Limiter) *Client {
	c.limiter = limiter
	return c
}

func (c *Client) environmentURL(path string) string {
	return fmt.Sprintf("%s/spaces/%s/environments/%s/%s", c.config.BaseURL, url.PathEscape(c.config.SpaceID), url.PathEscape(c.config.EnvironmentID), path)
}

// Locales lists the locales of the environment.
func (c *Client) Locales(ctx context.Context) ([]models.Locale, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.Client.Locales")
	defer span.End()

	var body struct {
		Items []models.Locale `json:"items"`
	}
	if err := c.getJSON(ctx, c.environmentURL("locales"), &body); err != nil {
		return nil, err
	}
	return body.Items, nil
}

// Sync streams sync pages starting at token. An empty token starts an initial sync.
// handle is called once per page in order; the last page carries NextSyncToken.
func (c *Client) Sync(ctx context.Context, token string, handle func(page *models.SyncPage) error) error {
	ctx, span := tracing.StartSpan(ctx, "remote.Client.Sync")
	defer span.End()

	query := url.Values{}
	if token == "" {
		query.Set("initial", "true")
	} else {
		query.Set("sync_token", token)
	}
	next := c.environmentURL("sync") + "?" + query.Encode()

	for pages := 0; next != ""; pages++ {
		if pages >= c.config.MaxPages {
			return fmt.Errorf("sync exceeded %d pages", c.config.MaxPages)
		}

		var body syncResponse
		if err := c.getJSON(ctx, next, &body); err != nil {
			return err
		}

		page, err := body.page()
		if err != nil {
			return err
		}

		c.logger.WithContext(ctx).WithFields(map[string]any{
			"page":            pages + 1,
			"assets":          len(page.Assets),
			"entries":         len(page.Entries),
			"deleted_assets":  len(page.DeletedAssets),
			"deleted_entries": len(page.DeletedEntries),
		}).Debug("Fetched sync page")

		if err := handle(page); err != nil {
			return err
		}
		next = body.NextPageURL
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		header, err := c.get(ctx, target, out)
		var statusErr *StatusError
		if err == nil || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests || attempt >= c.config.MaxRetries {
			return err
		}

		wait := retryAfter(header)
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"attempt": attempt + 1,
			"wait":    wait.String(),
		}).Warn("Remote source is rate limiting, backing off")
		if c.limiter != nil {
			if err := c.limiter.Throttle(ctx, wait); err != nil {
				c.logger.WithContext(ctx).WithError(err).Warn("Failed to share rate limit backoff")
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// retryAfter reads the backoff from a 429 response, defaulting to one second.
func retryAfter(header http.Header) time.Duration {
	for _, name := range []string{"X-Contentful-RateLimit-Reset", "Retry-After"} {
		if seconds, err := strconv.Atoi(header.Get(name)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Second
}

// get performs one request. The response header is returned so callers can inspect rate limit hints.
func (c *Client) get(ctx context.Context, target string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.HTTPRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HTTPRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s", req.Method, req.URL.Redacted())
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.HTTPRequestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.ContentLength > MaxResponseSize {
		return resp.Header, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, MaxResponseSize)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return resp.Header, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return resp.Header, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}

	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", req.Method, req.URL.Path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return resp.Header, &StatusError{StatusCode: resp.StatusCode, URL: req.URL.Path, Body: snippet}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.Header, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Header, nil
}
