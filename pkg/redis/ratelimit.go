package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits a request when fewer than limit requests were admitted in the last window.
// It returns {1, remaining} on admit and {0, 0, oldestMs} otherwise.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call("zremrangebyscore", key, "-inf", window_start)
	local current = redis.call("zcard", key)
	if current < limit then
		redis.call("zadd", key, now, now .. "-" .. math.random())
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - 1}
	end
	local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
	if #oldest > 0 then
		return {0, 0, oldest[2]}
	end
	return {0, 0, 0}
`)

type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	RetryIn   time.Duration
}

// RateLimiter shares one request budget for the remote source between every process using the same key.
type RateLimiter struct {
	client *Client
	key    string
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *Client, key string, limit int64, window time.Duration) *RateLimiter {
	if key == "" {
		key = "fern:ratelimit:remote"
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{client: client, key: key, limit: limit, window: window}
}

func (r *RateLimiter) blockKey() string {
	return r.key + ":block"
}

// Throttle blocks the budget for d, typically after the source answered 429.
func (r *RateLimiter) Throttle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.client.rdb.Set(ctx, r.blockKey(), "1", d).Err()
}

func (r *RateLimiter) blocked(ctx context.Context) (time.Duration, error) {
	ttl, err := r.client.rdb.PTTL(ctx, r.blockKey()).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Allow checks and records one request.
func (r *RateLimiter) Allow(ctx context.Context) (*RateLimitResult, error) {
	if ttl, err := r.blocked(ctx); err != nil {
		return nil, err
	} else if ttl > 0 {
		return &RateLimitResult{RetryIn: ttl}, nil
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, r.client.rdb, []string{r.key},
		now.UnixMilli(),
		now.Add(-r.window).UnixMilli(),
		r.limit,
		r.window.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, err
	}

	allowed, err := toInt64(result[0])
	if err != nil {
		return nil, err
	}
	remaining, err := toInt64(result[1])
	if err != nil {
		return nil, err
	}
	res := &RateLimitResult{Allowed: allowed == 1, Remaining: remaining}
	if !res.Allowed && len(result) > 2 {
		oldest, err := toInt64(result[2])
		if err != nil {
			return nil, err
		}
		if oldest > 0 {
			res.RetryIn = time.UnixMilli(oldest).Add(r.window).Sub(now)
		}
	}
	if !res.Allowed && res.RetryIn <= 0 {
		res.RetryIn = 50 * time.Millisecond
	}
	return res, nil
}

// Wait blocks until a request is admitted. Redis errors fail open.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.limit <= 0 {
		return nil
	}
	for {
		res, err := r.Allow(ctx)
		if err != nil {
			r.client.logger.WithContext(ctx).WithError(err).Warn("Rate limit check failed, allowing request")
			return nil
		}
		if res.Allowed {
			return nil
		}

		r.client.logger.WithContext(ctx).Debugf("Rate limited, waiting %v", res.RetryIn)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(res.RetryIn):
		}
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err == nil {
			return parsed, nil
		}
		f, ferr := strconv.ParseFloat(n, 64)
		if ferr != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
