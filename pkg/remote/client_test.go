package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	mux := http.NewServeMux()

	mux.HandleFunc("/spaces/sp/environments/master/locales", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"items":[{"code":"en-US","name":"English","default":true},{"code":"es-MX","name":"Spanish","default":false}]}`))
	})

	mux.HandleFunc("/spaces/sp/environments/master/sync", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("initial") == "true":
			_, _ = w.Write([]byte(`{
				"items": [
					{"sys": {"id": "p1", "type": "Entry", "createdAt": "2024-03-01T12:00:00Z", "updatedAt": "2024-03-02T12:00:00Z",
					         "contentType": {"sys": {"type": "Link", "linkType": "ContentType", "id": "person"}}},
					 "fields": {
					   "name": {"en-US": "Ada"},
					   "dog": {"en-US": {"sys": {"type": "Link", "linkType": "Entry", "id": "d1"}}},
					   "cats": {"en-US": [{"sys": {"type": "Link", "linkType": "Entry", "id": "c1"}}, {"sys": {"type": "Link", "linkType": "Entry", "id": "c2"}}]},
					   "tags": {"en-US": ["a", "b"]}
					 }},
					{"sys": {"id": "a1", "type": "Asset"},
					 "fields": {"title": {"en-US": "Logo"},
					            "file": {"en-US": {"url": "//cdn/logo.png", "fileName": "logo.png", "contentType": "image/png",
					                               "details": {"size": 1024, "image": {"width": 64, "height": 32}}}}}}
				],
				"nextPageUrl": "` + server.URL + `/spaces/sp/environments/master/sync?sync_token=page2"
			}`))
		case r.URL.Query().Get("sync_token") == "page2":
			_, _ = w.Write([]byte(`{
				"items": [
					{"sys": {"id": "d9", "type": "DeletedEntry"}},
					{"sys": {"id": "a9", "type": "DeletedAsset"}}
				],
				"nextSyncUrl": "` + server.URL + `/spaces/sp/environments/master/sync?sync_token=next-token"
			}`))
		case r.URL.Query().Get("sync_token") == "broken":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"try later"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClient_Locales(t *testing.T) {
	server := newServer(t)
	client := NewClient(Config{BaseURL: server.URL, SpaceID: "sp", AccessToken: "secret"}, noopLogger())

	locales, err := client.Locales(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Locale{
		{Code: "en-US", Name: "English", IsDefault: true},
		{Code: "es-MX", Name: "Spanish"},
	}, locales)
}

func TestClient_SyncFollowsPagesAndDecodes(t *testing.T) {
	server := newServer(t)
	client := NewClient(Config{BaseURL: server.URL + "/", SpaceID: "sp", AccessToken: "secret"}, noopLogger())

	var pages []*models.SyncPage
	err := client.Sync(context.Background(), "", func(page *models.SyncPage) error {
		pages = append(pages, page)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pages, 2)

	first := pages[0]
	assert.Empty(t, first.NextSyncToken)
	require.Len(t, first.Entries, 1)
	person := first.Entries[0]
	assert.Equal(t, "person", person.ContentTypeID)
	assert.Equal(t, 2024, person.CreatedAt.Year())
	assert.Equal(t, models.Link{ID: "d1", LinkType: "Entry"}, person.Fields["dog"]["en-US"])
	assert.Equal(t, []models.Link{{ID: "c1", LinkType: "Entry"}, {ID: "c2", LinkType: "Entry"}}, person.Fields["cats"]["en-US"])
	assert.Equal(t, []any{"a", "b"}, person.Fields["tags"]["en-US"])

	require.Len(t, first.Assets, 1)
	asset := first.Assets[0]
	assert.Equal(t, "//cdn/logo.png", asset.Fields["url"]["en-US"])
	assert.Equal(t, float64(1024), asset.Fields["size"]["en-US"])
	assert.Equal(t, float64(64), asset.Fields["width"]["en-US"])
	assert.NotContains(t, asset.Fields, "file")

	second := pages[1]
	assert.Equal(t, []string{"d9"}, second.DeletedEntries)
	assert.Equal(t, []string{"a9"}, second.DeletedAssets)
	assert.Equal(t, "next-token", second.NextSyncToken)
}

func TestClient_SyncStatusError(t *testing.T) {
	server := newServer(t)
	client := NewClient(Config{BaseURL: server.URL, SpaceID: "sp"}, noopLogger())

	called := false
	err := client.Sync(context.Background(), "broken", func(*models.SyncPage) error {
		called = true
		return nil
	})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.False(t, called)
}

func TestClient_SyncStopsAtMaxPages(t *testing.T) {
	server := newServer(t)
	client := NewClient(Config{BaseURL: server.URL, SpaceID: "sp", MaxPages: 1}, noopLogger())

	err := client.Sync(context.Background(), "", func(*models.SyncPage) error { return nil })
	assert.ErrorContains(t, err, "exceeded 1 pages")
}

func TestSyncToken(t *testing.T) {
	token, err := syncToken("https://cdn.example.com/spaces/x/sync?sync_token=abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = syncToken("https://cdn.example.com/spaces/x/sync")
	assert.Error(t, err)
}

type recordingLimiter struct {
	waits     int
	throttles []time.Duration
}

func (l *recordingLimiter) Wait(context.Context) error {
	l.waits++
	return nil
}

func (l *recordingLimiter) Throttle(_ context.Context, d time.Duration) error {
	l.throttles = append(l.throttles, d)
	return nil
}

func TestClient_RetriesRateLimitedRequests(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("X-Contentful-RateLimit-Reset", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"code":"en-US","name":"English","default":true}]}`))
	}))
	t.Cleanup(server.Close)

	limiter := &recordingLimiter{}
	client := NewClient(Config{BaseURL: server.URL, SpaceID: "sp"}, noopLogger()).WithLimiter(limiter)

	locales, err := client.Locales(context.Background())
	require.NoError(t, err)
	assert.Len(t, locales, 1)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, limiter.waits)
	assert.Equal(t, []time.Duration{2 * time.Second}, limiter.throttles)
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	limiter := &recordingLimiter{}
	client := NewClient(Config{BaseURL: server.URL, SpaceID: "sp", MaxRetries: 2}, noopLogger()).WithLimiter(limiter)

	_, err := client.Locales(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Len(t, limiter.throttles, 2)
}
