package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, e *echo.Echo, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestChecker(t *testing.T) {
	checker := NewChecker("1.2.3")
	healthy := true
	checker.AddCheck("database", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	})
	checker.AddCheck("redis", func(context.Context) error { return nil })

	e := echo.New()
	checker.RegisterRoutes(e)

	code, resp := serve(t, e, "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.2.3", resp.Version)

	code, resp = serve(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Checks, "startup")

	checker.SetReady(true)
	code, resp = serve(t, e, "/api/v1/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Checks["database"].Status)
	assert.Equal(t, StatusHealthy, resp.Checks["redis"].Status)

	healthy = false
	code, resp = serve(t, e, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["database"].Message)
}
