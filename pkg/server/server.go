// Package server assembles the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/relationships"
	"github.com/Ramsey-B/fern/pkg/routes/syncs"
)

type Config struct {
	Port            int
	ServiceName     string
	ShutdownTimeout time.Duration
}

type Server struct {
	echo   *echo.Echo
	config Config
	logger ectologger.Logger
}

// New wires middleware and routes. Nil handlers leave their routes unregistered.
func New(config Config, logger ectologger.Logger, checker *health.Checker, sync *syncs.Handler, edges *relationships.Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(config.ServiceName))
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if checker != nil {
		checker.RegisterRoutes(e)
	}

	api := e.Group("/api/v1")
	if sync != nil {
		sync.Register(api.Group("/sync"))
	}
	if edges != nil {
		edges.Register(api.Group("/relationships"))
	}

	return &Server{echo: e, config: config, logger: logger}
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves in the background. Listen errors other than a clean shutdown are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithContext(ctx).WithError(err).Error("HTTP server stopped")
		}
	}()
	s.logger.WithContext(ctx).Infof("HTTP server listening on %s", addr)
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
