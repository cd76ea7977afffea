// Package syncs serves the sync trigger, status and reset endpoints.
package syncs

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/syncer"
)

// Runner runs cycles and resets, serialized across instances.
type Runner interface {
	RunOnce(ctx context.Context) (*syncer.Outcome, error)
	Reset(ctx context.Context) error
}

type StatusProvider interface {
	Status() syncer.Status
}

type Handler struct {
	runner Runner
	status StatusProvider
	logger ectologger.Logger
}

func NewHandler(runner Runner, status StatusProvider, logger ectologger.Logger) *Handler {
	return &Handler{
		runner: runner,
		status: status,
		logger: logger,
	}
}

func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Trigger)
	g.GET("/status", h.Status)
	g.POST("/reset", h.Reset)
}

// Trigger runs one cycle and returns its outcome.
func (h *Handler) Trigger(c echo.Context) error {
	outcome, err := h.runner.RunOnce(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.status.Status())
}

// Reset wipes the local store so the next cycle is an initial sync.
func (h *Handler) Reset(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.runner.Reset(ctx); err != nil {
		return toHTTPError(err)
	}
	h.logger.WithContext(ctx).Info("Local store reset through API")
	return c.NoContent(http.StatusNoContent)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, syncer.ErrCycleInProgress), errors.Is(err, scheduler.ErrSyncLocked):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, syncer.ErrFetchFailed):
		return httperror.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, syncer.ErrUnknownLocale):
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case httperror.IsHTTPError(err):
		return err
	default:
		return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
