package syncer

import (
	"context"

	"github.com/Ramsey-B/fern/pkg/models"
)

// RecordRef identifies a local row touched by a cycle.
type RecordRef struct {
	Kind          models.Kind `json:"kind"`
	Type          string      `json:"type"`
	ID            string      `json:"id"`
	LocaleCode    string      `json:"locale_code,omitempty"`
	ContentTypeID string      `json:"content_type_id,omitempty"`
}

// Changes lists what a successful cycle wrote.
type Changes struct {
	Upserted []RecordRef
	Deleted  []RecordRef
	Edges    []models.Edge
}

// Observer is notified after a cycle is committed. Errors are logged and never fail the cycle.
type Observer interface {
	CycleCompleted(ctx context.Context, outcome *Outcome, changes *Changes) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, outcome *Outcome, changes *Changes) error

func (f ObserverFunc) CycleCompleted(ctx context.Context, outcome *Outcome, changes *Changes) error {
	return f(ctx, outcome, changes)
}
