// Package events turns committed sync cycles into change events.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/syncer"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const defaultBatchSize = 500

// Publisher writes one batch of events.
type Publisher interface {
	Publish(ctx context.Context, events []*kafka.Event) error
}

// Emitter is a syncer.Observer that publishes one event per changed record and edge,
// followed by a sync.completed event.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	batchSize int
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
}

// WithBatchSize caps the number of events per publish call.
func (e *Emitter) WithBatchSize(n int) *Emitter {
	if n > 0 {
		e.batchSize = n
	}
	return e
}

func (e *Emitter) CycleCompleted(ctx context.Context, outcome *syncer.Outcome, changes *syncer.Changes) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.CycleCompleted")
	defer span.End()

	events, err := e.build(outcome, changes)
	if err != nil {
		return err
	}

	for start := 0; start < len(events); start += e.batchSize {
		end := min(start+e.batchSize, len(events))
		if err := e.publisher.Publish(ctx, events[start:end]); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"cycle_id":  outcome.CycleID,
				"published": start,
				"total":     len(events),
			}).Error("Failed to emit cycle events")
			return err
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"cycle_id": outcome.CycleID,
		"events":   len(events),
	}).Debug("Emitted cycle events")
	return nil
}

func (e *Emitter) build(outcome *syncer.Outcome, changes *syncer.Changes) ([]*kafka.Event, error) {
	var events []*kafka.Event
	add := func(eventType EventType, key string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		events = append(events, &kafka.Event{
			EventID:   uuid.NewString(),
			EventType: string(eventType),
			CycleID:   outcome.CycleID,
			Key:       key,
			Data:      data,
			Timestamp: outcome.FinishedAt,
		})
		return nil
	}

	if changes != nil {
		for _, ref := range changes.Upserted {
			if err := add(EventTypeRecordUpserted, ref.ID, ref); err != nil {
				return nil, err
			}
		}
		for _, ref := range changes.Deleted {
			if err := add(EventTypeRecordDeleted, ref.ID, ref); err != nil {
				return nil, err
			}
		}
		for _, edge := range changes.Edges {
			if err := add(EventTypeRelationshipBound, edge.ParentID, edgePayload{EdgeID: edge.ID(), Edge: edge}); err != nil {
				return nil, err
			}
		}
	}

	if err := add(EventTypeSyncCompleted, outcome.CycleID, outcome); err != nil {
		return nil, err
	}
	return events, nil
}
