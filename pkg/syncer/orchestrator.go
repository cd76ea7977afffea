// Package syncer drives sync cycles: fetch, apply, resolve, persist, advance the cursor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/relationships"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Source is the remote content source.
type Source interface {
	// Locales lists the locales the source publishes.
	Locales(ctx context.Context) ([]models.Locale, error)
	// Sync streams pages starting at token ("" for a full sync). The last page carries the next token.
	Sync(ctx context.Context, token string, handle func(page *models.SyncPage) error) error
}

// Options configures an Orchestrator.
type Options struct {
	Localization Localization
	// StrictMapping panics on types the store cannot enumerate instead of mapping nothing.
	StrictMapping bool
	// PerQueryLookup resolves relationships with per-lookup store queries instead of a preloaded cache.
	PerQueryLookup bool
	Observers      []Observer
}

type Orchestrator struct {
	registry  *schema.Registry
	store     store.Store
	source    Source
	durable   *relationships.Store
	mapper    *schema.Mapper
	resolver  *resolver.Resolver
	logger    ectologger.Logger
	options   Options
	observers []Observer

	mu        sync.Mutex
	running   bool
	state     State
	mode      Mode
	locales   []models.Locale
	last      *Outcome
	lastError error
}

func NewOrchestrator(registry *schema.Registry, st store.Store, source Source, durable *relationships.Store, logger ectologger.Logger, opts Options) *Orchestrator {
	if opts.Localization.Scheme == "" {
		opts.Localization = DefaultLocale()
	}

	var resolverOpts []resolver.Option
	if opts.PerQueryLookup {
		resolverOpts = append(resolverOpts, resolver.WithStoreLookup())
	}

	return &Orchestrator{
		registry:  registry,
		store:     st,
		source:    source,
		durable:   durable,
		mapper:    schema.NewMapper(registry, st, logger, opts.StrictMapping),
		resolver:  resolver.NewResolver(registry, st, durable, logger, resolverOpts...),
		logger:    logger,
		options:   opts,
		observers: opts.Observers,
	}
}

// AddObserver registers an observer for committed cycles.
func (o *Orchestrator) AddObserver(observer Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, observer)
}

// Mapper exposes the field mapping cache so callers can invalidate it after schema changes.
func (o *Orchestrator) Mapper() *schema.Mapper {
	return o.mapper
}

func (o *Orchestrator) Durable() *relationships.Store {
	return o.durable
}

// Status returns the current state and the result of the last cycle.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := Status{State: o.state, LastOutcome: o.last}
	if o.state != StateIdle {
		status.Mode = o.mode
	}
	if o.lastError != nil {
		status.LastError = o.lastError.Error()
	}
	return status
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) finish(outcome *Outcome, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.state = StateIdle
	o.lastError = err
	if outcome != nil {
		o.last = outcome
	}
}

// Sync runs one cycle. A failure at any point leaves the stored cursor unchanged.
func (o *Orchestrator) Sync(ctx context.Context) (*Outcome, error) {
	if !o.begin() {
		return nil, ErrCycleInProgress
	}

	ctx, span := tracing.StartSpan(ctx, "syncer.Orchestrator.Sync")
	defer span.End()

	started := time.Now()
	outcome, changes, err := o.run(ctx)

	mode := ModeInitial
	if outcome != nil {
		mode = outcome.Mode
		outcome.Duration = time.Since(started)
		outcome.FinishedAt = time.Now().UTC()
	}
	metrics.SyncCycleDuration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.SyncCyclesTotal.WithLabelValues(string(mode), "failed").Inc()
		o.logger.WithContext(ctx).WithError(err).WithField("mode", mode).Error("Sync cycle failed")
		o.finish(nil, err)
		return nil, err
	}

	metrics.SyncCyclesTotal.WithLabelValues(string(mode), "succeeded").Inc()
	metrics.DurableEdges.Set(float64(o.durable.Len()))
	o.finish(outcome, nil)

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"cycle_id":    outcome.CycleID,
		"mode":        outcome.Mode,
		"pages":       outcome.Pages,
		"applied":     outcome.Applied,
		"skipped":     outcome.Skipped,
		"failed":      outcome.Failed,
		"deleted":     outcome.Deleted,
		"bound":       outcome.Bound,
		"resurrected": outcome.Resurrected,
		"cleared":     outcome.Cleared,
		"duration_ms": outcome.Duration.Milliseconds(),
	}).Info("Sync cycle completed")

	o.notify(ctx, outcome, changes)
	return outcome, nil
}

func (o *Orchestrator) run(ctx context.Context) (*Outcome, *Changes, error) {
	cursor, err := o.readCursor(ctx)
	if err != nil {
		return nil, nil, err
	}

	outcome := &Outcome{CycleID: uuid.New().String(), Mode: ModeInitial}
	token := ""
	if cursor != nil && cursor.SyncToken != "" {
		outcome.Mode = ModeDelta
		token = cursor.SyncToken
	}

	o.mu.Lock()
	o.mode = outcome.Mode
	o.mu.Unlock()
	o.setState(StateFetching)

	locales, fallback, err := o.targetLocales(ctx)
	if err != nil {
		return outcome, nil, err
	}

	c := &cycle{
		registry: o.registry,
		store:    o.store,
		mapper:   o.mapper,
		durable:  o.durable,
		logger:   o.logger,
		locales:  locales,
		fallback: fallback,
		pending:  models.NewPending(),
		touched:  make(map[string]struct{}),
		changes:  &Changes{},
		outcome:  outcome,
	}

	var (
		submitted []<-chan error
		nextToken string
	)
	fetchErr := o.source.Sync(ctx, token, func(page *models.SyncPage) error {
		o.setState(StateApplying)
		if page.NextSyncToken != "" {
			nextToken = page.NextSyncToken
		}
		submitted = append(submitted, o.store.RunExclusive(ctx, func(ctx context.Context) error {
			return c.applyPage(ctx, page)
		}))
		return nil
	})

	var applyErr error
	for _, done := range submitted {
		if err := <-done; err != nil && applyErr == nil {
			applyErr = err
		}
	}

	if fetchErr != nil {
		return outcome, nil, fmt.Errorf("%w: %w", ErrFetchFailed, fetchErr)
	}
	if applyErr != nil {
		return outcome, nil, applyErr
	}
	if nextToken == "" {
		return outcome, nil, fmt.Errorf("%w: source returned no sync token", ErrFetchFailed)
	}
	outcome.SyncToken = nextToken

	err = o.store.RunExclusiveBlocking(ctx, func(ctx context.Context) error {
		o.setState(StateResolving)
		result, err := o.resolver.Resolve(ctx, c.pending, c.order)
		if err != nil {
			return err
		}
		outcome.Bound = result.Bound
		outcome.Resurrected = result.Resurrected
		outcome.Cleared = result.Cleared
		outcome.Missed = result.Missed
		c.changes.Edges = result.Edges
		metrics.RelationshipsResolvedTotal.WithLabelValues("bound").Add(float64(result.Bound))
		metrics.RelationshipsResolvedTotal.WithLabelValues("resurrected").Add(float64(result.Resurrected))
		metrics.RelationshipsResolvedTotal.WithLabelValues("cleared").Add(float64(result.Cleared))
		metrics.RelationshipsResolvedTotal.WithLabelValues("missed").Add(float64(result.Missed))

		o.setState(StatePersisting)
		if err := o.store.Save(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
		o.durable.Save(ctx)

		if err := o.store.SetCursor(ctx, &models.SyncCursor{
			SyncToken:     nextToken,
			SchemaVersion: o.registry.SchemaVersion(),
			UpdatedAt:     time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
		if err := o.store.Save(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
		return nil
	})
	if err != nil {
		return outcome, nil, err
	}

	return outcome, c.changes, nil
}

// readCursor loads the cursor. A cursor written under another schema version wipes the store
// so the cycle starts from scratch.
func (o *Orchestrator) readCursor(ctx context.Context) (*models.SyncCursor, error) {
	var cursor *models.SyncCursor
	err := o.store.RunExclusiveBlocking(ctx, func(ctx context.Context) error {
		current, err := o.store.Cursor(ctx)
		if err != nil {
			return err
		}
		if current != nil && current.SchemaVersion != o.registry.SchemaVersion() {
			o.logger.WithContext(ctx).WithFields(map[string]any{
				"stored_version":  current.SchemaVersion,
				"current_version": o.registry.SchemaVersion(),
			}).Warn("Schema version changed, wiping local store")
			return o.wipe(ctx)
		}
		cursor = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read sync cursor: %w", err)
	}
	return cursor, nil
}

func (o *Orchestrator) targetLocales(ctx context.Context) ([]string, string, error) {
	o.mu.Lock()
	locales := o.locales
	o.mu.Unlock()

	if locales == nil {
		fetched, err := o.source.Locales(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("%w: list locales: %w", ErrFetchFailed, err)
		}
		o.mu.Lock()
		o.locales = fetched
		o.mu.Unlock()
		locales = fetched
	}

	return o.options.Localization.targets(locales)
}

// Reset wipes the local store, the durable graph and the cursor. The next Sync is an initial sync.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if !o.begin() {
		return ErrCycleInProgress
	}

	ctx, span := tracing.StartSpan(ctx, "syncer.Orchestrator.Reset")
	defer span.End()

	err := o.store.RunExclusiveBlocking(ctx, o.wipe)

	o.mu.Lock()
	o.running = false
	o.locales = nil
	o.mu.Unlock()

	if err != nil {
		o.logger.WithContext(ctx).WithError(err).Error("Failed to reset local store")
		return err
	}
	o.mapper.InvalidateAll()
	o.logger.WithContext(ctx).Info("Local store reset")
	return nil
}

func (o *Orchestrator) wipe(ctx context.Context) error {
	if err := o.store.Wipe(ctx); err != nil {
		return err
	}
	if err := o.store.Save(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	o.durable.Wipe()
	o.durable.Save(ctx)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, outcome *Outcome, changes *Changes) {
	o.mu.Lock()
	observers := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	for _, observer := range observers {
		if err := observer.CycleCompleted(ctx, outcome, changes); err != nil {
			o.logger.WithContext(ctx).WithError(err).WithField("cycle_id", outcome.CycleID).Warn("Sync observer failed")
		}
	}
}

// IsTransient reports whether a Sync error is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrCycleInProgress)
}
