package resolver

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Lookup finds a persisted row of any registered type by (id, locale).
type Lookup interface {
	Find(ctx context.Context, id, localeCode string) (models.Entity, bool)
}

// CachedLookup loads every row of every registered type once and answers from memory.
// It lives for one resolution pass.
type CachedLookup struct {
	rows map[string]models.Entity
}

func NewCachedLookup(ctx context.Context, st store.Store, registry *schema.Registry) (*CachedLookup, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.NewCachedLookup")
	defer span.End()

	lookup := &CachedLookup{rows: make(map[string]models.Entity)}
	for _, desc := range registry.Types() {
		rows, err := st.FetchAll(ctx, desc.Name, store.Filter{})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			sys := row.System()
			key := models.CacheKey(sys.ID, sys.LocaleCode)
			if _, ok := lookup.rows[key]; !ok {
				lookup.rows[key] = row
			}
		}
	}
	return lookup, nil
}

func (l *CachedLookup) Find(_ context.Context, id, localeCode string) (models.Entity, bool) {
	row, ok := l.rows[models.CacheKey(id, localeCode)]
	return row, ok
}

func (l *CachedLookup) Len() int {
	return len(l.rows)
}

// StoreLookup queries the store on every Find. Same results as CachedLookup, no upfront load.
type StoreLookup struct {
	store    store.Store
	registry *schema.Registry
	logger   ectologger.Logger
}

func NewStoreLookup(st store.Store, registry *schema.Registry, logger ectologger.Logger) *StoreLookup {
	return &StoreLookup{store: st, registry: registry, logger: logger}
}

func (l *StoreLookup) Find(ctx context.Context, id, localeCode string) (models.Entity, bool) {
	for _, desc := range l.registry.Types() {
		row, err := l.store.FetchOne(ctx, desc.Name, store.ByKey(id, localeCode))
		if err == nil {
			return row, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"type":   desc.Name,
				"id":     id,
				"locale": localeCode,
			}).Warn("Lookup query failed")
		}
	}
	return nil, false
}
