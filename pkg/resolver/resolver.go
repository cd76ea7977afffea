// Package resolver binds pending relationship values to local rows at the end of a sync cycle.
package resolver

import (
	"context"
	"slices"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/relationships"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Result summarizes one resolution pass.
type Result struct {
	// Bound counts fields bound from a direct lookup.
	Bound int
	// Resurrected counts fields bound from the durable graph.
	Resurrected int
	// Cleared counts fields cleared by an explicit removal.
	Cleared int
	// Missed counts child ids that could not be found.
	Missed int
	// Edges are the edges recorded into the durable graph.
	Edges []models.Edge
}

type Option func(*Resolver)

// WithStoreLookup makes the resolver query the store per lookup instead of preloading every row.
func WithStoreLookup() Option {
	return func(r *Resolver) {
		r.perQuery = true
	}
}

type Resolver struct {
	registry *schema.Registry
	store    store.Store
	durable  *relationships.Store
	logger   ectologger.Logger
	perQuery bool
}

func NewResolver(registry *schema.Registry, st store.Store, durable *relationships.Store, logger ectologger.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		store:    st,
		durable:  durable,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve applies every pending relationship value, then rebinds durable edges that point at
// children applied this cycle (touched) whose parents were not re-sent. Pending is always drained.
func (r *Resolver) Resolve(ctx context.Context, pending *models.Pending, touched []string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolver.Resolve")
	defer span.End()
	defer pending.Clear()

	lookup, err := r.lookup(ctx)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to build relationship lookup")
		return nil, err
	}

	result := &Result{}

	keys := make([]string, 0, pending.Len())
	for key := range pending.Entries() {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry, _ := pending.Get(key)
		r.resolveEntry(ctx, lookup, entry, result)
	}

	r.resurrect(ctx, lookup, pending, touched, result)

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"pending":     len(keys),
		"bound":       result.Bound,
		"resurrected": result.Resurrected,
		"cleared":     result.Cleared,
		"missed":      result.Missed,
	}).Debug("Resolved relationships")

	return result, nil
}

func (r *Resolver) lookup(ctx context.Context) (Lookup, error) {
	if r.perQuery {
		return NewStoreLookup(r.store, r.registry, r.logger), nil
	}
	return NewCachedLookup(ctx, r.store, r.registry)
}

func (r *Resolver) resolveEntry(ctx context.Context, lookup Lookup, entry *models.PendingEntry, result *Result) {
	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"parent_type": entry.ParentType,
		"parent_id":   entry.ParentID,
		"locale":      entry.LocaleCode,
	})

	desc, ok := r.registry.ByName(entry.ParentType)
	if !ok {
		log.Warn("Pending relationships for unregistered type")
		return
	}
	parent, ok := lookup.Find(ctx, entry.ParentID, entry.LocaleCode)
	if !ok {
		log.Debug("Parent not found, dropping its pending relationships")
		result.Missed += len(entry.Fields)
		return
	}

	fields := make([]string, 0, len(entry.Fields))
	for field := range entry.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		prop, ok := desc.Relationships[field]
		if !ok {
			log.WithField("field", field).Warn("Pending value for unknown relationship property")
			continue
		}
		r.bindField(ctx, lookup, parent, entry, field, prop, entry.Fields[field], result)
	}
}

func (r *Resolver) bindField(ctx context.Context, lookup Lookup, parent models.Entity, entry *models.PendingEntry, field string, prop schema.RelationshipProperty, raw models.RawRelationship, result *Result) {
	switch raw.Kind {
	case models.RawClear:
		prop.Set(parent, nil)
		r.durable.DeleteField(entry.ParentID, field, entry.LocaleCode)
		result.Cleared++
		return
	case models.RawOne, models.RawMany:
	default:
		return
	}

	declared := models.Edge{
		ParentType: entry.ParentType,
		ParentID:   entry.ParentID,
		Field:      field,
		LocaleCode: entry.LocaleCode,
		Children:   models.Children{Many: raw.Kind == models.RawMany, IDs: slices.Clone(raw.IDs)},
	}

	found := r.findAll(ctx, lookup, raw.IDs, entry.LocaleCode)
	result.Missed += len(raw.IDs) - len(found)

	if len(found) > 0 {
		prop.Set(parent, found)
		r.durable.Add(declared)
		result.Bound++
		result.Edges = append(result.Edges, declared)
		return
	}

	if prior, ok := r.durable.Edge(entry.ParentID, field, entry.LocaleCode); ok {
		if children := r.findAll(ctx, lookup, prior.ChildIDs(), entry.LocaleCode); len(children) > 0 {
			prop.Set(parent, children)
			result.Resurrected++
			return
		}
	}

	// Keep the declared children so the binding completes when they arrive.
	r.durable.Add(declared)
	result.Edges = append(result.Edges, declared)
}

// resurrect rebinds durable edges that reference children applied this cycle.
func (r *Resolver) resurrect(ctx context.Context, lookup Lookup, pending *models.Pending, touched []string, result *Result) {
	seen := make(map[string]struct{})
	for _, childID := range touched {
		for _, edge := range r.durable.RelationshipsFor(childID) {
			id := edge.ID()
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			if pending.Has(edge.ParentType, edge.ParentID, edge.LocaleCode, edge.Field) {
				continue
			}
			desc, ok := r.registry.ByName(edge.ParentType)
			if !ok {
				continue
			}
			prop, ok := desc.Relationships[edge.Field]
			if !ok {
				continue
			}
			parent, ok := lookup.Find(ctx, edge.ParentID, edge.LocaleCode)
			if !ok {
				continue
			}

			children := r.findAll(ctx, lookup, edge.ChildIDs(), edge.LocaleCode)
			if len(children) == 0 {
				continue
			}
			if prop.Get != nil && slices.Equal(prop.Get(parent), idsOf(children, prop.Many)) {
				continue
			}

			prop.Set(parent, children)
			result.Resurrected++

			r.logger.WithContext(ctx).WithFields(map[string]any{
				"parent_id": edge.ParentID,
				"field":     edge.Field,
				"locale":    edge.LocaleCode,
				"child_id":  childID,
			}).Debug("Resurrected relationship")
		}
	}
}

func (r *Resolver) findAll(ctx context.Context, lookup Lookup, ids []string, localeCode string) []models.Entity {
	found := make([]models.Entity, 0, len(ids))
	for _, id := range ids {
		if row, ok := lookup.Find(ctx, id, localeCode); ok {
			found = append(found, row)
		}
	}
	return found
}

func idsOf(entities []models.Entity, many bool) []string {
	if !many && len(entities) > 1 {
		entities = entities[:1]
	}
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.System().ID)
	}
	return ids
}
