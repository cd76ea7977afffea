// Package relationships keeps the durable relationship graph that outlives sync cycles.
package relationships

import (
	"context"
	"sort"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type fieldEdges map[string]models.Edge

// Store is the durable relationship graph.
// Forward index: locale -> parent id -> field -> edge. Reverse index: child id -> edge ids.
type Store struct {
	snapshot *snapshotFile
	logger   ectologger.Logger

	mu      sync.RWMutex
	loaded  bool
	dirty   bool
	forward map[string]map[string]fieldEdges
	reverse map[string]map[string]struct{}
	byID    map[string]models.Edge
}

// NewStore creates a store backed by the snapshot at path. An empty path keeps the graph in memory only.
func NewStore(path string, logger ectologger.Logger) *Store {
	s := &Store{logger: logger}
	if path != "" {
		s.snapshot = &snapshotFile{path: path}
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.forward = make(map[string]map[string]fieldEdges)
	s.reverse = make(map[string]map[string]struct{})
	s.byID = make(map[string]models.Edge)
}

func localeKey(localeCode string) string {
	if localeCode == "" {
		return models.NoLocale
	}
	return localeCode
}

// ensureLoaded reads the snapshot on first access. Must be called with the write lock held.
func (s *Store) ensureLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	if s.snapshot == nil {
		return
	}

	edges, err := s.snapshot.read()
	if err != nil {
		s.logger.WithError(err).WithField("path", s.snapshot.path).Warn("Discarding unreadable relationship snapshot")
		return
	}
	for _, edge := range edges {
		s.put(edge)
	}
	s.logger.WithField("edges", len(s.byID)).Debug("Loaded relationship snapshot")
}

func (s *Store) load() {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}
	s.mu.Lock()
	s.ensureLoaded()
	s.mu.Unlock()
}

// Add upserts an edge into its (locale, parent, field) slot, replacing any prior edge there.
func (s *Store) Add(edge models.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	s.put(edge)
	s.dirty = true
}

func (s *Store) put(edge models.Edge) {
	locale := localeKey(edge.LocaleCode)
	parents, ok := s.forward[locale]
	if !ok {
		parents = make(map[string]fieldEdges)
		s.forward[locale] = parents
	}
	fields, ok := parents[edge.ParentID]
	if !ok {
		fields = make(fieldEdges)
		parents[edge.ParentID] = fields
	}

	newID := edge.ID()
	newChildren := toSet(edge.ChildIDs())

	if old, ok := fields[edge.Field]; ok {
		oldID := old.ID()
		delete(s.byID, oldID)
		for _, child := range old.ChildIDs() {
			s.unindex(child, oldID)
		}
	}

	fields[edge.Field] = edge
	s.byID[newID] = edge
	for child := range newChildren {
		refs, ok := s.reverse[child]
		if !ok {
			refs = make(map[string]struct{})
			s.reverse[child] = refs
		}
		refs[newID] = struct{}{}
	}
}

func (s *Store) unindex(child, edgeID string) {
	refs, ok := s.reverse[child]
	if !ok {
		return
	}
	delete(refs, edgeID)
	if len(refs) == 0 {
		delete(s.reverse, child)
	}
}

func (s *Store) drop(edge models.Edge) {
	id := edge.ID()
	delete(s.byID, id)
	for _, child := range edge.ChildIDs() {
		s.unindex(child, id)
	}
}

// Delete removes every edge of a parent across all fields and locales.
func (s *Store) Delete(parentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	removed := 0
	for locale, parents := range s.forward {
		fields, ok := parents[parentID]
		if !ok {
			continue
		}
		for _, edge := range fields {
			s.drop(edge)
			removed++
		}
		delete(parents, parentID)
		if len(parents) == 0 {
			delete(s.forward, locale)
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// DeleteField removes exactly the edge in the (parent, field, locale) slot.
func (s *Store) DeleteField(parentID, field, localeCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded()

	locale := localeKey(localeCode)
	fields, ok := s.forward[locale][parentID]
	if !ok {
		return false
	}
	edge, ok := fields[field]
	if !ok {
		return false
	}

	s.drop(edge)
	delete(fields, field)
	if len(fields) == 0 {
		delete(s.forward[locale], parentID)
		if len(s.forward[locale]) == 0 {
			delete(s.forward, locale)
		}
	}
	s.dirty = true
	return true
}

// Edge returns the edge in a slot.
func (s *Store) Edge(parentID, field, localeCode string) (models.Edge, bool) {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, ok := s.forward[localeKey(localeCode)][parentID][field]
	return edge, ok
}

// RelationshipsFor returns every edge referencing the child, ordered by edge id.
func (s *Store) RelationshipsFor(childID string) []models.Edge {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.reverse[childID]
	edges := make([]models.Edge, 0, len(refs))
	for id := range refs {
		edges = append(edges, s.byID[id])
	}
	sortEdges(edges)
	return edges
}

// All returns every edge ordered by edge id.
func (s *Store) All() []models.Edge {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := make([]models.Edge, 0, len(s.byID))
	for _, edge := range s.byID {
		edges = append(edges, edge)
	}
	sortEdges(edges)
	return edges
}

func (s *Store) Len() int {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ReferencedChildren returns the number of distinct child ids in the reverse index.
func (s *Store) ReferencedChildren() int {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reverse)
}

// Wipe removes every edge.
func (s *Store) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.reset()
	s.dirty = true
}

// Save writes the snapshot if the graph changed since the last save.
// Failures are logged; the in-memory graph stays authoritative.
func (s *Store) Save(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Store.Save")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty || s.snapshot == nil {
		return
	}

	edges := make([]models.Edge, 0, len(s.byID))
	for _, edge := range s.byID {
		edges = append(edges, edge)
	}
	sortEdges(edges)

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"path":  s.snapshot.path,
		"edges": len(edges),
	})
	if err := s.snapshot.write(edges); err != nil {
		log.WithError(err).Error("Failed to save relationship snapshot")
		return
	}
	s.dirty = false
	log.Debug("Saved relationship snapshot")
}

func sortEdges(edges []models.Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID() < edges[j].ID() })
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
