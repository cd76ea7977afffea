package models

import (
	"slices"
	"strings"
)

// NoLocale is the placeholder used in edge ids for locale-less edges.
const NoLocale = "-"

// Children is the target side of an edge: exactly one child or an ordered list.
type Children struct {
	Many bool     `json:"many" bson:"many"`
	IDs  []string `json:"ids" bson:"ids"`
}

// One builds a single-child target.
func One(id string) Children {
	return Children{IDs: []string{id}}
}

// ManyOf builds a to-many target preserving order.
func ManyOf(ids ...string) Children {
	return Children{Many: true, IDs: slices.Clone(ids)}
}

// Edge is a directed relationship from a parent field to its children.
type Edge struct {
	ParentType string   `json:"parent_type" bson:"parent_type"`
	ParentID   string   `json:"parent_id" bson:"parent_id"`
	Field      string   `json:"field" bson:"field"`
	LocaleCode string   `json:"locale_code,omitempty" bson:"locale_code,omitempty"`
	Children   Children `json:"children" bson:"children"`
}

// ID returns the deterministic composite identity of the edge.
// Child ids of to-many edges are sorted so ordering does not change the id.
func (e Edge) ID() string {
	children := e.Children.IDs
	if e.Children.Many {
		children = slices.Clone(children)
		slices.Sort(children)
	}

	locale := e.LocaleCode
	if locale == "" {
		locale = NoLocale
	}

	parts := make([]string, 0, len(children)+4)
	parts = append(parts, e.ParentType, e.ParentID, e.Field)
	parts = append(parts, children...)
	parts = append(parts, locale)
	return strings.Join(parts, ",")
}

// ChildIDs returns the distinct child ids referenced by the edge.
func (e Edge) ChildIDs() []string {
	seen := make(map[string]struct{}, len(e.Children.IDs))
	ids := make([]string, 0, len(e.Children.IDs))
	for _, id := range e.Children.IDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// RawKind tags a pending relationship value.
type RawKind int

const (
	RawMissing RawKind = iota
	RawOne
	RawMany
	RawClear
)

func (k RawKind) String() string {
	switch k {
	case RawOne:
		return "one"
	case RawMany:
		return "many"
	case RawClear:
		return "clear"
	default:
		return "missing"
	}
}

// RawRelationship is a relationship value as read from the remote, before resolution.
type RawRelationship struct {
	Kind RawKind
	IDs  []string
}

func RawOneOf(id string) RawRelationship {
	return RawRelationship{Kind: RawOne, IDs: []string{id}}
}

func RawManyOf(ids ...string) RawRelationship {
	return RawRelationship{Kind: RawMany, IDs: slices.Clone(ids)}
}

func RawClearMarker() RawRelationship {
	return RawRelationship{Kind: RawClear}
}

// PendingKey identifies one pending entry. Entry types may share ids, so the type is part of it.
func PendingKey(parentType, parentID, localeCode string) string {
	return parentType + "," + CacheKey(parentID, localeCode)
}

// PendingEntry collects the relationship fields read for one (parent type, parent, locale).
type PendingEntry struct {
	ParentType string
	ParentID   string
	LocaleCode string
	Fields     map[string]RawRelationship
}

// Pending is the per-cycle set of relationship values waiting for resolution.
type Pending struct {
	entries map[string]*PendingEntry
}

func NewPending() *Pending {
	return &Pending{entries: make(map[string]*PendingEntry)}
}

// Set records the raw value of one relationship field, replacing any earlier value.
func (p *Pending) Set(parentType, parentID, localeCode, field string, raw RawRelationship) {
	key := PendingKey(parentType, parentID, localeCode)
	entry, ok := p.entries[key]
	if !ok {
		entry = &PendingEntry{
			ParentType: parentType,
			ParentID:   parentID,
			LocaleCode: localeCode,
			Fields:     make(map[string]RawRelationship),
		}
		p.entries[key] = entry
	}
	entry.Fields[field] = raw
}

// Get returns the entry for a pending key.
func (p *Pending) Get(key string) (*PendingEntry, bool) {
	entry, ok := p.entries[key]
	return entry, ok
}

// Has reports whether a field of the given parent is pending.
func (p *Pending) Has(parentType, parentID, localeCode, field string) bool {
	entry, ok := p.entries[PendingKey(parentType, parentID, localeCode)]
	if !ok {
		return false
	}
	_, ok = entry.Fields[field]
	return ok
}

// Entries returns the pending entries keyed by pending key.
func (p *Pending) Entries() map[string]*PendingEntry {
	return p.entries
}

func (p *Pending) Len() int {
	return len(p.entries)
}

func (p *Pending) Clear() {
	p.entries = make(map[string]*PendingEntry)
}
