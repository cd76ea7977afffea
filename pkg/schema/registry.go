// Package schema holds the explicit local type registry and the per content-type field mapping.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/models"
)

// FieldSetter assigns a plain remote value to a local property.
type FieldSetter func(e models.Entity, value any) error

// RelationshipProperty binds resolved targets to a local relationship property.
// Set with no targets clears the property. Get returns the bound child ids and may be nil.
type RelationshipProperty struct {
	Many bool
	Set  func(e models.Entity, targets []models.Entity)
	Get  func(e models.Entity) []string
}

// TypeDescriptor describes one registered local type.
type TypeDescriptor struct {
	Name          string                          `validate:"required"`
	Kind          models.Kind                     `validate:"required,oneof=asset entry"`
	ContentTypeID string                          `validate:"required_if=Kind entry"`
	New           func() models.Entity            `validate:"required"`
	Fields        map[string]FieldSetter          `validate:"-"`
	Relationships map[string]RelationshipProperty `validate:"-"`

	// FieldMapping maps remote field names to local property names.
	// Nil means identity over every declared property.
	FieldMapping map[string]string `validate:"-"`
}

// Properties returns the plain property names, sorted.
func (d *TypeDescriptor) Properties() []string {
	return sortedKeys(d.Fields)
}

// RelationshipProperties returns the relationship property names, sorted.
func (d *TypeDescriptor) RelationshipProperties() []string {
	return sortedKeys(d.Relationships)
}

func (d *TypeDescriptor) mappingKey() string {
	if d.Kind == models.KindAsset {
		return d.Name
	}
	return d.ContentTypeID
}

// ConfigurationError signals a mis-registered type. It is never transient.
type ConfigurationError struct {
	Type    string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Type == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: type '%s': %s", e.Type, e.Message)
}

func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

// Registry is the set of local types the mirror writes to.
type Registry struct {
	mu            sync.RWMutex
	byName        map[string]*TypeDescriptor
	byContentType map[string]*TypeDescriptor
	asset         *TypeDescriptor
	schemaVersion int
	validate      *validator.Validate
}

// NewRegistry creates an empty registry. schemaVersion is stored on the sync cursor;
// bumping it forces the next sync to start from scratch.
func NewRegistry(schemaVersion int) *Registry {
	return &Registry{
		byName:        make(map[string]*TypeDescriptor),
		byContentType: make(map[string]*TypeDescriptor),
		schemaVersion: schemaVersion,
		validate:      validator.New(),
	}
}

// Register adds a type. Registration errors are configuration errors.
func (r *Registry) Register(desc *TypeDescriptor) error {
	if desc == nil {
		return &ConfigurationError{Message: "nil type descriptor"}
	}
	if err := r.validate.Struct(desc); err != nil {
		return &ConfigurationError{Type: desc.Name, Message: err.Error()}
	}
	for name := range desc.Fields {
		if _, ok := desc.Relationships[name]; ok {
			return &ConfigurationError{Type: desc.Name, Message: fmt.Sprintf("property '%s' is both plain and relationship", name)}
		}
	}
	for name, prop := range desc.Relationships {
		if prop.Set == nil {
			return &ConfigurationError{Type: desc.Name, Message: fmt.Sprintf("relationship '%s' has no setter", name)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[desc.Name]; ok {
		return &ConfigurationError{Type: desc.Name, Message: "type already registered"}
	}

	switch desc.Kind {
	case models.KindAsset:
		if r.asset != nil {
			return &ConfigurationError{Type: desc.Name, Message: fmt.Sprintf("asset type already registered as '%s'", r.asset.Name)}
		}
		r.asset = desc
	case models.KindEntry:
		if existing, ok := r.byContentType[desc.ContentTypeID]; ok {
			return &ConfigurationError{Type: desc.Name, Message: fmt.Sprintf("content type '%s' already registered as '%s'", desc.ContentTypeID, existing.Name)}
		}
		r.byContentType[desc.ContentTypeID] = desc
	}

	r.byName[desc.Name] = desc
	return nil
}

// MustRegister registers a type and panics on configuration errors.
func (r *Registry) MustRegister(desc *TypeDescriptor) *Registry {
	if err := r.Register(desc); err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) ByName(name string) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byName[name]
	return desc, ok
}

func (r *Registry) ByContentType(contentTypeID string) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byContentType[contentTypeID]
	return desc, ok
}

// Asset returns the single asset type, if registered.
func (r *Registry) Asset() (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.asset, r.asset != nil
}

// EntryTypes returns every registered entry type ordered by name.
func (r *Registry) EntryTypes() []*TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]*TypeDescriptor, 0, len(r.byContentType))
	for _, desc := range r.byContentType {
		types = append(types, desc)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// Types returns every registered type, asset first.
func (r *Registry) Types() []*TypeDescriptor {
	types := r.EntryTypes()
	if asset, ok := r.Asset(); ok {
		types = append([]*TypeDescriptor{asset}, types...)
	}
	return types
}

func (r *Registry) SchemaVersion() int {
	return r.schemaVersion
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
