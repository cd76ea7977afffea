package schema

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"
)

// PropertySource enumerates the properties a store adapter can persist for a type.
type PropertySource interface {
	PropertiesOf(typeName string) ([]string, error)
	RelationshipPropertiesOf(typeName string) ([]string, error)
}

// FieldMapping partitions remote field names into plain and relationship fields,
// each mapped to the local property it is written to.
type FieldMapping struct {
	Plain         map[string]string
	Relationships map[string]string
}

func emptyMapping() FieldMapping {
	return FieldMapping{Plain: map[string]string{}, Relationships: map[string]string{}}
}

// Mapper computes and caches field mappings per content type.
type Mapper struct {
	registry *Registry
	source   PropertySource
	logger   ectologger.Logger
	strict   bool

	mu    sync.RWMutex
	cache map[string]FieldMapping
}

// NewMapper creates a mapper. In strict mode a type the store cannot enumerate panics;
// otherwise it gets an empty mapping and an error is logged.
func NewMapper(registry *Registry, source PropertySource, logger ectologger.Logger, strict bool) *Mapper {
	return &Mapper{
		registry: registry,
		source:   source,
		logger:   logger,
		strict:   strict,
		cache:    make(map[string]FieldMapping),
	}
}

// Mapping returns the partition for a registered entry content type.
func (m *Mapper) Mapping(contentTypeID string) (FieldMapping, error) {
	desc, ok := m.registry.ByContentType(contentTypeID)
	if !ok {
		return FieldMapping{}, &ConfigurationError{Type: contentTypeID, Message: "content type is not registered"}
	}
	return m.MappingFor(desc), nil
}

// AssetMapping returns the partition for the registered asset type.
func (m *Mapper) AssetMapping() (FieldMapping, error) {
	desc, ok := m.registry.Asset()
	if !ok {
		return FieldMapping{}, &ConfigurationError{Message: "no asset type registered"}
	}
	return m.MappingFor(desc), nil
}

// MappingFor returns the cached partition for a descriptor, computing it on first use.
func (m *Mapper) MappingFor(desc *TypeDescriptor) FieldMapping {
	key := desc.mappingKey()

	m.mu.RLock()
	mapping, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return mapping
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mapping, ok := m.cache[key]; ok {
		return mapping
	}

	mapping = m.compute(desc)
	m.cache[key] = mapping
	return mapping
}

// Invalidate drops the cached partition of one content type (or asset type name).
func (m *Mapper) Invalidate(key string) {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
}

// InvalidateAll drops every cached partition.
func (m *Mapper) InvalidateAll() {
	m.mu.Lock()
	m.cache = make(map[string]FieldMapping)
	m.mu.Unlock()
}

func (m *Mapper) compute(desc *TypeDescriptor) FieldMapping {
	log := m.logger.WithContext(context.Background()).WithFields(map[string]any{
		"type":            desc.Name,
		"content_type_id": desc.ContentTypeID,
	})

	plainProps, err := m.source.PropertiesOf(desc.Name)
	if err == nil {
		var relProps []string
		relProps, err = m.source.RelationshipPropertiesOf(desc.Name)
		if err == nil {
			return partition(desc, plainProps, relProps)
		}
	}

	cfgErr := &ConfigurationError{Type: desc.Name, Message: "store cannot enumerate properties: " + err.Error()}
	if m.strict {
		panic(cfgErr)
	}
	log.WithError(cfgErr).Error("Using empty field mapping for mis-registered type")
	return emptyMapping()
}

func partition(desc *TypeDescriptor, plainProps, relProps []string) FieldMapping {
	plain := toSet(plainProps)
	rels := toSet(relProps)

	declared := desc.FieldMapping
	if declared == nil {
		declared = make(map[string]string, len(plain)+len(rels))
		for prop := range plain {
			declared[prop] = prop
		}
		for prop := range rels {
			declared[prop] = prop
		}
	}

	mapping := emptyMapping()
	for remote, local := range declared {
		if _, ok := rels[local]; ok {
			mapping.Relationships[remote] = local
			continue
		}
		if _, ok := plain[local]; ok {
			mapping.Plain[remote] = local
		}
	}
	return mapping
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
