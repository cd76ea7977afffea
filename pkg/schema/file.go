package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk declaration of the local document types.
//
//	schema_version: 2
//	asset: Asset
//	types:
//	  - name: Post
//	    content_type: post
//	    fields: [title, body]
//	    relationships: {author: one, tags: many}
//	    field_mapping: {headline: title}
type File struct {
	SchemaVersion int        `yaml:"schema_version"`
	Asset         string     `yaml:"asset"`
	Types         []FileType `yaml:"types"`
}

type FileType struct {
	Name          string            `yaml:"name"`
	ContentType   string            `yaml:"content_type"`
	Fields        []string          `yaml:"fields"`
	Relationships map[string]string `yaml:"relationships"`
	FieldMapping  map[string]string `yaml:"field_mapping"`
}

// LoadFile reads a schema file and builds its registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML (or JSON) schema data.
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigurationError{Message: fmt.Sprintf("invalid schema file: %v", err)}
	}
	return file.Registry()
}

func (f *File) Registry() (*Registry, error) {
	registry := NewRegistry(f.SchemaVersion)

	if f.Asset != "" {
		if err := registry.Register(AssetType(f.Asset)); err != nil {
			return nil, err
		}
	}

	for _, t := range f.Types {
		relationships := make(map[string]bool, len(t.Relationships))
		for field, cardinality := range t.Relationships {
			switch cardinality {
			case "one":
				relationships[field] = false
			case "many":
				relationships[field] = true
			default:
				return nil, &ConfigurationError{Type: t.Name, Message: fmt.Sprintf("relationship '%s' must be 'one' or 'many', got '%s'", field, cardinality)}
			}
		}

		desc := DocumentType(t.Name, t.ContentType, t.Fields, relationships)
		if len(t.FieldMapping) > 0 {
			desc.FieldMapping = t.FieldMapping
		}
		if err := registry.Register(desc); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
