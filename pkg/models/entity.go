// Package models holds the data types shared by the sync core and its adapters.
package models

import (
	"fmt"
	"time"
)

// Kind distinguishes the two remote resource families.
type Kind string

const (
	KindAsset Kind = "asset"
	KindEntry Kind = "entry"
)

// Sys is the system block every persisted row carries.
type Sys struct {
	ID            string    `json:"id" db:"id"`
	LocaleCode    string    `json:"locale_code" db:"locale_code"`
	ContentTypeID string    `json:"content_type_id" db:"content_type_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// System returns the receiver so any struct embedding Sys satisfies Entity.
func (s *Sys) System() *Sys {
	return s
}

// Entity is a local row mirrored from the remote source.
type Entity interface {
	System() *Sys
}

// CacheKey identifies an (id, locale) pair for lookups.
func CacheKey(id, localeCode string) string {
	return fmt.Sprintf("%s_%s", id, localeCode)
}

// Document is a schemaless entity: plain field values plus relationship child ids.
type Document struct {
	Sys
	Type   string              `json:"type"`
	Fields map[string]any      `json:"fields"`
	Links  map[string][]string `json:"links"`
}

// NewDocument creates an empty document of the given local type.
func NewDocument(typeName string) *Document {
	return &Document{
		Type:   typeName,
		Fields: make(map[string]any),
		Links:  make(map[string][]string),
	}
}

// Field returns a plain field value.
func (d *Document) Field(name string) any {
	return d.Fields[name]
}

// LinkIDs returns the child ids bound to a relationship property.
func (d *Document) LinkIDs(name string) []string {
	return d.Links[name]
}

// SyncCursor records sync progress for one store.
type SyncCursor struct {
	SyncToken     string    `json:"sync_token" db:"sync_token"`
	SchemaVersion int       `json:"schema_version" db:"schema_version"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
