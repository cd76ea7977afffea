package models

import "time"

// Locale is a locale published by the remote source.
type Locale struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsDefault bool   `json:"default"`
}

// Link is a reference to another remote resource by id.
type Link struct {
	ID       string `json:"id"`
	LinkType string `json:"link_type"`
}

// RemoteRecord is an asset or entry as delivered by the remote source.
// Fields are keyed by field name then locale code.
type RemoteRecord struct {
	ID            string
	ContentTypeID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Fields        map[string]map[string]any
}

// Value returns the field value for a locale, falling back to the fallback locale.
func (r RemoteRecord) Value(field, localeCode, fallback string) (any, bool) {
	values, ok := r.Fields[field]
	if !ok {
		return nil, false
	}
	if v, ok := values[localeCode]; ok {
		return v, true
	}
	if fallback != "" && fallback != localeCode {
		v, ok := values[fallback]
		return v, ok
	}
	return nil, false
}

// SyncPage is one page of a sync response.
// NextSyncToken is only set on the final page.
type SyncPage struct {
	Assets         []RemoteRecord
	Entries        []RemoteRecord
	DeletedAssets  []string
	DeletedEntries []string
	NextSyncToken  string
}
