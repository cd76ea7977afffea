package entity

import (
	"encoding/json"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	entityTable = "entities"
	cursorTable = "sync_cursors"

	defaultCursorName = "default"
)

type EntityRow struct {
	Type          string                              `db:"type"`
	ID            string                              `db:"id"`
	LocaleCode    string                              `db:"locale_code"`
	ContentTypeID string                              `db:"content_type_id"`
	Fields        database.JSONB[map[string]any]      `db:"fields"`
	Links         database.JSONB[map[string][]string] `db:"links"`
	CreatedAt     time.Time                           `db:"created_at"`
	UpdatedAt     time.Time                           `db:"updated_at"`
}

type CursorRow struct {
	Name          string    `db:"name"`
	SyncToken     string    `db:"sync_token"`
	SchemaVersion int       `db:"schema_version"`
	UpdatedAt     time.Time `db:"updated_at"`
}

var (
	entityStruct = database.NewStruct(new(EntityRow))
	cursorStruct = database.NewStruct(new(CursorRow))
)

func FromDocument(doc *models.Document) *EntityRow {
	fields := doc.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	links := doc.Links
	if links == nil {
		links = map[string][]string{}
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	return &EntityRow{
		Type:          doc.Type,
		ID:            doc.ID,
		LocaleCode:    doc.LocaleCode,
		ContentTypeID: doc.ContentTypeID,
		Fields:        database.NewJSONB(fields),
		Links:         database.NewJSONB(links),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

func ToDocument(row *EntityRow) *models.Document {
	doc := models.NewDocument(row.Type)
	doc.ID = row.ID
	doc.LocaleCode = row.LocaleCode
	doc.ContentTypeID = row.ContentTypeID
	doc.CreatedAt = row.CreatedAt
	doc.UpdatedAt = row.UpdatedAt
	for k, v := range row.Fields.Data {
		doc.Fields[k] = v
	}
	for k, v := range row.Links.Data {
		doc.Links[k] = v
	}
	return doc
}

func ToCursor(row *CursorRow) *models.SyncCursor {
	return &models.SyncCursor{
		SyncToken:     row.SyncToken,
		SchemaVersion: row.SchemaVersion,
		UpdatedAt:     row.UpdatedAt,
	}
}

// fingerprint is used to skip writing rows that did not change since they were loaded.
func fingerprint(doc *models.Document) string {
	b, err := json.Marshal(struct {
		Sys    models.Sys
		Fields map[string]any
		Links  map[string][]string
	}{doc.Sys, doc.Fields, doc.Links})
	if err != nil {
		return ""
	}
	return string(b)
}
