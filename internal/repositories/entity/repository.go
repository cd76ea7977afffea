// Package entity is the PostgreSQL store adapter. It persists document-backed types only.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type rowRef struct {
	typeName string
	id       string
	locale   string
}

func (r rowRef) key() string {
	return r.typeName + "|" + models.CacheKey(r.id, r.locale)
}

type tracked struct {
	typeName string
	doc      *models.Document
	original string
}

// Repository keeps a unit of work in memory and writes it in one transaction on Save.
// Rows handed out before a Save are tracked by identity; changes made to them after that Save are not.
type Repository struct {
	db       database.DB
	registry *schema.Registry
	logger   ectologger.Logger
	exec     *store.Executor

	mu          sync.Mutex
	tracked     map[string]*tracked
	created     []*tracked
	deleted     map[string]rowRef
	cursor      *models.SyncCursor
	cursorDirty bool
	wiped       bool
}

func NewRepository(db database.DB, registry *schema.Registry, logger ectologger.Logger) *Repository {
	r := &Repository{
		db:       db,
		registry: registry,
		logger:   logger,
		exec:     store.NewExecutor(),
	}
	r.resetUnit()
	return r
}

func (r *Repository) resetUnit() {
	r.tracked = make(map[string]*tracked)
	r.created = nil
	r.deleted = make(map[string]rowRef)
	r.cursor = nil
	r.cursorDirty = false
	r.wiped = false
}

func (r *Repository) descriptor(typeName string) (*schema.TypeDescriptor, error) {
	desc, ok := r.registry.ByName(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownType, typeName)
	}
	if _, ok := desc.New().(*models.Document); !ok {
		return nil, &schema.ConfigurationError{Type: typeName, Message: "postgres store only persists document types"}
	}
	return desc, nil
}

func (r *Repository) Create(ctx context.Context, typeName string) (models.Entity, error) {
	desc, err := r.descriptor(typeName)
	if err != nil {
		return nil, err
	}
	doc := desc.New().(*models.Document)
	doc.Type = typeName

	r.mu.Lock()
	r.created = append(r.created, &tracked{typeName: typeName, doc: doc})
	r.mu.Unlock()
	return doc, nil
}

// indexCreated keys created rows once their id is set. Rows still without one stay staged.
func (r *Repository) indexCreated() {
	var waiting []*tracked
	for _, t := range r.created {
		if t.doc.ID == "" {
			waiting = append(waiting, t)
			continue
		}
		ref := rowRef{typeName: t.typeName, id: t.doc.ID, locale: t.doc.LocaleCode}
		r.tracked[ref.key()] = t
		delete(r.deleted, ref.key())
	}
	r.created = waiting
}

func (r *Repository) FetchAll(ctx context.Context, typeName string, filter store.Filter) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.FetchAll")
	defer span.End()

	if _, err := r.descriptor(typeName); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.fetchLocked(ctx, typeName, filter)
	if err != nil {
		return nil, err
	}
	result := make([]models.Entity, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc)
	}
	return result, nil
}

func (r *Repository) fetchLocked(ctx context.Context, typeName string, filter store.Filter) ([]*models.Document, error) {
	r.indexCreated()

	seen := make(map[string]struct{})
	var docs []*models.Document

	if !r.wiped {
		sb := entityStruct.SelectFrom(entityTable)
		sb.Where(sb.Equal("type", typeName))
		if filter.ID != "" {
			sb.Where(sb.Equal("id", filter.ID))
		}
		if filter.LocaleCode != nil {
			sb.Where(sb.Equal("locale_code", *filter.LocaleCode))
		}
		query, args := sb.Build()

		var rows []EntityRow
		if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"type": typeName,
				"id":   filter.ID,
			}).Error("error fetching entities")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error fetching entities")
		}

		for i := range rows {
			ref := rowRef{typeName: typeName, id: rows[i].ID, locale: rows[i].LocaleCode}
			key := ref.key()
			if _, gone := r.deleted[key]; gone {
				continue
			}
			t, ok := r.tracked[key]
			if !ok {
				doc := ToDocument(&rows[i])
				t = &tracked{typeName: typeName, doc: doc, original: fingerprint(doc)}
				r.tracked[key] = t
			}
			seen[key] = struct{}{}
			docs = append(docs, t.doc)
		}
	}

	for key, t := range r.tracked {
		if _, ok := seen[key]; ok || t.typeName != typeName {
			continue
		}
		if filter.Matches(t.doc.System()) {
			docs = append(docs, t.doc)
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		return models.CacheKey(docs[i].ID, docs[i].LocaleCode) < models.CacheKey(docs[j].ID, docs[j].LocaleCode)
	})
	return docs, nil
}

func (r *Repository) FetchOne(ctx context.Context, typeName string, filter store.Filter) (models.Entity, error) {
	rows, err := r.FetchAll(ctx, typeName, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func (r *Repository) Delete(ctx context.Context, typeName string, filter store.Filter) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Delete")
	defer span.End()

	if _, err := r.descriptor(typeName); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.fetchLocked(ctx, typeName, filter)
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		ref := rowRef{typeName: typeName, id: doc.ID, locale: doc.LocaleCode}
		delete(r.tracked, ref.key())
		r.deleted[ref.key()] = ref
	}
	return len(docs), nil
}

func (r *Repository) PropertiesOf(typeName string) ([]string, error) {
	desc, err := r.descriptor(typeName)
	if err != nil {
		return nil, err
	}
	return desc.Properties(), nil
}

func (r *Repository) RelationshipPropertiesOf(typeName string) ([]string, error) {
	desc, err := r.descriptor(typeName)
	if err != nil {
		return nil, err
	}
	return desc.RelationshipProperties(), nil
}

func (r *Repository) Cursor(ctx context.Context) (*models.SyncCursor, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Cursor")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursorDirty {
		if r.cursor == nil {
			return nil, nil
		}
		cursor := *r.cursor
		return &cursor, nil
	}
	if r.wiped {
		return nil, nil
	}

	sb := cursorStruct.SelectFrom(cursorTable)
	sb.Where(sb.Equal("name", defaultCursorName))
	query, args := sb.Build()

	var row CursorRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("error getting sync cursor")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "error getting sync cursor")
	}
	return ToCursor(&row), nil
}

// SetCursor stages the cursor; it is written by the next Save.
func (r *Repository) SetCursor(ctx context.Context, cursor *models.SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cursor != nil {
		staged := *cursor
		cursor = &staged
	}
	r.cursor = cursor
	r.cursorDirty = true
	return nil
}

// Wipe discards the unit of work and schedules every row and the cursor for deletion.
func (r *Repository) Wipe(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetUnit()
	r.wiped = true
	return nil
}

// Save writes the unit of work in one transaction.
func (r *Repository) Save(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Save")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexCreated()
	if len(r.created) > 0 {
		r.logger.WithContext(ctx).WithField("count", len(r.created)).Warn("dropping created rows without an id")
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if r.wiped {
		for _, table := range []string{entityTable, cursorTable} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				r.logger.WithContext(ctx).WithError(err).WithField("table", table).Error("error wiping table")
				return httperror.NewHTTPError(http.StatusInternalServerError, "error wiping store")
			}
		}
	}

	deletes := 0
	for _, ref := range r.deleted {
		db := database.NewDeleteBuilder()
		db.DeleteFrom(entityTable)
		db.Where(db.Equal("type", ref.typeName), db.Equal("id", ref.id), db.Equal("locale_code", ref.locale))
		query, args := db.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"type":   ref.typeName,
				"id":     ref.id,
				"locale": ref.locale,
			}).Error("error deleting entity")
			return httperror.NewHTTPError(http.StatusInternalServerError, "error deleting entity")
		}
		deletes++
	}

	// Rows are marked clean only after the commit; a rolled back save must write them again.
	type written struct {
		row         *tracked
		fingerprint string
	}
	var upserts []written
	for _, t := range r.tracked {
		current := fingerprint(t.doc)
		if t.original != "" && current == t.original {
			continue
		}
		if err := r.upsert(ctx, tx, t.doc); err != nil {
			return err
		}
		upserts = append(upserts, written{row: t, fingerprint: current})
	}

	if r.cursorDirty {
		if err := r.writeCursor(ctx, tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, w := range upserts {
		w.row.original = w.fingerprint
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"upserts": len(upserts),
		"deletes": deletes,
		"wiped":   r.wiped,
	}).Debug("Saved entity store")

	r.resetUnit()
	return nil
}

func (r *Repository) upsert(ctx context.Context, tx database.Tx, doc *models.Document) error {
	ib := entityStruct.InsertInto(entityTable, FromDocument(doc))
	ub := ib.OnConflict("type", "id", "locale_code")
	ub.Set(
		ub.Assign("content_type_id", database.Excluded("content_type_id")),
		ub.Assign("fields", database.Excluded("fields")),
		ub.Assign("links", database.Excluded("links")),
		ub.Assign("created_at", database.Excluded("created_at")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	query, args := ib.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"type":   doc.Type,
			"id":     doc.ID,
			"locale": doc.LocaleCode,
		}).Error("error upserting entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "error upserting entity")
	}
	return nil
}

func (r *Repository) writeCursor(ctx context.Context, tx database.Tx) error {
	if r.cursor == nil {
		db := database.NewDeleteBuilder()
		db.DeleteFrom(cursorTable)
		db.Where(db.Equal("name", defaultCursorName))
		query, args := db.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("error clearing sync cursor")
			return httperror.NewHTTPError(http.StatusInternalServerError, "error clearing sync cursor")
		}
		return nil
	}

	row := &CursorRow{
		Name:          defaultCursorName,
		SyncToken:     r.cursor.SyncToken,
		SchemaVersion: r.cursor.SchemaVersion,
		UpdatedAt:     r.cursor.UpdatedAt,
	}
	ib := cursorStruct.InsertInto(cursorTable, row)
	ub := ib.OnConflict("name")
	ub.Set(
		ub.Assign("sync_token", database.Excluded("sync_token")),
		ub.Assign("schema_version", database.Excluded("schema_version")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	query, args := ib.Build()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("sync_token", r.cursor.SyncToken).Error("error writing sync cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "error writing sync cursor")
	}
	return nil
}

func (r *Repository) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	return r.exec.Submit(ctx, fn)
}

func (r *Repository) RunExclusiveBlocking(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.exec.Run(ctx, fn)
}

// Count returns the number of persisted rows of a type, ignoring the unsaved unit of work.
func (r *Repository) Count(ctx context.Context, typeName string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Count")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(entityTable).Where(sb.Equal("type", typeName))
	query, args := sb.Build()

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("type", typeName).Error("error counting entities")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "error counting entities")
	}
	return count, nil
}

var _ store.Store = (*Repository)(nil)
