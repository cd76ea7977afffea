// Package store defines the persistence adapter the sync core writes through.
package store

import (
	"context"
	"errors"

	"github.com/Ramsey-B/fern/pkg/models"
)

var (
	// ErrNotFound is returned by FetchOne when no row matches.
	ErrNotFound = errors.New("entity not found")
	// ErrUnknownType is returned for type names that were never registered.
	ErrUnknownType = errors.New("unknown entity type")
)

// Filter selects rows by id and optionally by locale. A zero Filter matches every row.
type Filter struct {
	ID         string
	LocaleCode *string
}

// ByID matches every locale of an id.
func ByID(id string) Filter {
	return Filter{ID: id}
}

// ByKey matches a single (id, locale) row.
func ByKey(id, localeCode string) Filter {
	return Filter{ID: id, LocaleCode: &localeCode}
}

func (f Filter) Matches(sys *models.Sys) bool {
	if f.ID != "" && sys.ID != f.ID {
		return false
	}
	if f.LocaleCode != nil && sys.LocaleCode != *f.LocaleCode {
		return false
	}
	return true
}

// Store is the local persistence adapter.
//
// Mutations are only legal inside RunExclusive or RunExclusiveBlocking. Changes become durable on Save.
type Store interface {
	Create(ctx context.Context, typeName string) (models.Entity, error)
	Delete(ctx context.Context, typeName string, filter Filter) (int, error)
	FetchAll(ctx context.Context, typeName string, filter Filter) ([]models.Entity, error)
	FetchOne(ctx context.Context, typeName string, filter Filter) (models.Entity, error)

	PropertiesOf(typeName string) ([]string, error)
	RelationshipPropertiesOf(typeName string) ([]string, error)

	Cursor(ctx context.Context) (*models.SyncCursor, error)
	SetCursor(ctx context.Context, cursor *models.SyncCursor) error

	Save(ctx context.Context) error
	Wipe(ctx context.Context) error

	// RunExclusive queues fn on the store's execution context and returns immediately.
	// Blocks run one at a time in submission order; the channel receives fn's result.
	RunExclusive(ctx context.Context, fn func(ctx context.Context) error) <-chan error
	// RunExclusiveBlocking runs fn on the execution context and waits for it.
	RunExclusiveBlocking(ctx context.Context, fn func(ctx context.Context) error) error
}
