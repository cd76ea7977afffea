package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

// staged is a created row whose id and locale are not known until the caller fills them in.
type staged struct {
	typeName string
	entity   models.Entity
}

// Memory is an in-process store. Row writes are visible immediately; Save only reports success or
// the injected failure. The cursor is staged like the database store: Cursor reads the staged value,
// and only a successful Save persists it. Deleting a row nullifies references to it held by other rows.
type Memory struct {
	registry *schema.Registry
	exec     *Executor

	mu     sync.RWMutex
	rows   map[string]map[string]models.Entity
	staged []staged
	cursor *models.SyncCursor
	saves  int

	stagedCursor *models.SyncCursor
	cursorDirty  bool

	saveErr   error
	createErr map[string]error
}

func NewMemory(registry *schema.Registry) *Memory {
	return &Memory{
		registry:  registry,
		exec:      NewExecutor(),
		rows:      make(map[string]map[string]models.Entity),
		createErr: make(map[string]error),
	}
}

// SetSaveError makes every following Save fail with err (nil restores success).
func (m *Memory) SetSaveError(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// SetCreateError makes Create fail for a type.
func (m *Memory) SetCreateError(typeName string, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.createErr, typeName)
	} else {
		m.createErr[typeName] = err
	}
	m.mu.Unlock()
}

// Saves returns how many times Save succeeded.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Count returns the number of rows of a type.
func (m *Memory) Count(typeName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexLocked()
	return len(m.rows[typeName])
}

func (m *Memory) descriptor(typeName string) (*schema.TypeDescriptor, error) {
	desc, ok := m.registry.ByName(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return desc, nil
}

func (m *Memory) Create(ctx context.Context, typeName string) (models.Entity, error) {
	desc, err := m.descriptor(typeName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[typeName]; err != nil {
		return nil, err
	}
	entity := desc.New()
	m.staged = append(m.staged, staged{typeName: typeName, entity: entity})
	return entity, nil
}

// indexLocked moves created rows into the keyed index once their sys block is populated.
func (m *Memory) indexLocked() {
	if len(m.staged) == 0 {
		return
	}
	for _, row := range m.staged {
		sys := row.entity.System()
		rows, ok := m.rows[row.typeName]
		if !ok {
			rows = make(map[string]models.Entity)
			m.rows[row.typeName] = rows
		}
		rows[models.CacheKey(sys.ID, sys.LocaleCode)] = row.entity
	}
	m.staged = nil
}

func (m *Memory) Delete(ctx context.Context, typeName string, filter Filter) (int, error) {
	if _, err := m.descriptor(typeName); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexLocked()

	removed := make(map[string]struct{})
	for key, row := range m.rows[typeName] {
		if filter.Matches(row.System()) {
			delete(m.rows[typeName], key)
			removed[key] = struct{}{}
		}
	}
	if len(removed) > 0 {
		m.nullify(removed)
	}
	return len(removed), nil
}

// nullify drops references to removed rows from every relationship property that exposes a getter.
func (m *Memory) nullify(removed map[string]struct{}) {
	for _, desc := range m.registry.Types() {
		for _, prop := range desc.Relationships {
			if prop.Get == nil {
				continue
			}
			for _, row := range m.rows[desc.Name] {
				locale := row.System().LocaleCode
				ids := prop.Get(row)
				kept := make([]models.Entity, 0, len(ids))
				changed := false
				for _, id := range ids {
					key := models.CacheKey(id, locale)
					if _, gone := removed[key]; gone {
						changed = true
						continue
					}
					if target, ok := m.findLocked(key); ok {
						kept = append(kept, target)
					}
				}
				if changed {
					prop.Set(row, kept)
				}
			}
		}
	}
}

func (m *Memory) findLocked(key string) (models.Entity, bool) {
	for _, rows := range m.rows {
		if row, ok := rows[key]; ok {
			return row, true
		}
	}
	return nil, false
}

func (m *Memory) FetchAll(ctx context.Context, typeName string, filter Filter) ([]models.Entity, error) {
	if _, err := m.descriptor(typeName); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexLocked()

	keys := make([]string, 0, len(m.rows[typeName]))
	for key, row := range m.rows[typeName] {
		if filter.Matches(row.System()) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	result := make([]models.Entity, 0, len(keys))
	for _, key := range keys {
		result = append(result, m.rows[typeName][key])
	}
	return result, nil
}

func (m *Memory) FetchOne(ctx context.Context, typeName string, filter Filter) (models.Entity, error) {
	rows, err := m.FetchAll(ctx, typeName, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (m *Memory) PropertiesOf(typeName string) ([]string, error) {
	desc, err := m.descriptor(typeName)
	if err != nil {
		return nil, err
	}
	return desc.Properties(), nil
}

func (m *Memory) RelationshipPropertiesOf(typeName string) ([]string, error) {
	desc, err := m.descriptor(typeName)
	if err != nil {
		return nil, err
	}
	return desc.RelationshipProperties(), nil
}

func (m *Memory) Cursor(ctx context.Context) (*models.SyncCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cursorDirty {
		return copyCursor(m.stagedCursor), nil
	}
	return copyCursor(m.cursor), nil
}

// SavedCursor returns the cursor as of the last successful Save.
func (m *Memory) SavedCursor() *models.SyncCursor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyCursor(m.cursor)
}

// SetCursor stages the cursor; it is persisted by the next successful Save.
func (m *Memory) SetCursor(ctx context.Context, cursor *models.SyncCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursorDirty = true
	if cursor == nil {
		m.stagedCursor = nil
		return nil
	}
	stored := *cursor
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	m.stagedCursor = &stored
	return nil
}

func (m *Memory) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexLocked()
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.cursorDirty {
		m.cursor = m.stagedCursor
		m.stagedCursor = nil
		m.cursorDirty = false
	}
	m.saves++
	return nil
}

func copyCursor(cursor *models.SyncCursor) *models.SyncCursor {
	if cursor == nil {
		return nil
	}
	c := *cursor
	return &c
}

func (m *Memory) Wipe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[string]map[string]models.Entity)
	m.staged = nil
	m.cursor = nil
	m.stagedCursor = nil
	m.cursorDirty = false
	return nil
}

func (m *Memory) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) <-chan error {
	return m.exec.Submit(ctx, fn)
}

func (m *Memory) RunExclusiveBlocking(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.exec.Run(ctx, fn)
}
