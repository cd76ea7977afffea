package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

func testRegistry() *schema.Registry {
	return schema.NewRegistry(1).
		MustRegister(schema.AssetType("asset")).
		MustRegister(schema.DocumentType("person", "person", []string{"name"}, map[string]bool{"dog": false, "cats": true})).
		MustRegister(schema.DocumentType("dog", "dog", []string{"name"}, nil)).
		MustRegister(schema.DocumentType("cat", "cat", []string{"name"}, nil))
}

func create(t *testing.T, ctx context.Context, m *Memory, typeName, id, locale string) *models.Document {
	t.Helper()
	e, err := m.Create(ctx, typeName)
	require.NoError(t, err)
	doc := e.(*models.Document)
	doc.ID = id
	doc.LocaleCode = locale
	return doc
}

func TestMemory_CreateAndFetch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())

	create(t, ctx, m, "dog", "d1", "en-US")
	create(t, ctx, m, "dog", "d1", "es-MX")
	create(t, ctx, m, "dog", "d2", "en-US")

	all, err := m.FetchAll(ctx, "dog", Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byID, err := m.FetchAll(ctx, "dog", ByID("d1"))
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	one, err := m.FetchOne(ctx, "dog", ByKey("d1", "es-MX"))
	require.NoError(t, err)
	assert.Equal(t, "es-MX", one.System().LocaleCode)

	_, err = m.FetchOne(ctx, "dog", ByKey("missing", "en-US"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UnknownType(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())

	_, err := m.Create(ctx, "unicorn")
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = m.FetchAll(ctx, "unicorn", Filter{})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = m.PropertiesOf("unicorn")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestMemory_Properties(t *testing.T) {
	m := NewMemory(testRegistry())

	plain, err := m.PropertiesOf("person")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, plain)

	rels, err := m.RelationshipPropertiesOf("person")
	require.NoError(t, err)
	assert.Equal(t, []string{"cats", "dog"}, rels)
}

func TestMemory_DeleteNullifiesReferences(t *testing.T) {
	ctx := context.Background()
	registry := testRegistry()
	m := NewMemory(registry)

	dog := create(t, ctx, m, "dog", "d1", "en-US")
	c1 := create(t, ctx, m, "cat", "c1", "en-US")
	c2 := create(t, ctx, m, "cat", "c2", "en-US")
	person := create(t, ctx, m, "person", "p1", "en-US")

	desc, _ := registry.ByName("person")
	desc.Relationships["dog"].Set(person, []models.Entity{dog})
	desc.Relationships["cats"].Set(person, []models.Entity{c1, c2})

	n, err := m.Delete(ctx, "dog", ByID("d1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, person.LinkIDs("dog"))

	_, err = m.Delete(ctx, "cat", ByKey("c1", "en-US"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, person.LinkIDs("cats"))
}

func TestMemory_DeleteOnlyTouchesMatchingLocale(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())

	create(t, ctx, m, "dog", "d1", "en-US")
	create(t, ctx, m, "dog", "d1", "es-MX")

	n, err := m.Delete(ctx, "dog", ByKey("d1", "en-US"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Count("dog"))
}

func TestMemory_CursorAndWipe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())

	cursor, err := m.Cursor(ctx)
	require.NoError(t, err)
	assert.Nil(t, cursor)

	require.NoError(t, m.SetCursor(ctx, &models.SyncCursor{SyncToken: "t1", SchemaVersion: 1}))
	create(t, ctx, m, "dog", "d1", "en-US")

	cursor, err = m.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", cursor.SyncToken)
	assert.False(t, cursor.UpdatedAt.IsZero())

	require.NoError(t, m.Wipe(ctx))
	cursor, err = m.Cursor(ctx)
	require.NoError(t, err)
	assert.Nil(t, cursor)
	assert.Zero(t, m.Count("dog"))
}

func TestMemory_CursorPersistsOnlyOnSuccessfulSave(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())
	m.SetSaveError(errors.New("disk full"))

	require.NoError(t, m.SetCursor(ctx, &models.SyncCursor{SyncToken: "t1", SchemaVersion: 1}))
	require.Error(t, m.Save(ctx))
	assert.Nil(t, m.SavedCursor())

	cursor, err := m.Cursor(ctx)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, "t1", cursor.SyncToken)

	m.SetSaveError(nil)
	require.NoError(t, m.Save(ctx))
	require.NotNil(t, m.SavedCursor())
	assert.Equal(t, "t1", m.SavedCursor().SyncToken)

	require.NoError(t, m.SetCursor(ctx, &models.SyncCursor{SyncToken: "t2", SchemaVersion: 1}))
	m.SetSaveError(errors.New("disk full"))
	require.Error(t, m.Save(ctx))
	assert.Equal(t, "t1", m.SavedCursor().SyncToken)
}

func TestMemory_SaveFailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())
	boom := errors.New("disk full")

	m.SetSaveError(boom)
	assert.ErrorIs(t, m.Save(ctx), boom)
	assert.Zero(t, m.Saves())

	m.SetSaveError(nil)
	require.NoError(t, m.Save(ctx))
	assert.Equal(t, 1, m.Saves())
}

func TestMemory_RunExclusiveIsSerialAndOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())

	var (
		mu      sync.Mutex
		order   []int
		running int
		overlap bool
	)

	results := make([]<-chan error, 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		results = append(results, m.RunExclusive(ctx, func(ctx context.Context) error {
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			order = append(order, i)
			running--
			mu.Unlock()
			return nil
		}))
	}
	for _, ch := range results {
		require.NoError(t, <-ch)
	}

	assert.False(t, overlap)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestMemory_RunExclusiveBlockingReentrant(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testRegistry())

	inner := false
	err := m.RunExclusiveBlocking(ctx, func(ctx context.Context) error {
		return m.RunExclusiveBlocking(ctx, func(ctx context.Context) error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, inner)
}

func TestMemory_RunExclusiveCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory(testRegistry())

	called := false
	err := m.RunExclusiveBlocking(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
