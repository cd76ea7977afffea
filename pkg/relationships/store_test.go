package relationships

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func edge(parent, field, locale string, children models.Children) models.Edge {
	return models.Edge{ParentType: "person", ParentID: parent, Field: field, LocaleCode: locale, Children: children}
}

// assertConsistent checks that the reverse index holds exactly the children of current edges.
func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	expected := map[string]map[string]struct{}{}
	for _, e := range s.All() {
		for _, child := range e.ChildIDs() {
			if expected[child] == nil {
				expected[child] = map[string]struct{}{}
			}
			expected[child][e.ID()] = struct{}{}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, expected, s.reverse)
}

func TestStore_AddOverwritesSlot(t *testing.T) {
	s := NewStore("", noopLogger())

	s.Add(edge("P", "dog", "", models.One("A")))
	s.Add(edge("P", "dog", "", models.One("B")))

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.RelationshipsFor("A"))

	refs := s.RelationshipsFor("B")
	require.Len(t, refs, 1)
	assert.Equal(t, "person,P,dog,B,-", refs[0].ID())
	assertConsistent(t, s)
}

func TestStore_AddManyDiffsChildren(t *testing.T) {
	s := NewStore("", noopLogger())

	s.Add(edge("P", "cats", "en-US", models.ManyOf("c1", "c2")))
	s.Add(edge("P", "cats", "en-US", models.ManyOf("c2", "c3")))

	assert.Empty(t, s.RelationshipsFor("c1"))
	assert.Len(t, s.RelationshipsFor("c2"), 1)
	assert.Len(t, s.RelationshipsFor("c3"), 1)
	assertConsistent(t, s)
}

func TestStore_DeleteParentCascades(t *testing.T) {
	s := NewStore("", noopLogger())

	s.Add(edge("P", "dog", "en-US", models.One("d1")))
	s.Add(edge("P", "dog", "es-MX", models.One("d1")))
	s.Add(edge("P", "cats", "en-US", models.ManyOf("c1")))
	s.Add(edge("Q", "dog", "en-US", models.One("d1")))

	assert.Equal(t, 3, s.Delete("P"))

	assert.Equal(t, 1, s.Len())
	refs := s.RelationshipsFor("d1")
	require.Len(t, refs, 1)
	assert.Equal(t, "Q", refs[0].ParentID)
	assert.Empty(t, s.RelationshipsFor("c1"))
	assertConsistent(t, s)

	assert.Equal(t, 0, s.Delete("P"))
}

func TestStore_DeleteFieldPurgesExactlyOneSlot(t *testing.T) {
	s := NewStore("", noopLogger())

	s.Add(edge("P", "dog", "en-US", models.One("d1")))
	s.Add(edge("P", "dog", "es-MX", models.One("d1")))

	assert.True(t, s.DeleteField("P", "dog", "en-US"))
	assert.False(t, s.DeleteField("P", "dog", "en-US"))

	_, ok := s.Edge("P", "dog", "en-US")
	assert.False(t, ok)
	_, ok = s.Edge("P", "dog", "es-MX")
	assert.True(t, ok)
	assertConsistent(t, s)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relationships.bson")
	ctx := context.Background()

	s := NewStore(path, noopLogger())
	s.Add(edge("P", "dog", "", models.One("d1")))
	s.Add(edge("P", "cats", "en-US", models.ManyOf("c2", "c1")))
	s.Save(ctx)

	reloaded := NewStore(path, noopLogger())
	assert.Equal(t, 2, reloaded.Len())

	e, ok := reloaded.Edge("P", "cats", "en-US")
	require.True(t, ok)
	assert.Equal(t, []string{"c2", "c1"}, e.Children.IDs)
	assert.True(t, e.Children.Many)
	assert.Len(t, reloaded.RelationshipsFor("d1"), 1)
	assertConsistent(t, reloaded)
}

func TestStore_CorruptSnapshotLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relationships.bson")
	require.NoError(t, os.WriteFile(path, []byte("not bson"), 0o644))

	s := NewStore(path, noopLogger())
	assert.Equal(t, 0, s.Len())

	s.Add(edge("P", "dog", "", models.One("d1")))
	s.Save(context.Background())

	assert.Equal(t, 1, NewStore(path, noopLogger()).Len())
}

func TestStore_SaveFailureIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s := NewStore(filepath.Join(blocker, "relationships.bson"), noopLogger())
	s.Add(edge("P", "dog", "", models.One("d1")))

	assert.NotPanics(t, func() { s.Save(context.Background()) })
	assert.Equal(t, 1, s.Len())
}

func TestStore_Wipe(t *testing.T) {
	s := NewStore("", noopLogger())
	s.Add(edge("P", "dog", "", models.One("d1")))
	s.Wipe()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.ReferencedChildren())
}
