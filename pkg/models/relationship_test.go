package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeID_SingleChildWithoutLocale(t *testing.T) {
	for i := 0; i < 3; i++ {
		edge := Edge{ParentType: "person", ParentID: "p1", Field: "dog", Children: One("d1")}
		assert.Equal(t, "person,p1,dog,d1,-", edge.ID())
	}
}

func TestEdgeID_ManyIsOrderIndependent(t *testing.T) {
	a := Edge{ParentType: "person", ParentID: "p1", Field: "cats", LocaleCode: "en-US", Children: ManyOf("c2", "c1")}
	b := Edge{ParentType: "person", ParentID: "p1", Field: "cats", LocaleCode: "en-US", Children: ManyOf("c1", "c2")}

	assert.Equal(t, "person,p1,cats,c1,c2,en-US", a.ID())
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, []string{"c2", "c1"}, a.Children.IDs, "sorting for the id must not reorder the edge")
}

func TestEdge_ChildIDsDeduplicates(t *testing.T) {
	edge := Edge{Children: ManyOf("a", "b", "a")}
	assert.Equal(t, []string{"a", "b"}, edge.ChildIDs())
}

func TestPending_SetOverwritesAndClears(t *testing.T) {
	p := NewPending()
	p.Set("person", "p1", "en-US", "dog", RawOneOf("d1"))
	p.Set("person", "p1", "en-US", "dog", RawClearMarker())
	p.Set("person", "p1", "es-MX", "dog", RawOneOf("d2"))

	assert.Equal(t, 2, p.Len())
	entry, ok := p.Get(PendingKey("person", "p1", "en-US"))
	assert.True(t, ok)
	assert.Equal(t, RawClear, entry.Fields["dog"].Kind)
	assert.True(t, p.Has("person", "p1", "es-MX", "dog"))
	assert.False(t, p.Has("person", "p1", "es-MX", "cat"))

	p.Clear()
	assert.Equal(t, 0, p.Len())
}

func TestPending_KeepsTypesSharingAnIDApart(t *testing.T) {
	p := NewPending()
	p.Set("person", "x1", "en-US", "dog", RawOneOf("d1"))
	p.Set("shelter", "x1", "en-US", "dog", RawOneOf("d2"))

	require.Equal(t, 2, p.Len())

	person, ok := p.Get(PendingKey("person", "x1", "en-US"))
	require.True(t, ok)
	assert.Equal(t, "person", person.ParentType)
	assert.Equal(t, []string{"d1"}, person.Fields["dog"].IDs)

	shelter, ok := p.Get(PendingKey("shelter", "x1", "en-US"))
	require.True(t, ok)
	assert.Equal(t, "shelter", shelter.ParentType)
	assert.Equal(t, []string{"d2"}, shelter.Fields["dog"].IDs)

	assert.False(t, p.Has("kennel", "x1", "en-US", "dog"))
}

func TestRemoteRecord_ValueFallsBackToDefaultLocale(t *testing.T) {
	r := RemoteRecord{Fields: map[string]map[string]any{
		"name": {"en-US": "Rex"},
	}}

	v, ok := r.Value("name", "es-MX", "en-US")
	assert.True(t, ok)
	assert.Equal(t, "Rex", v)

	_, ok = r.Value("name", "es-MX", "")
	assert.False(t, ok)

	_, ok = r.Value("age", "en-US", "en-US")
	assert.False(t, ok)
}
