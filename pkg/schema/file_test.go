package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

const testSchema = `
schema_version: 3
asset: Asset
types:
  - name: Post
    content_type: post
    fields: [title, body]
    relationships:
      author: one
      tags: many
    field_mapping:
      headline: title
      author: author
  - name: Person
    content_type: person
    fields: [name]
`

func TestParse(t *testing.T) {
	registry, err := Parse([]byte(testSchema))
	require.NoError(t, err)
	assert.Equal(t, 3, registry.SchemaVersion())

	asset, ok := registry.Asset()
	require.True(t, ok)
	assert.Equal(t, models.KindAsset, asset.Kind)

	post, ok := registry.ByContentType("post")
	require.True(t, ok)
	assert.Equal(t, "Post", post.Name)
	assert.Equal(t, []string{"body", "title"}, post.Properties())
	assert.Equal(t, []string{"author", "tags"}, post.RelationshipProperties())
	assert.False(t, post.Relationships["author"].Many)
	assert.True(t, post.Relationships["tags"].Many)
	assert.Equal(t, "title", post.FieldMapping["headline"])

	_, ok = registry.ByName("Person")
	assert.True(t, ok)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("types: [not, a, type"))
	assert.True(t, IsConfigurationError(err))

	_, err = Parse([]byte(`
types:
  - name: Post
    content_type: post
    relationships: {author: several}
`))
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "several")

	_, err = Parse([]byte(`
types:
  - {name: Post, content_type: post}
  - {name: Article, content_type: post}
`))
	assert.True(t, IsConfigurationError(err))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o600))

	registry, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, registry.EntryTypes(), 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
