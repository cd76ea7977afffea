package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/syncer"
)

type fakeRunner struct {
	batches [][]Statement
	err     error
}

func (r *fakeRunner) RunBatch(_ context.Context, statements []Statement) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, statements)
	return nil
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "BlogPost", sanitizeLabel("Blog Post"))
	assert.Equal(t, "Post_2", sanitizeLabel("Post_2`)"))
	assert.Equal(t, "Record", sanitizeLabel("---"))
}

func TestRelationshipType(t *testing.T) {
	assert.Equal(t, "AUTHOR", relationshipType("author"))
	assert.Equal(t, "RELATED_POSTS", relationshipType("relatedPosts"))
	assert.Equal(t, "HERO_IMAGE", relationshipType("hero-Image"))
}

func TestStatements(t *testing.T) {
	changes := &syncer.Changes{
		Upserted: []syncer.RecordRef{{Kind: models.KindEntry, Type: "Post", ID: "p1", LocaleCode: "en-US", ContentTypeID: "post"}},
		Deleted:  []syncer.RecordRef{{Kind: models.KindEntry, Type: "Post", ID: "p9"}},
		Edges: []models.Edge{
			{ParentType: "Post", ParentID: "p1", Field: "relatedPosts", LocaleCode: "en-US", Children: models.ManyOf("p2", "p3")},
			{ParentType: "Post", ParentID: "p1", Field: "author", LocaleCode: "en-US"},
		},
	}

	statements := Statements(changes)
	require.Len(t, statements, 5)

	assert.Contains(t, statements[0].Cypher, "MERGE (n:Record {id: $id, locale_code: $locale_code})")
	assert.Contains(t, statements[0].Cypher, "SET n:Post")
	assert.Equal(t, "entry", statements[0].Params["kind"])

	assert.Contains(t, statements[1].Cypher, "[r:RELATED_POSTS]")
	assert.Contains(t, statements[1].Cypher, "DELETE r")

	assert.Contains(t, statements[2].Cypher, "UNWIND $children AS child")
	assert.Equal(t, "Post,p1,relatedPosts,p2,p3,en-US", statements[2].Params["edge_id"])
	children := statements[2].Params["children"].([]map[string]any)
	require.Len(t, children, 2)
	assert.Equal(t, "p2", children[0]["id"])
	assert.Equal(t, 1, children[1]["position"])

	// an edge with no children only clears
	assert.Contains(t, statements[3].Cypher, "[r:AUTHOR]")

	assert.Contains(t, statements[4].Cypher, "DETACH DELETE n")
	assert.NotContains(t, statements[4].Cypher, "locale_code")
	assert.Equal(t, map[string]any{"id": "p9"}, statements[4].Params)
}

func TestProjector_CycleCompleted(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	outcome := &syncer.Outcome{CycleID: "c1"}

	t.Run("runs one batch", func(t *testing.T) {
		runner := &fakeRunner{}
		projector := NewProjector(runner, logger)
		err := projector.CycleCompleted(context.Background(), outcome, &syncer.Changes{
			Upserted: []syncer.RecordRef{{Type: "Asset", ID: "a1"}},
		})
		require.NoError(t, err)
		require.Len(t, runner.batches, 1)
		assert.Len(t, runner.batches[0], 1)
	})

	t.Run("nil changes are ignored", func(t *testing.T) {
		runner := &fakeRunner{}
		require.NoError(t, NewProjector(runner, logger).CycleCompleted(context.Background(), outcome, nil))
		assert.Empty(t, runner.batches)
	})

	t.Run("runner errors are returned", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("bolt closed")}
		err := NewProjector(runner, logger).CycleCompleted(context.Background(), outcome, &syncer.Changes{})
		assert.EqualError(t, err, "bolt closed")
	})
}
