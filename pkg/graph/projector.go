package graph

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/syncer"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// recordLabel is carried by every projected node so edges can target children of unknown type.
const recordLabel = "Record"

// Runner executes statements in one transaction.
type Runner interface {
	RunBatch(ctx context.Context, statements []Statement) error
}

// Projector is a syncer.Observer that mirrors changed records and relationship edges as graph nodes and edges.
type Projector struct {
	runner Runner
	logger ectologger.Logger
}

func NewProjector(runner Runner, logger ectologger.Logger) *Projector {
	return &Projector{
		runner: runner,
		logger: logger,
	}
}

func (p *Projector) CycleCompleted(ctx context.Context, outcome *syncer.Outcome, changes *syncer.Changes) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.CycleCompleted")
	defer span.End()

	if changes == nil {
		return nil
	}

	statements := Statements(changes)
	if err := p.runner.RunBatch(ctx, statements); err != nil {
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"cycle_id":   outcome.CycleID,
		"statements": len(statements),
	}).Debug("Projected cycle into graph")
	return nil
}

// Statements builds the projection of one cycle: node upserts, then edge replacement, then node deletes.
func Statements(changes *syncer.Changes) []Statement {
	statements := make([]Statement, 0, len(changes.Upserted)+len(changes.Edges)*2+len(changes.Deleted))

	for _, ref := range changes.Upserted {
		statements = append(statements, upsertNode(ref))
	}
	for _, edge := range changes.Edges {
		statements = append(statements, clearEdges(edge))
		if len(edge.Children.IDs) > 0 {
			statements = append(statements, mergeEdges(edge))
		}
	}
	for _, ref := range changes.Deleted {
		statements = append(statements, deleteNode(ref))
	}
	return statements
}

func upsertNode(ref syncer.RecordRef) Statement {
	return Statement{
		Cypher: fmt.Sprintf(`
			MERGE (n:%s {id: $id, locale_code: $locale_code})
			SET n:%s, n.type = $type, n.kind = $kind, n.content_type_id = $content_type_id
		`, recordLabel, sanitizeLabel(ref.Type)),
		Params: map[string]any{
			"id":              ref.ID,
			"locale_code":     ref.LocaleCode,
			"type":            ref.Type,
			"kind":            string(ref.Kind),
			"content_type_id": ref.ContentTypeID,
		},
	}
}

// deleteNode removes the record in its locale, or in every locale when the ref has none.
func deleteNode(ref syncer.RecordRef) Statement {
	where := "n.id = $id"
	params := map[string]any{"id": ref.ID}
	if ref.LocaleCode != "" {
		where += " AND n.locale_code = $locale_code"
		params["locale_code"] = ref.LocaleCode
	}
	return Statement{
		Cypher: fmt.Sprintf(`
			MATCH (n:%s)
			WHERE %s
			DETACH DELETE n
		`, recordLabel, where),
		Params: params,
	}
}

func clearEdges(edge models.Edge) Statement {
	return Statement{
		Cypher: fmt.Sprintf(`
			MATCH (p:%s {id: $parent_id, locale_code: $locale_code})-[r:%s]->()
			DELETE r
		`, recordLabel, relationshipType(edge.Field)),
		Params: map[string]any{
			"parent_id":   edge.ParentID,
			"locale_code": edge.LocaleCode,
		},
	}
}

// mergeEdges links the parent to each child. Children missing from the graph get a placeholder node.
func mergeEdges(edge models.Edge) Statement {
	children := make([]map[string]any, len(edge.Children.IDs))
	for i, id := range edge.Children.IDs {
		children[i] = map[string]any{"id": id, "position": i}
	}
	return Statement{
		Cypher: fmt.Sprintf(`
			MERGE (p:%[1]s {id: $parent_id, locale_code: $locale_code})
			WITH p
			UNWIND $children AS child
			MERGE (c:%[1]s {id: child.id, locale_code: $locale_code})
			MERGE (p)-[r:%[2]s {position: child.position}]->(c)
			SET r.edge_id = $edge_id, r.many = $many
		`, recordLabel, relationshipType(edge.Field)),
		Params: map[string]any{
			"parent_id":   edge.ParentID,
			"locale_code": edge.LocaleCode,
			"edge_id":     edge.ID(),
			"many":        edge.Children.Many,
			"children":    children,
		},
	}
}

// sanitizeLabel keeps only characters valid in an unquoted label.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return recordLabel
	}
	return b.String()
}

// relationshipType turns a field name like "relatedPosts" into RELATED_POSTS.
func relationshipType(field string) string {
	var b strings.Builder
	for i, c := range sanitizeLabel(field) {
		if unicode.IsUpper(c) && i > 0 {
			b.WriteRune('_')
		}
		b.WriteRune(unicode.ToUpper(c))
	}
	return b.String()
}
