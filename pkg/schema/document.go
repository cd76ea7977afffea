package schema

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
)

// DefaultAssetFields are the plain properties of the built-in asset type.
var DefaultAssetFields = []string{"title", "description", "url", "fileName", "contentType", "size", "width", "height"}

// DocumentType builds a descriptor whose instances are *models.Document.
// relationships maps a property name to whether it is to-many.
func DocumentType(name, contentTypeID string, fields []string, relationships map[string]bool) *TypeDescriptor {
	desc := &TypeDescriptor{
		Name:          name,
		Kind:          models.KindEntry,
		ContentTypeID: contentTypeID,
		New:           func() models.Entity { return models.NewDocument(name) },
		Fields:        make(map[string]FieldSetter, len(fields)),
		Relationships: make(map[string]RelationshipProperty, len(relationships)),
	}
	for _, field := range fields {
		desc.Fields[field] = documentFieldSetter(field)
	}
	for field, many := range relationships {
		desc.Relationships[field] = documentRelationship(field, many)
	}
	return desc
}

// AssetType builds the document-backed asset descriptor.
func AssetType(name string) *TypeDescriptor {
	desc := DocumentType(name, "", DefaultAssetFields, nil)
	desc.Kind = models.KindAsset
	return desc
}

func documentFieldSetter(field string) FieldSetter {
	return func(e models.Entity, value any) error {
		doc, ok := e.(*models.Document)
		if !ok {
			return fmt.Errorf("expected *models.Document, got %T", e)
		}
		if value == nil {
			delete(doc.Fields, field)
			return nil
		}
		doc.Fields[field] = value
		return nil
	}
}

func documentRelationship(field string, many bool) RelationshipProperty {
	return RelationshipProperty{
		Many: many,
		Set: func(e models.Entity, targets []models.Entity) {
			doc, ok := e.(*models.Document)
			if !ok {
				return
			}
			if len(targets) == 0 {
				delete(doc.Links, field)
				return
			}
			if !many {
				targets = targets[:1]
			}
			ids := make([]string, 0, len(targets))
			for _, target := range targets {
				ids = append(ids, target.System().ID)
			}
			doc.Links[field] = ids
		},
		Get: func(e models.Entity) []string {
			doc, ok := e.(*models.Document)
			if !ok {
				return nil
			}
			return doc.Links[field]
		},
	}
}
