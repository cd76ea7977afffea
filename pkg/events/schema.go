package events

import "github.com/Ramsey-B/fern/pkg/models"

type EventType string

const (
	EventTypeRecordUpserted    EventType = "record.upserted"
	EventTypeRecordDeleted     EventType = "record.deleted"
	EventTypeRelationshipBound EventType = "relationship.bound"
	EventTypeSyncCompleted     EventType = "sync.completed"
)

// edgePayload is the data of a relationship.bound event.
type edgePayload struct {
	EdgeID string `json:"edge_id"`
	models.Edge
}
