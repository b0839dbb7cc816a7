package models

import (
	"time"
)

// EventType is the closed set of event categories the relay understands.
// Unrecognized (event, action) combinations map to EventOther so new Plane
// event kinds are still relayed with best-effort rendering.
type EventType string

const (
	EventIssueCreated   EventType = "issue.created"
	EventIssueUpdated   EventType = "issue.updated"
	EventIssueDeleted   EventType = "issue.deleted"
	EventCommentCreated EventType = "comment.created"
	EventCommentUpdated EventType = "comment.updated"
	EventCommentDeleted EventType = "comment.deleted"
	EventProjectCreated EventType = "project.created"
	EventProjectUpdated EventType = "project.updated"
	EventProjectDeleted EventType = "project.deleted"
	EventCycleCreated   EventType = "cycle.created"
	EventCycleUpdated   EventType = "cycle.updated"
	EventCycleDeleted   EventType = "cycle.deleted"
	EventModuleCreated  EventType = "module.created"
	EventModuleUpdated  EventType = "module.updated"
	EventModuleDeleted  EventType = "module.deleted"
	EventOther          EventType = "other"
)

// Actor is the user that triggered an event.
type Actor struct {
	ID          string `json:"id" bson:"id"`
	DisplayName string `json:"display_name" bson:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
}

// EntityRef identifies the project entity the event concerns.
type EntityRef struct {
	ProjectID string `json:"project_id,omitempty" bson:"project_id,omitempty"`
	EntityID  string `json:"entity_id,omitempty" bson:"entity_id,omitempty"`
	Title     string `json:"title" bson:"title"`
	URL       string `json:"url,omitempty" bson:"url,omitempty"`
}

// Change is one (field, old, new) tuple for update-type events.
type Change struct {
	Field    string `json:"field" bson:"field"`
	OldValue string `json:"old_value" bson:"old_value"`
	NewValue string `json:"new_value" bson:"new_value"`
}

// NormalizedEvent is the typed internal representation of one Plane
// occurrence, independent of the wire schema. EventID is never empty for a
// successfully normalized event; the duplicate guard depends on it.
type NormalizedEvent struct {
	EventID    string    `json:"event_id" bson:"event_id"`
	Type       EventType `json:"event_type" bson:"event_type"`
	SourceKind string    `json:"source_kind" bson:"source_kind"` // raw Plane event name
	Action     string    `json:"action" bson:"action"`
	Entity     EntityRef `json:"entity" bson:"entity"`
	Actor      Actor     `json:"actor" bson:"actor"`
	Changes    []Change  `json:"changes,omitempty" bson:"changes,omitempty"`
	Extra      EventData `json:"extra,omitempty" bson:"extra,omitempty"`
	OccurredAt time.Time `json:"occurred_at" bson:"occurred_at"`
	ReceivedAt time.Time `json:"received_at" bson:"received_at"`
}

// EventData carries the loosely-typed leftovers a renderer rule may want
// (state name, assignees, cover image), already reduced to strings.
type EventData struct {
	StateName  string   `json:"state_name,omitempty" bson:"state_name,omitempty"`
	Assignees  []string `json:"assignees,omitempty" bson:"assignees,omitempty"`
	CoverImage string   `json:"cover_image,omitempty" bson:"cover_image,omitempty"`
}

// DeliveryOutcome is the terminal state of one relay attempt chain.
type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeFailed    DeliveryOutcome = "failed-permanently"
)

// DeliveryRecord is the dedup store entry for one event id. A record in a
// terminal outcome is never mutated again except by the retention sweep.
type DeliveryRecord struct {
	EventID   string          `bson:"_id"`
	Outcome   DeliveryOutcome `bson:"outcome,omitempty"`
	InFlight  bool            `bson:"in_flight"`
	ClaimedAt time.Time       `bson:"claimed_at,omitempty"`
	UpdatedAt time.Time       `bson:"updated_at"`
}
