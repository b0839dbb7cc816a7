// Package plane maps Plane's webhook wire schema onto the relay's internal
// event representation.
package plane

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"plane-relay/internal/models"
	"plane-relay/internal/verify"
)

var (
	// ErrMissingIdentity means no event id could be derived; without one the
	// duplicate guard cannot do its job, so this is a hard failure.
	ErrMissingIdentity = errors.New("webhook payload carries no event identity")
	// ErrUnrecognizedShape means the payload parsed as JSON but not as a
	// Plane webhook envelope.
	ErrUnrecognizedShape = errors.New("unrecognized webhook payload shape")
)

// payload mirrors the Plane webhook envelope. Everything inside data is
// loosely typed; only the fields the relay surfaces are pulled out.
type payload struct {
	Event    string                 `json:"event"`
	Action   string                 `json:"action"`
	Data     map[string]interface{} `json:"data"`
	Activity *activity              `json:"activity"`
}

type activity struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	Actor    *actor      `json:"actor"`
}

type actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// eventTypes is the closed mapping from Plane (event, action) pairs to the
// internal taxonomy. Anything absent maps to EventOther.
var eventTypes = map[string]models.EventType{
	"issue.created":         models.EventIssueCreated,
	"issue.updated":         models.EventIssueUpdated,
	"issue.deleted":         models.EventIssueDeleted,
	"issue_comment.created": models.EventCommentCreated,
	"issue_comment.updated": models.EventCommentUpdated,
	"issue_comment.deleted": models.EventCommentDeleted,
	"project.created":       models.EventProjectCreated,
	"project.updated":       models.EventProjectUpdated,
	"project.deleted":       models.EventProjectDeleted,
	"cycle.created":         models.EventCycleCreated,
	"cycle.updated":         models.EventCycleUpdated,
	"cycle.deleted":         models.EventCycleDeleted,
	"module.created":        models.EventModuleCreated,
	"module.updated":        models.EventModuleUpdated,
	"module.deleted":        models.EventModuleDeleted,
}

// Normalize converts a verified payload into the internal event form.
func Normalize(vp verify.VerifiedPayload, receivedAt time.Time) (models.NormalizedEvent, error) {
	var p payload
	if err := json.Unmarshal(vp.Body, &p); err != nil {
		return models.NormalizedEvent{}, ErrUnrecognizedShape
	}
	if p.Event == "" {
		return models.NormalizedEvent{}, ErrUnrecognizedShape
	}

	ev := models.NormalizedEvent{
		SourceKind: p.Event,
		Action:     normalizeAction(p.Action),
		ReceivedAt: receivedAt,
	}

	ev.EventID = vp.DeliveryID
	if ev.EventID == "" {
		if id := stringField(p.Data, "id"); id != "" {
			ev.EventID = fmt.Sprintf("%s:%s:%s", p.Event, id, ev.Action)
		}
	}
	if ev.EventID == "" {
		return models.NormalizedEvent{}, ErrMissingIdentity
	}

	key := p.Event + "." + ev.Action
	if t, ok := eventTypes[key]; ok {
		ev.Type = t
	} else {
		ev.Type = models.EventOther
	}

	ev.Entity = models.EntityRef{
		ProjectID: stringField(p.Data, "project"),
		EntityID:  stringField(p.Data, "id"),
		Title:     entityTitle(p),
		URL:       stringField(p.Data, "url"),
	}

	if p.Activity != nil && p.Activity.Actor != nil {
		ev.Actor = models.Actor{
			ID:          p.Activity.Actor.ID,
			DisplayName: p.Activity.Actor.DisplayName,
			AvatarURL:   p.Activity.Actor.AvatarURL,
		}
	}
	if ev.Actor.DisplayName == "" {
		ev.Actor.DisplayName = "Unknown"
	}

	if ch, ok := changeFromActivity(p); ok {
		ev.Changes = append(ev.Changes, ch)
	}

	ev.Extra = extraData(p.Data)
	ev.OccurredAt = occurredAt(p.Data, receivedAt)

	return ev, nil
}

// changeFromActivity extracts the single changed-field tuple Plane reports.
// Raw-id churn (assignee_id, parent_id, ...) is noise to a chat reader and is
// dropped; state_id is the exception, mapped through the state's current name.
func changeFromActivity(p payload) (models.Change, bool) {
	if p.Activity == nil || p.Activity.Field == "" {
		return models.Change{}, false
	}

	field := p.Activity.Field
	oldVal := Stringify(p.Activity.OldValue)
	newVal := Stringify(p.Activity.NewValue)

	if field == "state_id" || field == "state" {
		if name := nestedName(p.Data, "state"); name != "" {
			newVal = name
		}
		return models.Change{Field: "state", OldValue: oldVal, NewValue: newVal}, true
	}

	if strings.HasSuffix(field, "_id") {
		return models.Change{}, false
	}

	return models.Change{
		Field:    strings.ReplaceAll(field, "_", " "),
		OldValue: oldVal,
		NewValue: newVal,
	}, true
}

func entityTitle(p payload) string {
	switch p.Event {
	case "issue", "project", "cycle", "module":
		if name := stringField(p.Data, "name"); name != "" {
			return name
		}
	case "issue_comment":
		if name := stringField(p.Data, "issue_name"); name != "" {
			return name
		}
	}
	return capitalize(p.Event)
}

func extraData(data map[string]interface{}) models.EventData {
	extra := models.EventData{
		StateName: nestedName(data, "state"),
	}

	if raw, ok := data["assignees"].([]interface{}); ok {
		for _, a := range raw {
			if name := Stringify(a); name != "" {
				extra.Assignees = append(extra.Assignees, name)
			}
		}
	}

	if img := stringField(data, "cover_image_url"); img != "" {
		extra.CoverImage = img
	} else if img := stringField(data, "cover_image"); img != "" {
		extra.CoverImage = img
	}

	return extra
}

func occurredAt(data map[string]interface{}, fallback time.Time) time.Time {
	for _, key := range []string{"updated_at", "created_at"} {
		if raw := stringField(data, key); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				return ts
			}
		}
	}
	return fallback
}

// Stringify reduces an arbitrary JSON value to a display string. Lists join
// their elements; objects reduce to their first name-like key.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := Stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		for _, key := range []string{"display_name", "name", "title"} {
			if s := stringField(val, key); s != "" {
				return s
			}
		}
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func stringField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func nestedName(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	nested, _ := data[key].(map[string]interface{})
	return stringField(nested, "name")
}

func normalizeAction(action string) string {
	switch action {
	case "create", "created":
		return "created"
	case "update", "updated":
		return "updated"
	case "delete", "deleted":
		return "deleted"
	case "":
		return "unknown"
	default:
		return action
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
