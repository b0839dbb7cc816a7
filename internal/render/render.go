// Package render turns normalized events into Discord embed messages.
// Render is total: every event, including unrecognized ones, produces a
// valid message with a non-empty title.
package render

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"plane-relay/internal/models"
)

// Embed colors by action, matching the conventional traffic-light scheme.
const (
	colorCreate  = 0x2ECC71
	colorUpdate  = 0xF1C40F
	colorDelete  = 0xE74C3C
	colorDefault = 0x3498DB
)

var actionColors = map[string]int{
	"created": colorCreate,
	"updated": colorUpdate,
	"deleted": colorDelete,
}

var kindIcons = map[string]string{
	"issue":         "🐛",
	"project":       "📁",
	"cycle":         "🗓️",
	"module":        "📦",
	"issue_comment": "💬",
}

const defaultIcon = "ℹ️"

// rule describes how one event type is rendered. surface adds the
// type-specific fields after the common Event/Action/By block.
type rule struct {
	title   func(ev models.NormalizedEvent) string
	surface func(ev models.NormalizedEvent, fields []models.MessageField) []models.MessageField
}

var rules = map[models.EventType]rule{
	models.EventIssueCreated: {title: entityTitle, surface: issueFields},
	models.EventIssueUpdated: {title: entityTitle, surface: issueFields},
	models.EventIssueDeleted: {title: entityTitle, surface: nil},
	models.EventCommentCreated: {
		title:   func(ev models.NormalizedEvent) string { return "New comment on " + ev.Entity.Title },
		surface: nil,
	},
	models.EventCommentUpdated: {
		title:   func(ev models.NormalizedEvent) string { return "Comment edited on " + ev.Entity.Title },
		surface: nil,
	},
	models.EventCommentDeleted: {
		title:   func(ev models.NormalizedEvent) string { return "Comment removed from " + ev.Entity.Title },
		surface: nil,
	},
	models.EventProjectCreated: {title: entityTitle, surface: nil},
	models.EventProjectUpdated: {title: entityTitle, surface: nil},
	models.EventProjectDeleted: {title: entityTitle, surface: nil},
	models.EventCycleCreated:   {title: entityTitle, surface: nil},
	models.EventCycleUpdated:   {title: entityTitle, surface: nil},
	models.EventCycleDeleted:   {title: entityTitle, surface: nil},
	models.EventModuleCreated:  {title: entityTitle, surface: nil},
	models.EventModuleUpdated:  {title: entityTitle, surface: nil},
	models.EventModuleDeleted:  {title: entityTitle, surface: nil},
}

// Render maps an event to its chat message. No failure path: missing data
// degrades to the generic shape used for EventOther.
func Render(ev models.NormalizedEvent) models.RenderedMessage {
	r, known := rules[ev.Type]

	icon := kindIcons[ev.SourceKind]
	if icon == "" {
		icon = defaultIcon
	}

	color := actionColors[ev.Action]
	if color == 0 {
		color = colorDefault
	}

	fields := []models.MessageField{
		{Name: "Event", Value: Sanitize(ev.SourceKind), Inline: true},
		{Name: "Action", Value: Sanitize(ev.Action), Inline: true},
		{Name: "By", Value: Sanitize(ev.Actor.DisplayName), Inline: true},
	}

	var title string
	if known {
		title = r.title(ev)
		if r.surface != nil {
			fields = r.surface(ev, fields)
		}
		fields = changeFields(ev, fields)
	} else {
		// Generic rendering: entity and actor only, so an unexpected shape
		// can never break the message.
		title = fmt.Sprintf("%s event occurred", capitalize(ev.SourceKind))
		if t := Sanitize(ev.Entity.Title); t != "—" {
			title += ": " + t
		}
	}

	msg := models.RenderedMessage{
		Title:     fmt.Sprintf("%s  %s", icon, title),
		Color:     color,
		Fields:    fields,
		LinkURL:   ev.Entity.URL,
		Thumbnail: ev.Extra.CoverImage,
		Author:    models.MessageAuthor{Name: Sanitize(ev.Actor.DisplayName)},
		Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339),
	}
	msg.Clamp()
	return msg
}

func entityTitle(ev models.NormalizedEvent) string {
	if t := Sanitize(ev.Entity.Title); t != "—" {
		return t
	}
	return capitalize(ev.SourceKind)
}

func issueFields(ev models.NormalizedEvent, fields []models.MessageField) []models.MessageField {
	fields = append(fields, models.MessageField{
		Name: "State", Value: Sanitize(ev.Extra.StateName), Inline: true,
	})
	return append(fields, models.MessageField{
		Name: "Assignees", Value: Sanitize(strings.Join(ev.Extra.Assignees, ", ")), Inline: true,
	})
}

// changeFields appends one "old ➜ new" field per change.
func changeFields(ev models.NormalizedEvent, fields []models.MessageField) []models.MessageField {
	for _, ch := range ev.Changes {
		fields = append(fields, models.MessageField{
			Name:   capitalize(ch.Field),
			Value:  fmt.Sprintf("%s ➜ %s", Sanitize(ch.OldValue), Sanitize(ch.NewValue)),
			Inline: false,
		})
	}
	return fields
}

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Sanitize hides technical clutter from the chat reader: empty values and
// raw UUIDs both render as an em-dash placeholder.
func Sanitize(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || uuidRe.MatchString(value) {
		return "—"
	}
	return value
}

func capitalize(s string) string {
	if s == "" {
		return "Event"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
