package render

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"plane-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_StatusChange(t *testing.T) {
	ev := models.NormalizedEvent{
		EventID:    "d-1",
		Type:       models.EventIssueUpdated,
		SourceKind: "issue",
		Action:     "updated",
		Entity:     models.EntityRef{Title: "Fix login flow"},
		Actor:      models.Actor{DisplayName: "Priya"},
		Changes: []models.Change{
			{Field: "state", OldValue: "Open", NewValue: "Done"},
		},
		Extra:      models.EventData{StateName: "Done"},
		OccurredAt: time.Now(),
	}

	msg := Render(ev)

	assert.Contains(t, msg.Title, "Fix login flow")
	assert.Equal(t, 0xF1C40F, msg.Color)

	var stateField *models.MessageField
	for i := range msg.Fields {
		if msg.Fields[i].Name == "State" {
			stateField = &msg.Fields[i]
			break
		}
	}
	require.NotNil(t, stateField)
	assert.Equal(t, "Done", stateField.Value)

	last := msg.Fields[len(msg.Fields)-1]
	assert.Equal(t, "State", last.Name)
	assert.Equal(t, "Open ➜ Done", last.Value)
}

func TestRender_OtherIsGeneric(t *testing.T) {
	ev := models.NormalizedEvent{
		EventID:    "d-2",
		Type:       models.EventOther,
		SourceKind: "page",
		Action:     "published",
		Entity:     models.EntityRef{Title: "Roadmap"},
		Actor:      models.Actor{DisplayName: "Ben"},
	}

	msg := Render(ev)

	assert.Contains(t, msg.Title, "Page event occurred")
	assert.Contains(t, msg.Title, "Roadmap")
	assert.Equal(t, 0x3498DB, msg.Color)
	assert.Len(t, msg.Fields, 3)

	// A placeholder entity title stays out of the generic title.
	ev.Entity.Title = "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"
	msg = Render(ev)
	assert.NotContains(t, msg.Title, "9b1deb4d")
}

// Render must be total: any event shape produces a non-empty title.
func TestRender_Total(t *testing.T) {
	types := []models.EventType{
		models.EventIssueCreated, models.EventIssueUpdated, models.EventIssueDeleted,
		models.EventCommentCreated, models.EventProjectUpdated, models.EventCycleCreated,
		models.EventOther,
	}
	kinds := []string{"issue", "project", "cycle", "issue_comment", "page", ""}
	actions := []string{"created", "updated", "deleted", "published", ""}

	rng := rand.New(rand.NewSource(1))
	randStr := func() string {
		choices := []string{
			"", "Fix login flow", "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
			"   ", "very long value", "—",
		}
		return choices[rng.Intn(len(choices))]
	}

	for i := 0; i < 100; i++ {
		ev := models.NormalizedEvent{
			EventID:    fmt.Sprintf("d-%d", i),
			Type:       types[rng.Intn(len(types))],
			SourceKind: kinds[rng.Intn(len(kinds))],
			Action:     actions[rng.Intn(len(actions))],
			Entity:     models.EntityRef{Title: randStr()},
			Actor:      models.Actor{DisplayName: randStr()},
		}
		if rng.Intn(2) == 0 {
			ev.Changes = []models.Change{{Field: randStr(), OldValue: randStr(), NewValue: randStr()}}
		}

		msg := Render(ev)
		assert.NotEmpty(t, msg.Title, "event %d rendered an empty title", i)
		assert.NotZero(t, msg.Color)
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "—", Sanitize(""))
	assert.Equal(t, "—", Sanitize("   "))
	assert.Equal(t, "—", Sanitize("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"))
	assert.Equal(t, "Done", Sanitize("Done"))
}

func TestRender_ClampsOverlongContent(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}

	ev := models.NormalizedEvent{
		EventID:    "d-3",
		Type:       models.EventIssueUpdated,
		SourceKind: "issue",
		Action:     "updated",
		Entity:     models.EntityRef{Title: string(long)},
		Actor:      models.Actor{DisplayName: "A"},
		Changes: []models.Change{
			{Field: "description", OldValue: string(long), NewValue: string(long)},
		},
	}

	msg := Render(ev)

	assert.LessOrEqual(t, len([]rune(msg.Title)), models.MaxTitleLen)
	for _, f := range msg.Fields {
		assert.LessOrEqual(t, len([]rune(f.Value)), models.MaxFieldValueLen)
	}
	assert.LessOrEqual(t, len(msg.Fields), models.MaxEmbedFields)
}
