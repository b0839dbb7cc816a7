package plane

import (
	"testing"
	"time"

	"plane-relay/internal/models"
	"plane-relay/internal/verify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func verified(deliveryID string, body string) verify.VerifiedPayload {
	return verify.VerifiedPayload{
		DeliveryID: deliveryID,
		Body:       []byte(body),
	}
}

func TestNormalize_StatusChange(t *testing.T) {
	body := `{
		"event": "issue",
		"action": "updated",
		"data": {
			"id": "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d",
			"project": "f47ac10b-58cc-4372-a567-0e02b2c3d479",
			"name": "Fix login flow",
			"state": {"name": "Done"}
		},
		"activity": {
			"field": "state_id",
			"old_value": "Open",
			"new_value": "11111111-2222-3333-4444-555555555555",
			"actor": {"id": "u1", "display_name": "Priya", "avatar_url": "/avatars/u1.png"}
		}
	}`

	ev, err := Normalize(verified("d-42", body), now)
	require.NoError(t, err)

	assert.Equal(t, "d-42", ev.EventID)
	assert.Equal(t, models.EventIssueUpdated, ev.Type)
	assert.Equal(t, "Fix login flow", ev.Entity.Title)
	assert.Equal(t, "Priya", ev.Actor.DisplayName)
	require.Len(t, ev.Changes, 1)
	assert.Equal(t, models.Change{Field: "state", OldValue: "Open", NewValue: "Done"}, ev.Changes[0])
}

func TestNormalize_CreationHasNoChanges(t *testing.T) {
	body := `{
		"event": "issue",
		"action": "created",
		"data": {"id": "abc", "name": "New issue"}
	}`

	ev, err := Normalize(verified("d-1", body), now)
	require.NoError(t, err)

	assert.Equal(t, models.EventIssueCreated, ev.Type)
	assert.Empty(t, ev.Changes)
	assert.Equal(t, "Unknown", ev.Actor.DisplayName)
}

func TestNormalize_UnknownEventMapsToOther(t *testing.T) {
	body := `{"event": "page", "action": "published", "data": {"id": "p1", "name": "Roadmap"}}`

	ev, err := Normalize(verified("d-2", body), now)
	require.NoError(t, err)

	assert.Equal(t, models.EventOther, ev.Type)
	assert.Equal(t, "page", ev.SourceKind)
}

func TestNormalize_MissingIdentityFails(t *testing.T) {
	body := `{"event": "issue", "action": "created", "data": {"name": "no id here"}}`

	_, err := Normalize(verified("", body), now)
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestNormalize_FallbackIdentityFromData(t *testing.T) {
	body := `{"event": "issue", "action": "created", "data": {"id": "abc", "name": "n"}}`

	ev, err := Normalize(verified("", body), now)
	require.NoError(t, err)
	assert.Equal(t, "issue:abc:created", ev.EventID)
}

func TestNormalize_UnrecognizedShape(t *testing.T) {
	_, err := Normalize(verified("d-3", `{"hello": "world"}`), now)
	assert.ErrorIs(t, err, ErrUnrecognizedShape)

	_, err = Normalize(verified("d-4", `[1,2,3]`), now)
	assert.ErrorIs(t, err, ErrUnrecognizedShape)
}

func TestNormalize_DropsRawIDChurn(t *testing.T) {
	body := `{
		"event": "issue",
		"action": "updated",
		"data": {"id": "abc", "name": "n"},
		"activity": {"field": "parent_id", "old_value": null, "new_value": "some-uuid"}
	}`

	ev, err := Normalize(verified("d-5", body), now)
	require.NoError(t, err)
	assert.Empty(t, ev.Changes)
}

func TestNormalize_OccurredAtFromPayload(t *testing.T) {
	body := `{
		"event": "issue",
		"action": "updated",
		"data": {"id": "abc", "updated_at": "2026-08-28T09:30:00Z"}
	}`

	ev, err := Normalize(verified("d-6", body), now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC), ev.OccurredAt)
}

func TestNormalize_AssigneesReduced(t *testing.T) {
	body := `{
		"event": "issue",
		"action": "created",
		"data": {
			"id": "abc",
			"name": "n",
			"assignees": [{"display_name": "Ana"}, {"name": "Ben"}]
		}
	}`

	ev, err := Normalize(verified("d-7", body), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Ben"}, ev.Extra.Assignees)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "a, b", Stringify([]interface{}{"a", "", "b"}))
	assert.Equal(t, "Ana", Stringify(map[string]interface{}{"display_name": "Ana"}))
}
