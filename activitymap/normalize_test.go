package activitymap_test

import (
	"testing"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/activitymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatusChange(t *testing.T) {
	ts := time.Date(2026, 1, 10, 17, 30, 0, 0, time.FixedZone("PHT", 8*3600))
	event := alumni.ActivityEvent{
		EventType:  alumni.ActivityEventProfileStatusChanged,
		Actor:      alumni.ActorRef{ID: "registrar-42", Type: "user", Role: alumni.RoleRegistrar},
		ProfileID:  "profile-100",
		FromStatus: alumni.StatusPending,
		ToStatus:   alumni.StatusRejected,
		Metadata: map[string]any{
			"reason":                        "student id not on roster",
			activitymap.MetadataKeyToStatus: "forged",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "registrar-42", out.ActorID)
	assert.Equal(t, string(alumni.ActivityEventProfileStatusChanged), out.Verb)
	assert.Equal(t, activitymap.ObjectProfile, out.ObjectType)
	assert.Equal(t, "profile-100", out.ObjectID)
	assert.Equal(t, "profile-100", out.PartitionKey())
	assert.Equal(t, "alumni", out.Channel)
	assert.Equal(t, time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC), out.OccurredAt)

	assert.Equal(t, "student id not on roster", out.Metadata["reason"])
	assert.Equal(t, "user", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, string(alumni.RoleRegistrar), out.Metadata[activitymap.MetadataKeyActorRole])
	assert.Equal(t, string(alumni.StatusPending), out.Metadata[activitymap.MetadataKeyFromStatus])
	assert.Equal(t, string(alumni.StatusRejected), out.Metadata[activitymap.MetadataKeyToStatus])

	assert.Equal(t, "forged", event.Metadata[activitymap.MetadataKeyToStatus], "source metadata untouched")
}

func TestNormalizeMasksContactDetails(t *testing.T) {
	out := activitymap.Normalize(alumni.ActivityEvent{
		EventType: alumni.ActivityEventLoginFailure,
		Metadata: map[string]any{
			"email":         "ana.reyes@example.edu",
			"mobile_number": "+639171234567",
			"student_id":    "2019-00123",
		},
	}, activitymap.WithMaskedKeys("student_id"))

	assert.Equal(t, "a***@example.edu", out.Metadata["email"])
	assert.Equal(t, "***4567", out.Metadata["mobile_number"])
	assert.Equal(t, "***0123", out.Metadata["student_id"])

	assert.Equal(t, activitymap.ObjectSession, out.ObjectType)
	assert.Equal(t, "anonymous", out.ActorID)
	assert.Equal(t, "anonymous", out.PartitionKey())
	assert.False(t, out.OccurredAt.IsZero())
}

func TestNormalizeActors(t *testing.T) {
	cases := []struct {
		name       string
		event      alumni.ActivityEvent
		actor      string
		objectType string
	}{
		{
			name: "self service registration",
			event: alumni.ActivityEvent{
				EventType: alumni.ActivityEventRegistrationSubmit,
				ProfileID: "profile-7",
			},
			actor:      "profile-7",
			objectType: activitymap.ObjectProfile,
		},
		{
			name: "roster import by staff",
			event: alumni.ActivityEvent{
				EventType: alumni.ActivityEventMasterListImported,
				Actor:     alumni.ActorRef{ID: "admin-2", Type: "user", Role: alumni.RoleAdmin},
				Metadata:  map[string]any{"imported": 12},
			},
			actor:      "admin-2",
			objectType: activitymap.ObjectMasterList,
		},
		{
			name: "system actor without id",
			event: alumni.ActivityEvent{
				EventType: alumni.ActivityEventRegistrationOrphan,
				Actor:     alumni.ActorRef{Type: "system"},
				ProfileID: "profile-9",
			},
			actor:      "anonymous",
			objectType: activitymap.ObjectProfile,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := activitymap.Normalize(tc.event)
			assert.Equal(t, tc.actor, out.ActorID)
			assert.Equal(t, tc.objectType, out.ObjectType)
		})
	}
}

func TestNormalizeChannelOverride(t *testing.T) {
	out := activitymap.Normalize(alumni.ActivityEvent{EventType: alumni.ActivityEventLogout},
		activitymap.WithChannel("registrar"),
		activitymap.WithChannel("  "),
	)
	require.Equal(t, "registrar", out.Channel)
	assert.Nil(t, out.Metadata)
}
