// Package activitymap flattens portal activity events into the record
// published on the activity topic.
package activitymap

import (
	"strings"
	"time"

	alumni "github.com/goliatone/go-alumni"
)

// Metadata keys added to every record.
const (
	MetadataKeyActorType  = "actor_type"
	MetadataKeyActorRole  = "actor_role"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
)

// Object types a record can refer to.
const (
	ObjectProfile    = "profile"
	ObjectSession    = "session"
	ObjectMasterList = "master_list"
)

const defaultChannel = "alumni"

// Record is what downstream consumers see. Contact details in metadata are
// masked before they leave the portal.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// PartitionKey keeps every event about one profile on one partition.
// Anonymous events such as failed logins fall back to the actor.
func (r Record) PartitionKey() string {
	if r.ObjectID != "" {
		return r.ObjectID
	}
	return r.ActorID
}

// Option tunes Normalize.
type Option func(*mapper)

// WithChannel overrides the "alumni" channel.
func WithChannel(channel string) Option {
	return func(m *mapper) {
		if channel = strings.TrimSpace(channel); channel != "" {
			m.channel = channel
		}
	}
}

// WithMaskedKeys adds metadata keys whose values are masked.
func WithMaskedKeys(keys ...string) Option {
	return func(m *mapper) {
		for _, k := range keys {
			m.masked[k] = maskTail
		}
	}
}

type mapper struct {
	channel string
	masked  map[string]func(string) string
	now     func() time.Time
}

func newMapper(opts []Option) *mapper {
	m := &mapper{
		channel: defaultChannel,
		masked: map[string]func(string) string{
			"email":         maskEmail,
			"mobile_number": maskTail,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Normalize maps event to a Record.
func Normalize(event alumni.ActivityEvent, opts ...Option) Record {
	m := newMapper(opts)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.now()
	}

	actorID := strings.TrimSpace(event.Actor.ID)
	if actorID == "" && event.Actor.Type == "" {
		// self service events (registration, login) are acted by the profile owner
		actorID = strings.TrimSpace(event.ProfileID)
	}
	if actorID == "" {
		actorID = "anonymous"
	}

	return Record{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType(event.EventType),
		ObjectID:   strings.TrimSpace(event.ProfileID),
		Channel:    m.channel,
		Metadata:   m.metadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

func objectType(t alumni.ActivityEventType) string {
	switch {
	case strings.HasPrefix(string(t), "auth."):
		return ObjectSession
	case strings.HasPrefix(string(t), "master_list."):
		return ObjectMasterList
	default:
		return ObjectProfile
	}
}

func (m *mapper) metadata(event alumni.ActivityEvent) map[string]any {
	out := make(map[string]any, len(event.Metadata)+4)
	for k, v := range event.Metadata {
		if mask, ok := m.masked[k]; ok {
			if s, isString := v.(string); isString {
				v = mask(s)
			}
		}
		out[k] = v
	}

	if event.Actor.Type != "" {
		out[MetadataKeyActorType] = event.Actor.Type
	}
	if event.Actor.Role != "" {
		out[MetadataKeyActorRole] = string(event.Actor.Role)
	}
	// transition fields always come from the event itself
	if event.FromStatus != "" {
		out[MetadataKeyFromStatus] = string(event.FromStatus)
	}
	if event.ToStatus != "" {
		out[MetadataKeyToStatus] = string(event.ToStatus)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" {
		return maskTail(email)
	}
	return local[:1] + "***@" + domain
}

func maskTail(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 4 {
		return "***"
	}
	return "***" + value[len(value)-4:]
}
