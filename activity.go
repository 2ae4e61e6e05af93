package alumni

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventProfileStatusChanged ActivityEventType = "profile.status.changed"
	ActivityEventProfileRoleChanged   ActivityEventType = "profile.role.changed"
	ActivityEventProfileDeleted       ActivityEventType = "profile.deleted"
	ActivityEventRegistrationSubmit   ActivityEventType = "registration.submitted"
	ActivityEventRegistrationOrphan   ActivityEventType = "registration.orphan.removed"
	ActivityEventOnboardingCompleted  ActivityEventType = "onboarding.completed"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventLoginRejected        ActivityEventType = "auth.login.rejected"
	ActivityEventSecondFactorPassed   ActivityEventType = "auth.second_factor.passed"
	ActivityEventSecondFactorFailed   ActivityEventType = "auth.second_factor.failed"
	ActivityEventLogout               ActivityEventType = "auth.logout"
	ActivityEventMasterListImported   ActivityEventType = "master_list.imported"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Role Role   `json:"role,omitempty"`
}

// ActorFromUser builds an actor reference for a session user.
func ActorFromUser(u *SessionUser) ActorRef {
	if u == nil {
		return ActorRef{Type: "system"}
	}
	return ActorRef{ID: u.ID, Type: "user", Role: u.Role}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType `json:"event_type"`
	Actor      ActorRef          `json:"actor"`
	ProfileID  string            `json:"profile_id,omitempty"`
	FromStatus Status            `json:"from_status,omitempty"`
	ToStatus   Status            `json:"to_status,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity stamps and records event, logging sink failures.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		if now == nil {
			now = time.Now
		}
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
