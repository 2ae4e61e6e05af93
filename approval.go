package alumni

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
)

// PendingReview is a pending profile with its roster hint.
type PendingReview struct {
	Profile Profile     `json:"profile"`
	Roster  RosterMatch `json:"roster"`
}

// ApprovalBatch reports a bulk approval. Skipped maps a profile id to why it
// was left alone.
type ApprovalBatch struct {
	Approved []Profile         `json:"approved"`
	Skipped  map[string]string `json:"skipped,omitempty"`
}

// ApprovalStats counts profiles per status.
type ApprovalStats struct {
	Pending  int `json:"pending"`
	Verified int `json:"verified"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// ApprovalWorkflow lets staff review pending registrations.
type ApprovalWorkflow struct {
	profiles     Profiles
	machine      ProfileStateMachine
	realtime     baas.Realtime
	roster       *MasterList
	admin        baas.AuthAdmin
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// ApprovalOption customizes the workflow.
type ApprovalOption func(*ApprovalWorkflow)

// WithApprovalStateMachine overrides the state machine.
func WithApprovalStateMachine(sm ProfileStateMachine) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		if sm != nil {
			w.machine = sm
		}
	}
}

// WithApprovalRealtime sets the change feed used by Watch.
func WithApprovalRealtime(rt baas.Realtime) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		w.realtime = rt
	}
}

// WithApprovalRoster enables roster hints on pending reviews.
func WithApprovalRoster(m *MasterList) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		w.roster = m
	}
}

// WithApprovalAdmin lets DeleteRecord also remove the platform identity.
func WithApprovalAdmin(admin baas.AuthAdmin) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		w.admin = admin
	}
}

// WithApprovalActivitySink sets the activity sink.
func WithApprovalActivitySink(sink ActivitySink) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		w.activitySink = normalizeActivitySink(sink)
	}
}

// WithApprovalLogger sets the logger.
func WithApprovalLogger(logger Logger) ApprovalOption {
	return func(w *ApprovalWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewApprovalWorkflow returns an ApprovalWorkflow over profiles. Without
// WithApprovalStateMachine a default machine sharing the sink and logger is
// built.
func NewApprovalWorkflow(profiles Profiles, opts ...ApprovalOption) *ApprovalWorkflow {
	w := &ApprovalWorkflow{
		profiles:     profiles,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.machine == nil {
		w.machine = NewProfileStateMachine(profiles,
			WithStateMachineActivitySink(w.activitySink),
			WithStateMachineLogger(w.logger),
		)
	}
	return w
}

// ListPending returns exactly the pending_approval profiles, newest first.
func (w *ApprovalWorkflow) ListPending(ctx context.Context) ([]Profile, error) {
	return w.profiles.ListByStatus(ctx, StatusPending)
}

// ListPendingReviews is ListPending with roster hints attached.
func (w *ApprovalWorkflow) ListPendingReviews(ctx context.Context) ([]PendingReview, error) {
	pending, err := w.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	var entries map[string]RosterEntry
	if w.roster != nil && len(pending) > 0 {
		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.StudentID)
		}
		entries, err = w.roster.Lookup(ctx, ids...)
		if err != nil {
			w.logger.Warn("roster lookup failed, listing without hints", "error", err)
			entries = nil
		}
	}

	out := make([]PendingReview, 0, len(pending))
	for _, p := range pending {
		review := PendingReview{Profile: p}
		if entry, ok := entries[strings.TrimSpace(p.StudentID)]; ok {
			review.Roster = MatchRoster(p, &entry)
		} else {
			review.Roster = MatchRoster(p, nil)
		}
		out = append(out, review)
	}
	return out, nil
}

// Watch delivers profile changes to handler until the returned subscription
// is closed or ctx ends.
func (w *ApprovalWorkflow) Watch(ctx context.Context, handler baas.ChangeHandler) (baas.Subscription, error) {
	if w.realtime == nil {
		return nil, errors.Wrap(ErrUnavailable, errors.CategoryOperation, "realtime updates are not configured").
			WithTextCode(string(KindUnavailable))
	}
	if handler == nil {
		return nil, annotate(ErrInvalidInput, map[string]any{"handler": "required"})
	}

	sub, err := w.realtime.Subscribe(ctx, ProfilesTable, baas.AllChanges, handler)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to subscribe to profile changes").
			WithTextCode(string(KindUnavailable))
	}
	return sub, nil
}

// Approve marks the profile verified.
func (w *ApprovalWorkflow) Approve(ctx context.Context, actor *SessionUser, id string) (*Profile, error) {
	return w.transition(ctx, actor, id, StatusVerified)
}

// Reject marks the profile rejected. reason is optional.
func (w *ApprovalWorkflow) Reject(ctx context.Context, actor *SessionUser, id, reason string) (*Profile, error) {
	return w.transition(ctx, actor, id, StatusRejected, WithTransitionReason(strings.TrimSpace(reason)))
}

// ApproveMany verifies every listed profile still awaiting review. Missing
// and already reviewed profiles are skipped, not failed.
func (w *ApprovalWorkflow) ApproveMany(ctx context.Context, actor *SessionUser, ids ...string) (*ApprovalBatch, error) {
	if actor == nil || !actor.Role.IsAtLeast(RoleRegistrar) {
		return nil, ErrForbidden
	}

	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, validationErr(map[string]string{"ids": "cannot be blank"})
	}

	found, err := w.profiles.ListByIDs(ctx, unique...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Profile, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	batch := &ApprovalBatch{Approved: []Profile{}, Skipped: map[string]string{}}
	for _, id := range unique {
		profile, ok := byID[id]
		switch {
		case !ok:
			batch.Skipped[id] = string(KindNotFound)
			continue
		case profile.Status != StatusPending:
			batch.Skipped[id] = "already_reviewed"
			continue
		}

		updated, err := w.machine.Transition(ctx, ActorFromUser(actor), &profile, StatusVerified)
		if err != nil {
			w.logger.Warn("bulk approval skipped profile", "profile_id", id, "error", err)
			batch.Skipped[id] = string(KindOf(err))
			continue
		}
		batch.Approved = append(batch.Approved, *updated)
	}

	w.logger.Info("bulk approval finished", "actor_id", actor.ID, "approved", len(batch.Approved), "skipped", len(batch.Skipped))
	return batch, nil
}

// SetStatus is a manual correction that may reverse an earlier decision.
func (w *ApprovalWorkflow) SetStatus(ctx context.Context, actor *SessionUser, id string, status Status, reason string) (*Profile, error) {
	if !status.IsValid() {
		return nil, validationErr(map[string]string{"status": "is not a valid status"})
	}
	return w.transition(ctx, actor, id, status,
		WithReversal(),
		WithTransitionReason(strings.TrimSpace(reason)),
		WithTransitionMetadata(map[string]any{"manual": true}),
	)
}

func (w *ApprovalWorkflow) transition(ctx context.Context, actor *SessionUser, id string, target Status, opts ...TransitionOption) (*Profile, error) {
	if actor == nil || !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}

	profile, err := w.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return w.machine.Transition(ctx, ActorFromUser(actor), profile, target, opts...)
}

// Stats counts profiles per status.
func (w *ApprovalWorkflow) Stats(ctx context.Context) (ApprovalStats, error) {
	var stats ApprovalStats
	for _, item := range []struct {
		status Status
		dst    *int
	}{
		{StatusPending, &stats.Pending},
		{StatusVerified, &stats.Verified},
		{StatusRejected, &stats.Rejected},
	} {
		n, err := w.profiles.CountByStatus(ctx, item.status)
		if err != nil {
			return ApprovalStats{}, err
		}
		*item.dst = n
	}
	stats.Total = stats.Pending + stats.Verified + stats.Rejected
	return stats, nil
}

// DeleteRecord removes a profile. Only admins and superadmins may delete,
// nobody may delete their own record and only superadmins delete staff.
func (w *ApprovalWorkflow) DeleteRecord(ctx context.Context, actor *SessionUser, id string) error {
	if actor == nil || !actor.Role.IsAtLeast(RoleAdmin) {
		return ErrForbidden
	}
	if actor.ID == id {
		return annotate(ErrForbidden, map[string]any{"reason": "cannot delete own record"})
	}

	profile, err := w.profiles.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if profile.Role.IsStaff() && !actor.Role.IsAtLeast(RoleSuperAdmin) {
		return annotate(ErrForbidden, map[string]any{"reason": "only superadmins delete staff records"})
	}

	if err := w.profiles.Delete(ctx, id); err != nil {
		return err
	}

	if w.admin != nil {
		if err := w.admin.DeleteIdentity(ctx, id); err != nil && !baas.IsNoRows(err) {
			w.logger.Error("profile deleted but identity removal failed", "profile_id", id, "error", err)
		}
	}

	w.logger.Info("profile record deleted", "profile_id", id, "actor_id", actor.ID)

	recordActivity(ctx, w.activitySink, w.logger, w.now, ActivityEvent{
		EventType:  ActivityEventProfileDeleted,
		Actor:      ActorFromUser(actor),
		ProfileID:  id,
		FromStatus: profile.Status,
		Metadata: map[string]any{
			"email": profile.Email,
			"role":  profile.Role,
		},
	})
	return nil
}

// SetRole changes the role of a profile. Superadmin only; a superadmin
// cannot demote themselves.
func (w *ApprovalWorkflow) SetRole(ctx context.Context, actor *SessionUser, id string, role Role) (*Profile, error) {
	if actor == nil || actor.Role != RoleSuperAdmin {
		return nil, ErrForbidden
	}
	if !role.IsValid() {
		return nil, validationErr(map[string]string{"role": "is not a valid role"})
	}
	if actor.ID == id && role != RoleSuperAdmin {
		return nil, annotate(ErrForbidden, map[string]any{"reason": "cannot change own role"})
	}

	profile, err := w.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := profile.Role
	if from == role {
		return profile, nil
	}

	fields := map[string]any{"role": string(role)}
	if role.IsStaff() && profile.Status != StatusVerified {
		fields["status"] = string(StatusVerified)
	}

	updated, err := w.profiles.UpdateFields(ctx, id, fields)
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, w.activitySink, w.logger, w.now, ActivityEvent{
		EventType: ActivityEventProfileRoleChanged,
		Actor:     ActorFromUser(actor),
		ProfileID: id,
		Metadata: map[string]any{
			"from_role": from,
			"to_role":   role,
		},
	})

	return updated, nil
}

// StatusNotificationHook mails the profile owner when a review concludes.
func StatusNotificationHook(mailer Mailer, portalURL string) TransitionHook {
	return func(ctx context.Context, tc TransitionContext) error {
		if mailer == nil || tc.Profile == nil || tc.Profile.Email == "" {
			return nil
		}

		var subject, body string
		name := tc.Profile.FullName()
		switch tc.To {
		case StatusVerified:
			subject = "Your alumni registration was approved"
			body = fmt.Sprintf("Hello %s,\n\nYour alumni account is now verified. Sign in at %s%s.\n",
				name, strings.TrimRight(portalURL, "/"), RouteLogin)
		case StatusRejected:
			subject = "Your alumni registration was declined"
			body = fmt.Sprintf("Hello %s,\n\nWe could not verify your registration.\n", name)
			if tc.Meta.Reason != "" {
				body += fmt.Sprintf("Reason: %s\n", tc.Meta.Reason)
			}
			body += "Please contact the alumni office for assistance.\n"
		default:
			return nil
		}

		return mailer.Send(ctx, tc.Profile.Email, subject, body)
	}
}
