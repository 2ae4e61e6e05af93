package alumni

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_PROFILE_STATE_TRANSITION"
	textCodeStaffTransition   = "STAFF_PROFILE_STATE_TRANSITION"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid profile state transition", goerrors.CategoryConflict).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrStaffTransition is returned when changing the approval status of a staff profile.
var ErrStaffTransition = goerrors.New("staff profiles bypass the approval workflow", goerrors.CategoryConflict).
	WithTextCode(textCodeStaffTransition).
	WithCode(goerrors.CodeConflict)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Reversal bool
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Profile *Profile
	From    Status
	To      Status
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// ProfileStateMachine moves profiles through the approval lifecycle.
type ProfileStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, profile *Profile, target Status, opts ...TransitionOption) (*Profile, error)
	CanTransition(from, to Status) bool
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*profileStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *profileStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *profileStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// The default aborts on before hook failures and logs after hook failures.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *profileStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink and hook failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *profileStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineAfterHook registers a hook run after every successful transition.
func WithStateMachineAfterHook(h TransitionHook) StateMachineOption {
	return func(sm *profileStateMachine) {
		if h != nil {
			sm.afterHooks = append(sm.afterHooks, h)
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithReversal permits moving a profile out of verified or rejected.
func WithReversal() TransitionOption {
	return func(opts *transitionOptions) {
		opts.reversal = true
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewProfileStateMachine returns the default implementation backed by the provided repository.
func NewProfileStateMachine(profiles Profiles, opts ...StateMachineOption) ProfileStateMachine {
	sm := &profileStateMachine{
		profiles: profiles,
		transitions: map[Status]map[Status]struct{}{
			StatusPending: {
				StatusVerified: {},
				StatusRejected: {},
			},
		},
		reversals: map[Status]map[Status]struct{}{
			StatusVerified: {
				StatusPending:  {},
				StatusRejected: {},
			},
			StatusRejected: {
				StatusPending:  {},
				StatusVerified: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
	sm.hookErrorHandler = sm.defaultHookErrorHandler

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type profileStateMachine struct {
	profiles         Profiles
	transitions      map[Status]map[Status]struct{}
	reversals        map[Status]map[Status]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
	afterHooks       []TransitionHook
}

type transitionOptions struct {
	metadata    TransitionMetadata
	reversal    bool
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

// Transition moves profile to target. Setting the current status again is a
// no-op returning the profile unchanged.
func (sm *profileStateMachine) Transition(ctx context.Context, actor ActorRef, profile *Profile, target Status, opts ...TransitionOption) (*Profile, error) {
	if profile == nil {
		return nil, annotate(ErrInvalidTransition, map[string]any{
			"target": target,
			"reason": "profile is nil",
		})
	}

	if !target.IsValid() {
		return nil, annotate(ErrInvalidTransition, map[string]any{
			"target": target,
			"reason": "unknown target status",
		})
	}

	profile.EnsureDefaults()
	from := profile.Status

	if from == target {
		return profile, nil
	}

	if profile.Role.IsStaff() {
		return nil, annotate(ErrStaffTransition, map[string]any{
			"profile_id": profile.ID,
			"role":       profile.Role,
		})
	}

	options := sm.buildTransitionOptions(opts...)

	isReversal := sm.isReversal(from, target)
	switch {
	case sm.CanTransition(from, target):
	case isReversal && options.reversal:
	default:
		return nil, annotate(ErrInvalidTransition, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	ctxData := TransitionContext{
		Actor:   actor,
		Profile: profile,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}
	ctxData.Meta.Reversal = isReversal

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return nil, err
	}

	var statusOpts []StatusUpdateOption
	switch {
	case target == StatusRejected:
		statusOpts = append(statusOpts, WithRejectionReason(options.metadata.Reason))
	case from == StatusRejected:
		statusOpts = append(statusOpts, WithRejectionReason(""))
	}

	updated, err := sm.profiles.UpdateStatus(ctx, profile.ID, target, statusOpts...)
	if err != nil {
		return nil, err
	}

	if updated != nil {
		*profile = *updated
	} else {
		profile.Status = target
	}
	ctxData.Profile = profile

	if isReversal {
		sm.logger.Warn("profile status reversal",
			"profile_id", profile.ID,
			"from", from,
			"to", target,
			"actor_id", actor.ID,
		)
	}

	hooks := append(append([]TransitionHook{}, sm.afterHooks...), options.afterHooks...)
	if err := sm.runHooks(ctx, hooks, ctxData, HookPhaseAfter); err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventProfileStatusChanged,
		Actor:      actor,
		ProfileID:  profile.ID,
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(ctxData.Meta),
	})

	return profile, nil
}

func (sm *profileStateMachine) CanTransition(from, to Status) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *profileStateMachine) isReversal(from, to Status) bool {
	if allowed, ok := sm.reversals[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *profileStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			if herr := sm.hookErrorHandler(ctx, phase, err, data); herr != nil {
				return herr
			}
		}
	}
	return nil
}

func (sm *profileStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *profileStateMachine) defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	if phase == HookPhaseAfter {
		sm.logger.Error("after transition hook failed",
			"profile_id", tc.Profile.ID,
			"from", tc.From,
			"to", tc.To,
			"error", err,
		)
		return nil
	}
	return err
}

func (sm *profileStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 && !meta.Reversal {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	if meta.Reversal {
		result["reversal"] = true
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
