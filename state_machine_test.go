package alumni_test

import (
	"context"
	"errors"
	"testing"
	"time"

	alumni "github.com/goliatone/go-alumni"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func pendingProfile() *alumni.Profile {
	return &alumni.Profile{
		ID:        uuid.NewString(),
		FirstName: "Jose",
		LastName:  "Rizal",
		Email:     "jose@example.edu",
		Role:      alumni.RoleAlumni,
		Status:    alumni.StatusPending,
	}
}

func TestProfileStateMachineApprovesPending(t *testing.T) {
	repo := &MockProfiles{}
	sink := &capturingSink{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	profile := pendingProfile()

	updated := *profile
	updated.Status = alumni.StatusVerified
	repo.On("UpdateStatus", mock.Anything, profile.ID, alumni.StatusVerified, mock.Anything).
		Return(&updated, nil).Once()

	sm := alumni.NewProfileStateMachine(repo,
		alumni.WithStateMachineClock(func() time.Time { return now }),
		alumni.WithStateMachineActivitySink(sink),
		alumni.WithStateMachineLogger(testLogger{}),
	)

	actor := alumni.ActorRef{ID: "registrar-1", Type: "user", Role: alumni.RoleRegistrar}
	result, err := sm.Transition(context.Background(), actor, profile, alumni.StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, alumni.StatusVerified, result.Status)

	evt := sink.Last()
	assert.Equal(t, alumni.ActivityEventProfileStatusChanged, evt.EventType)
	assert.Equal(t, alumni.StatusPending, evt.FromStatus)
	assert.Equal(t, alumni.StatusVerified, evt.ToStatus)
	assert.Equal(t, actor, evt.Actor)
	assert.Equal(t, now, evt.OccurredAt)
	repo.AssertExpectations(t)
}

func TestProfileStateMachineRejectsReversalWithoutOption(t *testing.T) {
	repo := &MockProfiles{}
	profile := pendingProfile()
	profile.Status = alumni.StatusVerified

	sm := alumni.NewProfileStateMachine(repo, alumni.WithStateMachineLogger(testLogger{}))

	_, err := sm.Transition(context.Background(), alumni.ActorRef{}, profile, alumni.StatusRejected)
	require.Error(t, err)
	assert.Equal(t, alumni.KindConflict, alumni.KindOf(err))
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProfileStateMachineReversalRecordsMetadata(t *testing.T) {
	repo := &MockProfiles{}
	sink := &capturingSink{}
	profile := pendingProfile()
	profile.Status = alumni.StatusRejected

	updated := *profile
	updated.Status = alumni.StatusVerified
	repo.On("UpdateStatus", mock.Anything, profile.ID, alumni.StatusVerified, mock.Anything).
		Return(&updated, nil).Once()

	sm := alumni.NewProfileStateMachine(repo,
		alumni.WithStateMachineActivitySink(sink),
		alumni.WithStateMachineLogger(testLogger{}),
	)

	_, err := sm.Transition(context.Background(), alumni.ActorRef{ID: "admin"}, profile, alumni.StatusVerified,
		alumni.WithReversal(),
		alumni.WithTransitionReason("documents found"),
	)
	require.NoError(t, err)

	meta := sink.Last().Metadata
	assert.Equal(t, true, meta["reversal"])
	assert.Equal(t, "documents found", meta["reason"])
	repo.AssertExpectations(t)
}

func TestProfileStateMachineSameStatusIsNoop(t *testing.T) {
	repo := &MockProfiles{}
	profile := pendingProfile()

	sm := alumni.NewProfileStateMachine(repo)

	result, err := sm.Transition(context.Background(), alumni.ActorRef{}, profile, alumni.StatusPending)
	require.NoError(t, err)
	assert.Same(t, profile, result)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProfileStateMachineRefusesStaff(t *testing.T) {
	repo := &MockProfiles{}
	profile := pendingProfile()
	profile.Role = alumni.RoleRegistrar

	sm := alumni.NewProfileStateMachine(repo)

	_, err := sm.Transition(context.Background(), alumni.ActorRef{}, profile, alumni.StatusVerified)
	require.Error(t, err)
	var rich *goerrors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, "STAFF_PROFILE_STATE_TRANSITION", rich.TextCode)
}

func TestProfileStateMachineUnknownTarget(t *testing.T) {
	sm := alumni.NewProfileStateMachine(&MockProfiles{})

	_, err := sm.Transition(context.Background(), alumni.ActorRef{}, pendingProfile(), alumni.Status("archived"))
	require.Error(t, err)

	_, err = sm.Transition(context.Background(), alumni.ActorRef{}, nil, alumni.StatusVerified)
	require.Error(t, err)
}

func TestProfileStateMachineBeforeHookAborts(t *testing.T) {
	repo := &MockProfiles{}
	profile := pendingProfile()
	hookErr := errors.New("roster offline")

	sm := alumni.NewProfileStateMachine(repo)

	_, err := sm.Transition(context.Background(), alumni.ActorRef{}, profile, alumni.StatusVerified,
		alumni.WithBeforeTransitionHook(func(context.Context, alumni.TransitionContext) error {
			return hookErr
		}),
	)
	require.ErrorIs(t, err, hookErr)
	assert.Equal(t, alumni.StatusPending, profile.Status)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProfileStateMachineAfterHookFailureIsLogged(t *testing.T) {
	repo := &MockProfiles{}
	profile := pendingProfile()

	updated := *profile
	updated.Status = alumni.StatusRejected
	repo.On("UpdateStatus", mock.Anything, profile.ID, alumni.StatusRejected, mock.Anything).
		Return(&updated, nil).Once()

	var seen alumni.TransitionContext
	sm := alumni.NewProfileStateMachine(repo,
		alumni.WithStateMachineLogger(testLogger{}),
		alumni.WithStateMachineAfterHook(func(_ context.Context, tc alumni.TransitionContext) error {
			seen = tc
			return errors.New("smtp down")
		}),
	)

	result, err := sm.Transition(context.Background(), alumni.ActorRef{}, profile, alumni.StatusRejected,
		alumni.WithTransitionReason("not in roster"),
	)
	require.NoError(t, err)
	assert.Equal(t, alumni.StatusRejected, result.Status)
	assert.Equal(t, alumni.StatusPending, seen.From)
	assert.Equal(t, alumni.StatusRejected, seen.To)
	assert.Equal(t, "not in roster", seen.Meta.Reason)
}

func TestProfileStateMachineCustomHookErrorHandler(t *testing.T) {
	repo := &MockProfiles{}
	profile := pendingProfile()

	updated := *profile
	updated.Status = alumni.StatusVerified
	repo.On("UpdateStatus", mock.Anything, profile.ID, alumni.StatusVerified, mock.Anything).
		Return(&updated, nil).Once()

	strict := errors.New("strict")
	sm := alumni.NewProfileStateMachine(repo,
		alumni.WithStateMachineHookErrorHandler(func(context.Context, alumni.TransitionHookPhase, error, alumni.TransitionContext) error {
			return strict
		}),
	)

	_, err := sm.Transition(context.Background(), alumni.ActorRef{}, profile, alumni.StatusVerified,
		alumni.WithAfterTransitionHook(func(context.Context, alumni.TransitionContext) error {
			return errors.New("hook")
		}),
	)
	assert.ErrorIs(t, err, strict)
}

func TestProfileStateMachineCanTransition(t *testing.T) {
	sm := alumni.NewProfileStateMachine(&MockProfiles{})

	assert.True(t, sm.CanTransition(alumni.StatusPending, alumni.StatusVerified))
	assert.True(t, sm.CanTransition(alumni.StatusPending, alumni.StatusRejected))
	assert.False(t, sm.CanTransition(alumni.StatusVerified, alumni.StatusPending))
	assert.False(t, sm.CanTransition(alumni.StatusRejected, alumni.StatusVerified))
}
