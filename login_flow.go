package alumni

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
)

// LoginOutcome tells the caller where a successful sign in continues.
type LoginOutcome struct {
	User     *SessionUser
	Redirect string
	// Challenge is set when a second factor code was issued.
	Challenge *LoginChallenge
}

// LoginFlow signs users in and routes them by role and approval status.
type LoginFlow struct {
	resolver     ProfileResolver
	secondFactor *SecondFactor
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// LoginFlowOption customizes the flow.
type LoginFlowOption func(*LoginFlow)

// WithLoginSecondFactor enables the emailed code step for verified alumni.
func WithLoginSecondFactor(sf *SecondFactor) LoginFlowOption {
	return func(f *LoginFlow) {
		f.secondFactor = sf
	}
}

// WithLoginActivitySink sets the activity sink.
func WithLoginActivitySink(sink ActivitySink) LoginFlowOption {
	return func(f *LoginFlow) {
		f.activitySink = normalizeActivitySink(sink)
	}
}

// WithLoginLogger sets the logger.
func WithLoginLogger(logger Logger) LoginFlowOption {
	return func(f *LoginFlow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewLoginFlow returns a login flow resolving profiles with resolver.
func NewLoginFlow(resolver ProfileResolver, opts ...LoginFlowOption) *LoginFlow {
	f := &LoginFlow{
		resolver:     resolver,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// SignIn authenticates on client and decides the next route. Rejected
// accounts are signed out again and get ErrAccountRejected.
func (f *LoginFlow) SignIn(ctx context.Context, client baas.AuthClient, email, password string) (*LoginOutcome, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if kv := client.Storage(); kv != nil {
		kv.Remove(SecondFactorStorageKey)
	}

	session, err := client.SignIn(ctx, email, password)
	if err != nil {
		f.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"email": email},
		})
		if baas.HasTextCode(err, baas.TextCodeInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, errors.CategoryOperation, ErrUnavailable.Message).
			WithTextCode(string(KindUnavailable)).
			WithCode(ErrUnavailable.Code)
	}

	return f.Continue(ctx, client, session)
}

// Continue routes a session that client has just established. Federated
// sign in uses it after the provider callback.
func (f *LoginFlow) Continue(ctx context.Context, client baas.AuthClient, session *baas.Session) (*LoginOutcome, error) {
	if session == nil {
		return nil, ErrInvalidCredentials
	}

	identity := session.Identity
	user, err := f.resolver.Resolve(ctx, identity.ID, identity.Email)
	if err != nil || user == nil {
		f.logger.Warn("profile resolution failed during login, using fallback profile",
			"identity_id", identity.ID,
			"error", err,
		)
		user = FallbackUser(identity.ID, identity.Email)
	}

	outcome := &LoginOutcome{User: user}
	actor := ActorFromUser(user)

	switch {
	case user.Role == RoleSuperAdmin:
		outcome.Redirect = RouteSuperAdminDashboad
	case user.Role == RoleAdmin, user.Role == RoleRegistrar:
		outcome.Redirect = RouteAdminDashboard
	case user.NeedsOnboarding:
		outcome.Redirect = RouteOnboarding
	case user.Status == StatusRejected:
		if err := client.SignOut(ctx); err != nil {
			f.logger.Error("failed to sign out rejected account", "profile_id", user.ID, "error", err)
		}
		if kv := client.Storage(); kv != nil {
			kv.Clear()
		}
		f.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginRejected,
			Actor:     actor,
			ProfileID: user.ID,
		})
		return nil, ErrAccountRejected
	case user.Status == StatusPending:
		outcome.Redirect = RouteRegistrationWait
	case user.Status == StatusVerified:
		// Without a code sender the verify step is a confirmation only.
		if f.secondFactor != nil {
			challenge, err := f.secondFactor.Issue(ctx, user)
			if err != nil {
				return nil, err
			}
			outcome.Challenge = challenge
		}
		outcome.Redirect = RouteLoginVerify
	default:
		outcome.Redirect = user.Role.Landing()
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     actor,
		ProfileID: user.ID,
		Metadata:  map[string]any{"redirect": outcome.Redirect},
	})

	return outcome, nil
}

// VerifySecondFactor checks the emailed code for the signed in user.
func (f *LoginFlow) VerifySecondFactor(ctx context.Context, client baas.AuthClient, user *SessionUser, code string) (string, error) {
	if f.secondFactor == nil {
		return RouteAlumniDashboard, nil
	}

	if err := f.secondFactor.Verify(ctx, client.Storage(), user, strings.TrimSpace(code)); err != nil {
		f.record(ctx, ActivityEvent{
			EventType: ActivityEventSecondFactorFailed,
			Actor:     ActorFromUser(user),
			ProfileID: user.ID,
		})
		return "", err
	}

	f.record(ctx, ActivityEvent{
		EventType: ActivityEventSecondFactorPassed,
		Actor:     ActorFromUser(user),
		ProfileID: user.ID,
	})
	return RouteAlumniDashboard, nil
}

func (f *LoginFlow) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, f.activitySink, f.logger, f.now, event)
}
