package alumni

import "github.com/goliatone/go-alumni/baas"

// SecondFactorStorageKey marks a client whose current login passed the
// second factor step. The value is the verified profile id.
const SecondFactorStorageKey = "alumni.mfa_verified"

// DecisionKind is the outcome of a guard check.
type DecisionKind int

const (
	// DecisionWait means the session check is still running.
	DecisionWait DecisionKind = iota
	// DecisionRedirect sends the client elsewhere.
	DecisionRedirect
	// DecisionAllow renders the protected view.
	DecisionAllow
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionWait:
		return "wait"
	case DecisionRedirect:
		return "redirect"
	case DecisionAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Decision is what the guard wants done with a request.
type Decision struct {
	Kind     DecisionKind
	Location string
}

// Allowed reports whether the view may render.
func (d Decision) Allowed() bool {
	return d.Kind == DecisionAllow
}

// RouteGuard decides whether a protected view is reachable.
type RouteGuard struct {
	loginRoute          string
	requireSecondFactor bool
}

// RouteGuardOption customizes the guard.
type RouteGuardOption func(*RouteGuard)

// WithGuardLoginRoute overrides the login entry point.
func WithGuardLoginRoute(route string) RouteGuardOption {
	return func(g *RouteGuard) {
		if route != "" {
			g.loginRoute = route
		}
	}
}

// WithSecondFactor requires verified alumni to pass the second factor step
// before alumni views render.
func WithSecondFactor(required bool) RouteGuardOption {
	return func(g *RouteGuard) {
		g.requireSecondFactor = required
	}
}

// NewRouteGuard returns a guard.
func NewRouteGuard(opts ...RouteGuardOption) *RouteGuard {
	g := &RouteGuard{loginRoute: RouteLogin}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Check decides on state alone. An empty allowed set admits any
// authenticated role. Wrong roles are sent to their own landing route.
func (g *RouteGuard) Check(state SessionState, allowed ...Role) Decision {
	if state.Loading {
		return Decision{Kind: DecisionWait}
	}

	if !state.IsAuthenticated() {
		return Decision{Kind: DecisionRedirect, Location: g.loginRoute}
	}

	role := state.User.Role
	if len(allowed) > 0 && !role.In(allowed...) {
		return Decision{Kind: DecisionRedirect, Location: role.Landing()}
	}

	return Decision{Kind: DecisionAllow}
}

// CheckAlumni applies Check and then the alumni account gates: onboarding
// for users without a profile, the waiting page for pending registrations
// and the second factor step when enabled.
func (g *RouteGuard) CheckAlumni(state SessionState, kv baas.KeyValue) Decision {
	d := g.Check(state, RoleAlumni)
	if !d.Allowed() {
		return d
	}

	user := state.User
	switch {
	case user.NeedsOnboarding:
		return Decision{Kind: DecisionRedirect, Location: RouteOnboarding}
	case user.Status == StatusPending:
		return Decision{Kind: DecisionRedirect, Location: RouteRegistrationWait}
	case user.Status == StatusRejected:
		return Decision{Kind: DecisionRedirect, Location: g.loginRoute}
	}

	if g.requireSecondFactor && !SecondFactorPassed(kv, user.ID) {
		return Decision{Kind: DecisionRedirect, Location: RouteLoginVerify}
	}

	return d
}

// SecondFactorPassed reports whether kv carries a second factor mark for id.
func SecondFactorPassed(kv baas.KeyValue, id string) bool {
	if kv == nil || id == "" {
		return false
	}
	v, ok := kv.Get(SecondFactorStorageKey)
	return ok && v == id
}
