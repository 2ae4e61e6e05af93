// Package baas describes the client contract of the backend-as-a-service
// platform the portal delegates auth, table storage and realtime change
// notification to. Implementations live in sub packages (see baas/local).
package baas

import (
	"context"
	"time"
)

// Identity is the authentication record owned by the platform.
type Identity struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Session is an authenticated platform session.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Identity    Identity  `json:"identity"`
}

// AuthEvent names the auth state transitions a client can observe.
type AuthEvent string

const (
	AuthEventSignedIn     AuthEvent = "SIGNED_IN"
	AuthEventSignedOut    AuthEvent = "SIGNED_OUT"
	AuthEventInitialState AuthEvent = "INITIAL_SESSION"
)

// AuthStateCallback is invoked on every sign in or sign out seen by a client.
// session is nil after a sign out.
type AuthStateCallback func(ctx context.Context, event AuthEvent, session *Session)

// Subscription is a handle to a standing listener. Close must be called to
// release it; calling it more than once is safe.
type Subscription interface {
	Close() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error {
	if f == nil {
		return nil
	}
	return f()
}

// AuthClient is the per client view of the platform auth API.
type AuthClient interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Identity, error)
	SignOut(ctx context.Context) error
	CurrentSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(cb AuthStateCallback) Subscription
	Storage() KeyValue
}

// ProviderIdentity is an identity whose email an external OAuth provider has
// verified.
type ProviderIdentity struct {
	Provider string
	Subject  string
	Email    string
	Metadata map[string]any
}

// FederatedAuthClient signs in identities vouched for by an external
// provider. Unknown emails get a passwordless identity only when create is
// set; otherwise they fail with ErrInvalidCredentials.
type FederatedAuthClient interface {
	AuthClient
	SignInWithProvider(ctx context.Context, identity ProviderIdentity, create bool) (*Session, error)
}

// AuthAdmin exposes privileged identity management. The portal only uses it
// for compensating actions and out of band provisioning.
type AuthAdmin interface {
	CreateIdentity(ctx context.Context, email, password string, metadata map[string]any) (*Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
}

// KeyValue is the client side persisted store the auth SDK keeps its session
// token in. Other components may cache values there; Clear wipes everything.
type KeyValue interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	Clear()
}
