package alumni

import (
	"context"
	"sync"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
)

// SessionState is an immutable snapshot of the session store.
type SessionState struct {
	Loading bool
	User    *SessionUser
}

// IsAuthenticated is true iff a resolved user is held.
func (s SessionState) IsAuthenticated() bool {
	return s.User != nil
}

// SessionStore is the source of truth for who is authenticated on a client.
// It must be initialized before use and closed to release the auth
// subscription.
type SessionStore struct {
	client   baas.AuthClient
	resolver ProfileResolver
	logger   Logger

	mu          sync.RWMutex
	state       SessionState
	generation  uint64
	initialized bool
	sub         baas.Subscription
	listeners   map[int]func(SessionState)
	nextID      int
}

// SessionStoreOption customizes the store.
type SessionStoreOption func(*SessionStore)

// WithSessionStoreLogger sets the store logger.
func WithSessionStoreLogger(logger Logger) SessionStoreOption {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionStore builds a store for client. The store starts in the
// loading state.
func NewSessionStore(client baas.AuthClient, resolver ProfileResolver, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		client:    client,
		resolver:  resolver,
		logger:    defLogger{},
		state:     SessionState{Loading: true},
		listeners: map[int]func(SessionState){},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Initialize reads any persisted session, resolves its profile and starts
// listening for auth changes. Loading is cleared whether or not resolution
// succeeds.
func (s *SessionStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	gen := s.generation
	s.mu.Unlock()

	var user *SessionUser
	session, err := s.client.CurrentSession(ctx)
	if err != nil {
		s.logger.Warn("failed to read current session", "error", err)
	} else if session != nil {
		user = s.resolve(ctx, session)
	}

	sub := s.client.OnAuthStateChange(s.OnAuthStateChanged)

	s.mu.Lock()
	s.sub = sub
	if s.generation == gen {
		s.state.User = user
	}
	s.state.Loading = false
	s.generation++
	state := s.state
	s.mu.Unlock()

	s.notify(state)
	return err
}

// OnAuthStateChanged re-resolves the profile when a session is present and
// clears the user otherwise.
func (s *SessionStore) OnAuthStateChanged(ctx context.Context, event baas.AuthEvent, session *baas.Session) {
	s.logger.Debug("auth state changed", "event", event, "has_session", session != nil)

	if session == nil {
		s.setUser(nil, s.bump())
		return
	}

	gen := s.bump()
	s.setUser(s.resolve(ctx, session), gen)
}

// Logout signs out, drops the cached user and clears client storage.
// IsAuthenticated is false as soon as Logout returns.
func (s *SessionStore) Logout(ctx context.Context) error {
	err := s.client.SignOut(ctx)

	gen := s.bump()
	s.setUser(nil, gen)

	if kv := s.client.Storage(); kv != nil {
		kv.Clear()
	}

	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "sign out failed").
			WithTextCode(string(KindUnavailable))
	}
	return nil
}

// Close releases the auth change subscription.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

// State returns a snapshot of the current state.
func (s *SessionStore) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAuthenticated reports whether a user is held.
func (s *SessionStore) IsAuthenticated() bool {
	return s.State().IsAuthenticated()
}

// User returns the current user or nil.
func (s *SessionStore) User() *SessionUser {
	return s.State().User
}

// Refresh re-reads the current session and profile, for example after the
// user completed onboarding.
func (s *SessionStore) Refresh(ctx context.Context) error {
	gen := s.bump()
	session, err := s.client.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		s.setUser(nil, gen)
		return nil
	}
	s.setUser(s.resolve(ctx, session), gen)
	return nil
}

// Subscribe registers fn for state changes. The returned func unsubscribes.
func (s *SessionStore) Subscribe(fn func(SessionState)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *SessionStore) resolve(ctx context.Context, session *baas.Session) *SessionUser {
	identity := session.Identity
	if s.resolver == nil {
		return FallbackUser(identity.ID, identity.Email)
	}

	user, err := s.resolver.Resolve(ctx, identity.ID, identity.Email)
	if err != nil || user == nil {
		s.logger.Warn("profile resolution failed, using fallback profile",
			"identity_id", identity.ID,
			"error", err,
		)
		return FallbackUser(identity.ID, identity.Email)
	}
	return user
}

func (s *SessionStore) bump() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// setUser applies user unless a newer change superseded generation gen.
func (s *SessionStore) setUser(user *SessionUser, gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.state.User = user
	state := s.state
	s.mu.Unlock()

	s.notify(state)
}

func (s *SessionStore) notify(state SessionState) {
	s.mu.RLock()
	fns := make([]func(SessionState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}
