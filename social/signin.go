package social

import (
	"context"
	"sort"
	"strings"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/baas"
)

// NonceStorageKey prefixes the per provider nonce kept in the browser session.
const NonceStorageKey = "alumni.social.nonce."

// SignIn runs the authorization code flow and hands the resulting session to
// the portal login routing.
type SignIn struct {
	providers    map[string]Provider
	states       StateManager
	login        *alumni.LoginFlow
	allowSignup  bool
	prompt       string
	activitySink alumni.ActivitySink
	logger       alumni.Logger
	now          func() time.Time
}

// Option customizes SignIn.
type Option func(*SignIn)

// WithProvider registers p under p.Name().
func WithProvider(p Provider) Option {
	return func(s *SignIn) {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}
}

// WithSignup lets unknown verified emails create an identity. They land on
// the onboarding form.
func WithSignup(allowed bool) Option {
	return func(s *SignIn) {
		s.allowSignup = allowed
	}
}

// WithPromptParam forwards prompt to every provider, e.g. "select_account".
func WithPromptParam(prompt string) Option {
	return func(s *SignIn) {
		s.prompt = prompt
	}
}

// WithActivitySink records failed provider sign ins.
func WithActivitySink(sink alumni.ActivitySink) Option {
	return func(s *SignIn) {
		s.activitySink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(logger alumni.Logger) Option {
	return func(s *SignIn) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSignIn returns a flow sealing state with states and routing sessions
// through login.
func NewSignIn(states StateManager, login *alumni.LoginFlow, opts ...Option) *SignIn {
	s := &SignIn{
		providers: map[string]Provider{},
		states:    states,
		login:     login,
		logger:    alumni.DefaultLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Providers lists the configured provider names.
func (s *SignIn) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Begin returns the consent URL for provider. The state nonce is bound to kv.
func (s *SignIn) Begin(kv baas.KeyValue, provider string) (string, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", err
	}
	if kv == nil {
		return "", ErrInvalidState
	}

	verifier, err := randomToken(32)
	if err != nil {
		return "", err
	}

	state := &OAuthState{Provider: p.Name(), CodeVerifier: verifier}
	encoded, err := s.states.Encode(state)
	if err != nil {
		return "", err
	}
	kv.Set(NonceStorageKey+p.Name(), state.Nonce)

	opts := []AuthCodeOption{WithPKCE(codeChallenge(verifier), "S256")}
	if s.prompt != "" {
		opts = append(opts, WithPrompt(s.prompt))
	}
	return p.AuthCodeURL(encoded, opts...), nil
}

// Complete exchanges code, signs the provider account in on client and
// routes it like a password sign in.
func (s *SignIn) Complete(ctx context.Context, client baas.AuthClient, provider, code, state string) (*alumni.LoginOutcome, error) {
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}

	federated, ok := client.(baas.FederatedAuthClient)
	if !ok {
		return nil, ErrUnsupportedClient
	}

	kv := client.Storage()
	decoded, err := s.checkState(kv, p.Name(), state)
	if err != nil {
		return nil, s.failed(ctx, p.Name(), "", err)
	}

	if strings.TrimSpace(code) == "" {
		return nil, s.failed(ctx, p.Name(), "", ErrTokenExchangeFailed)
	}

	token, err := p.Exchange(ctx, code, WithCodeVerifier(decoded.CodeVerifier))
	if err != nil {
		return nil, s.failed(ctx, p.Name(), "", wrapProviderError(ErrTokenExchangeFailed, p.Name(), err))
	}

	profile, err := p.UserInfo(ctx, token)
	if err != nil {
		return nil, s.failed(ctx, p.Name(), "", wrapProviderError(ErrUserInfoFailed, p.Name(), err))
	}
	if profile == nil || strings.TrimSpace(profile.Email) == "" || !profile.EmailVerified {
		email := ""
		if profile != nil {
			email = profile.Email
		}
		return nil, s.failed(ctx, p.Name(), email, ErrEmailNotVerified)
	}

	kv.Remove(alumni.SecondFactorStorageKey)

	session, err := federated.SignInWithProvider(ctx, baas.ProviderIdentity{
		Provider: p.Name(),
		Subject:  profile.ProviderUserID,
		Email:    profile.Email,
		Metadata: profile.Metadata(),
	}, s.allowSignup)
	if err != nil {
		if baas.HasTextCode(err, baas.TextCodeInvalidCredentials) {
			return nil, s.failed(ctx, p.Name(), profile.Email, ErrSignupNotAllowed)
		}
		return nil, s.failed(ctx, p.Name(), profile.Email, err)
	}

	s.logger.Info("provider sign in", "provider", p.Name(), "identity_id", session.Identity.ID)
	return s.login.Continue(ctx, client, session)
}

// checkState decodes state and consumes the nonce bound to kv.
func (s *SignIn) checkState(kv baas.KeyValue, provider, state string) (*OAuthState, error) {
	if kv == nil {
		return nil, ErrInvalidState
	}

	key := NonceStorageKey + provider
	nonce, ok := kv.Get(key)
	kv.Remove(key)

	decoded, err := s.states.Decode(state)
	if err != nil {
		return nil, err
	}
	if decoded.Provider != provider || !ok || nonce == "" || nonce != decoded.Nonce {
		return nil, ErrInvalidState
	}
	return decoded, nil
}

func (s *SignIn) provider(name string) (Provider, error) {
	p, ok := s.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

func (s *SignIn) failed(ctx context.Context, provider, email string, err error) error {
	s.logger.Warn("provider sign in failed", "provider", provider, "error", err)
	if s.activitySink == nil {
		return err
	}

	meta := map[string]any{"provider": provider}
	if email != "" {
		meta["email"] = email
	}
	if rerr := s.activitySink.Record(ctx, alumni.ActivityEvent{
		EventType:  alumni.ActivityEventLoginFailure,
		Actor:      alumni.ActorRef{Type: "system"},
		Metadata:   meta,
		OccurredAt: s.now(),
	}); rerr != nil {
		s.logger.Error("failed to record activity", "error", rerr)
	}
	return err
}
