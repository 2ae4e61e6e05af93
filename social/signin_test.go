package social_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-alumni/baas/local"
	"github.com/goliatone/go-alumni/social"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type portalConfig struct{}

func (portalConfig) GetSessionCookieName() string      { return "alumni_social" }
func (portalConfig) GetCookieSecure() bool             { return false }
func (portalConfig) GetTokenExpiration() time.Duration { return time.Hour }
func (portalConfig) GetLoginRoute() string             { return alumni.RouteLogin }
func (portalConfig) GetRequireSecondFactor() bool      { return false }
func (portalConfig) GetSecondFactorTTL() time.Duration { return 10 * time.Minute }
func (portalConfig) GetSecondFactorMaxAttempts() int   { return 3 }

type quietLogger struct{}

func (quietLogger) Debug(string, ...any) {}
func (quietLogger) Info(string, ...any)  {}
func (quietLogger) Warn(string, ...any)  {}
func (quietLogger) Error(string, ...any) {}

// fakeProvider checks the PKCE pair and returns profile for "good-code".
type fakeProvider struct {
	profile   *social.Profile
	challenge string
}

func (f *fakeProvider) Name() string { return "google" }

func (f *fakeProvider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	cfg := social.ApplyAuthCodeOptions(nil, opts...)
	f.challenge = cfg.CodeChallenge
	return "https://accounts.test/auth?" + url.Values{"state": {state}}.Encode()
}

func (f *fakeProvider) Exchange(_ context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	cfg := social.ApplyExchangeOptions(opts...)
	if code != "good-code" || cfg.CodeVerifier == "" {
		return nil, &social.ProviderError{Provider: "google", Operation: "exchange", Code: "invalid_grant"}
	}
	return &social.Token{AccessToken: "provider-token"}, nil
}

func (f *fakeProvider) UserInfo(_ context.Context, token *social.Token) (*social.Profile, error) {
	p := *f.profile
	return &p, nil
}

type activityLog struct {
	events []alumni.ActivityEvent
}

func (a *activityLog) Record(_ context.Context, event alumni.ActivityEvent) error {
	a.events = append(a.events, event)
	return nil
}

type harness struct {
	t        *testing.T
	app      *fiber.App
	platform *local.Platform
	provider *fakeProvider
	activity *activityLog
}

func newHarness(t *testing.T, signup bool) *harness {
	t.Helper()

	p, err := local.Open(local.Options{
		DSN:        ":memory:",
		SigningKey: []byte("alumni-test-signing-key-0123456789"),
		TokenTTL:   time.Hour,
		Issuer:     "alumni-test",
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	for name, model := range alumni.Tables() {
		p.RegisterTable(name, model)
	}
	require.NoError(t, p.Migrate(context.Background(), alumni.GetMigrationsFS()))
	t.Cleanup(func() { _ = p.Close() })

	profiles := alumni.NewProfilesRepository(p.Database)
	resolver := alumni.NewProfileResolver(profiles, alumni.WithResolverLogger(quietLogger{}))
	roster := alumni.NewMasterList(p.Database, alumni.WithMasterListLogger(quietLogger{}))
	login := alumni.NewLoginFlow(resolver, alumni.WithLoginLogger(quietLogger{}))

	clients := alumni.ClientFactoryFunc(func(kv baas.KeyValue) baas.AuthClient {
		return p.NewClient(kv)
	})
	auth := alumni.NewHTTPAuthenticator(portalConfig{}, clients, resolver, alumni.NewMemoryStorage(time.Hour))
	auth.Logger = quietLogger{}

	h := &harness{
		t:        t,
		platform: p,
		provider: &fakeProvider{profile: &social.Profile{
			Provider:       "google",
			ProviderUserID: "g-1",
			Email:          "ana.reyes@example.edu",
			EmailVerified:  true,
			Name:           "Ana Reyes",
			FirstName:      "Ana",
			LastName:       "Reyes",
		}},
		activity: &activityLog{},
	}

	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		h.app = fiber.New(fiber.Config{DisableStartupMessage: true})
		return h.app
	})
	alumni.RegisterPortalRoutes(h.app,
		alumni.WithAuthenticator(auth),
		alumni.WithWorkflows(login,
			alumni.NewRegistrationWorkflow(profiles, alumni.WithRegistrationAdmin(p.Auth)),
			alumni.NewApprovalWorkflow(profiles, alumni.WithApprovalRoster(roster)),
			alumni.NewProfileService(profiles),
			roster,
		),
		alumni.WithControllerLogger(quietLogger{}),
	)

	signIn := social.NewSignIn(
		social.NewStateManager("alumni-test-signing-key-0123456789", time.Minute),
		login,
		social.WithProvider(h.provider),
		social.WithSignup(signup),
		social.WithActivitySink(h.activity),
		social.WithLogger(quietLogger{}),
	)
	social.RegisterRoutes(srv.Router(), signIn)
	return h
}

type browser struct {
	h      *harness
	cookie *http.Cookie
}

func (b *browser) get(path string) *http.Response {
	b.h.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	resp, err := b.h.app.Test(req, -1)
	require.NoError(b.h.t, err)
	for _, c := range resp.Cookies() {
		if c.Name == "alumni_social" {
			b.cookie = c
		}
	}
	return resp
}

// begin starts the flow and returns the sealed state.
func (b *browser) begin() string {
	b.h.t.Helper()
	resp := b.get("/auth/google")
	require.Equal(b.h.t, http.StatusFound, resp.StatusCode)

	target, err := url.Parse(resp.Header.Get(fiber.HeaderLocation))
	require.NoError(b.h.t, err)
	assert.Equal(b.h.t, "accounts.test", target.Host)
	assert.NotEmpty(b.h.t, b.h.provider.challenge)
	return target.Query().Get("state")
}

func (b *browser) callback(code, state string) *http.Response {
	return b.get("/auth/google/callback?" + url.Values{"code": {code}, "state": {state}}.Encode())
}

func location(resp *http.Response) string {
	return resp.Header.Get(fiber.HeaderLocation)
}

func loginError(kind string) string {
	return alumni.RouteLogin + "?error=" + kind
}

func TestSocialSignInNewUserContinuesToOnboarding(t *testing.T) {
	h := newHarness(t, true)
	b := &browser{h: h}

	state := b.begin()
	resp := b.callback("good-code", state)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, alumni.RouteOnboarding, location(resp))

	resp = b.get(alumni.RouteOnboarding)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := map[string]map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Ana", body["form"]["first_name"])
	assert.Equal(t, "Reyes", body["form"]["last_name"])

	resp = b.callback("good-code", state)
	assert.Equal(t, loginError(string(alumni.KindValidation)), location(resp))
}

func TestSocialSignInRoutesVerifiedAlumni(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	identity, err := h.platform.Auth.CreateIdentity(ctx, "ana.reyes@example.edu", "correct-horse", nil)
	require.NoError(t, err)
	require.NoError(t, alumni.NewProfilesRepository(h.platform.Database).Insert(ctx, &alumni.Profile{
		ID:        identity.ID,
		FirstName: "Ana",
		LastName:  "Reyes",
		Email:     identity.Email,
		Role:      alumni.RoleAlumni,
		Status:    alumni.StatusVerified,
		Course:    "BS Computer Science",
		BatchYear: "2019",
		StudentID: "2015-00123",
	}))

	b := &browser{h: h}
	resp := b.callback("good-code", b.begin())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, alumni.RouteLoginVerify, location(resp))

	resp = b.get(alumni.RouteAlumniDashboard)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSocialSignInRejectsStateFromAnotherBrowser(t *testing.T) {
	h := newHarness(t, true)
	victim := &browser{h: h}
	attacker := &browser{h: h}

	state := attacker.begin()
	resp := victim.callback("good-code", state)
	assert.Equal(t, loginError(string(alumni.KindValidation)), location(resp))

	resp = victim.callback("good-code", "garbage")
	assert.Equal(t, loginError(string(alumni.KindValidation)), location(resp))
}

func TestSocialSignInFailures(t *testing.T) {
	t.Run("signup disabled", func(t *testing.T) {
		h := newHarness(t, false)
		b := &browser{h: h}
		resp := b.callback("good-code", b.begin())
		assert.Equal(t, loginError(string(alumni.KindForbidden)), location(resp))

		require.Len(t, h.activity.events, 1)
		assert.Equal(t, alumni.ActivityEventLoginFailure, h.activity.events[0].EventType)
		assert.Equal(t, "google", h.activity.events[0].Metadata["provider"])
	})

	t.Run("unverified email", func(t *testing.T) {
		h := newHarness(t, true)
		h.provider.profile.EmailVerified = false
		b := &browser{h: h}
		resp := b.callback("good-code", b.begin())
		assert.Equal(t, loginError(string(alumni.KindForbidden)), location(resp))
	})

	t.Run("bad code", func(t *testing.T) {
		h := newHarness(t, true)
		b := &browser{h: h}
		resp := b.callback("stale-code", b.begin())
		assert.Equal(t, loginError(string(alumni.KindInvalidCredentials)), location(resp))
	})

	t.Run("consent denied", func(t *testing.T) {
		h := newHarness(t, true)
		b := &browser{h: h}
		resp := b.get("/auth/google/callback?error=access_denied")
		assert.Equal(t, loginError("access_denied"), location(resp))
	})

	t.Run("unknown provider", func(t *testing.T) {
		h := newHarness(t, true)
		b := &browser{h: h}
		resp := b.get("/auth/myspace")
		assert.Equal(t, loginError(string(alumni.KindNotFound)), location(resp))
	})
}

func TestSocialProvidersList(t *testing.T) {
	h := newHarness(t, true)
	resp := (&browser{h: h}).get("/auth/providers")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := map[string][]string{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"google"}, body["providers"])
}
