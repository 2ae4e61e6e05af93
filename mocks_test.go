package alumni_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/baas/local"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse"

// MockProfiles implements alumni.Profiles
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) GetByID(ctx context.Context, id string) (*alumni.Profile, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*alumni.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfiles) Insert(ctx context.Context, profile *alumni.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockProfiles) Upsert(ctx context.Context, profile *alumni.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockProfiles) UpdateStatus(ctx context.Context, id string, status alumni.Status, opts ...alumni.StatusUpdateOption) (*alumni.Profile, error) {
	args := m.Called(ctx, id, status, opts)
	if p := args.Get(0); p != nil {
		return p.(*alumni.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfiles) UpdateFields(ctx context.Context, id string, fields map[string]any) (*alumni.Profile, error) {
	args := m.Called(ctx, id, fields)
	if p := args.Get(0); p != nil {
		return p.(*alumni.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfiles) ListByStatus(ctx context.Context, status alumni.Status) ([]alumni.Profile, error) {
	args := m.Called(ctx, status)
	if p := args.Get(0); p != nil {
		return p.([]alumni.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfiles) ListByIDs(ctx context.Context, ids ...string) ([]alumni.Profile, error) {
	args := m.Called(ctx, ids)
	if p := args.Get(0); p != nil {
		return p.([]alumni.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfiles) CountByStatus(ctx context.Context, status alumni.Status) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

func (m *MockProfiles) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockResolver implements alumni.ProfileResolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, identityID, email string) (*alumni.SessionUser, error) {
	args := m.Called(ctx, identityID, email)
	if u := args.Get(0); u != nil {
		return u.(*alumni.SessionUser), args.Error(1)
	}
	return nil, args.Error(1)
}

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

type capturingSink struct {
	mu     sync.Mutex
	events []alumni.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt alumni.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) Types() []alumni.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]alumni.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

func (c *capturingSink) Last() alumni.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return alumni.ActivityEvent{}
	}
	return c.events[len(c.events)-1]
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type fakeUploader struct {
	key  string
	data string
	url  string
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, key string, r io.Reader) (string, error) {
	raw, _ := io.ReadAll(r)
	f.key = key
	f.data = string(raw)
	return f.url, f.err
}

type testConfig struct {
	secondFactor bool
}

func (testConfig) GetSessionCookieName() string      { return "alumni_test" }
func (testConfig) GetCookieSecure() bool             { return false }
func (testConfig) GetTokenExpiration() time.Duration { return time.Hour }
func (testConfig) GetLoginRoute() string             { return alumni.RouteLogin }
func (c testConfig) GetRequireSecondFactor() bool    { return c.secondFactor }
func (testConfig) GetSecondFactorTTL() time.Duration { return 10 * time.Minute }
func (testConfig) GetSecondFactorMaxAttempts() int   { return 3 }

// setupPlatform opens an in memory platform with the portal tables.
func setupPlatform(t *testing.T) *local.Platform {
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
	return p
}

// seedAccount creates an identity and, when status is set, its profile.
func seedAccount(t *testing.T, p *local.Platform, email string, role alumni.Role, status alumni.Status) *alumni.Profile {
	t.Helper()
	ctx := context.Background()

	identity, err := p.Auth.CreateIdentity(ctx, email, testPassword, map[string]any{"role": string(role)})
	require.NoError(t, err)

	profile := &alumni.Profile{
		ID:        identity.ID,
		FirstName: "Maria",
		LastName:  "Santos",
		Email:     identity.Email,
		Role:      role,
		Status:    status,
		Course:    "BS Computer Science",
		BatchYear: "2019",
		StudentID: "2015-" + uuid.NewString()[:5],
	}
	if status == "" {
		return profile
	}

	require.NoError(t, alumni.NewProfilesRepository(p.Database).Insert(ctx, profile))
	return profile
}

func staffUser(id string, role alumni.Role) *alumni.SessionUser {
	return &alumni.SessionUser{ID: id, Email: id + "@example.edu", Name: "Staff", Role: role, Status: alumni.StatusVerified}
}
