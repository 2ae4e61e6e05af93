package alumni_test

import (
	"context"
	"sync"
	"testing"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/baas/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSessionStoreInitializeWithoutSession(t *testing.T) {
	p := setupPlatform(t)
	client := p.NewClient(local.NewMemoryStorage())
	store := alumni.NewSessionStore(client, alumni.NewProfileResolver(alumni.NewProfilesRepository(p.Database)),
		alumni.WithSessionStoreLogger(testLogger{}))
	t.Cleanup(func() { _ = store.Close() })

	assert.True(t, store.State().Loading)

	require.NoError(t, store.Initialize(context.Background()))
	state := store.State()
	assert.False(t, state.Loading)
	assert.False(t, state.IsAuthenticated())
	assert.Nil(t, store.User())
}

func TestSessionStoreRestoresPersistedSession(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "restore@example.edu", alumni.RoleAdmin, alumni.StatusVerified)

	kv := local.NewMemoryStorage()
	_, err := p.NewClient(kv).SignIn(ctx, profile.Email, testPassword)
	require.NoError(t, err)

	store := alumni.NewSessionStore(p.NewClient(kv), alumni.NewProfileResolver(alumni.NewProfilesRepository(p.Database)),
		alumni.WithSessionStoreLogger(testLogger{}))
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Initialize(ctx))
	require.True(t, store.IsAuthenticated())
	assert.Equal(t, alumni.RoleAdmin, store.User().Role)
	assert.Equal(t, profile.ID, store.User().ID)
}

func TestSessionStoreTracksSignInAndLogout(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "track@example.edu", alumni.RoleAlumni, alumni.StatusVerified)

	client := p.NewClient(local.NewMemoryStorage())
	store := alumni.NewSessionStore(client, alumni.NewProfileResolver(alumni.NewProfilesRepository(p.Database)),
		alumni.WithSessionStoreLogger(testLogger{}))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Initialize(ctx))

	var mu sync.Mutex
	var states []alumni.SessionState
	unsubscribe := store.Subscribe(func(s alumni.SessionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer unsubscribe()

	_, err := client.SignIn(ctx, profile.Email, testPassword)
	require.NoError(t, err)
	require.True(t, store.IsAuthenticated())
	assert.Equal(t, profile.ID, store.User().ID)

	client.Storage().Set(alumni.RegistrationDraftKey, "{}")
	require.NoError(t, store.Logout(ctx))
	assert.False(t, store.IsAuthenticated())

	_, ok := client.Storage().Get(alumni.RegistrationDraftKey)
	assert.False(t, ok)
	_, ok = client.Storage().Get(local.TokenStorageKey)
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.False(t, states[len(states)-1].IsAuthenticated())
}

func TestSessionStoreUsesFallbackWhenResolverFails(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "fallback@example.edu", alumni.RoleSuperAdmin, alumni.StatusVerified)

	resolver := &MockResolver{}
	resolver.On("Resolve", mock.Anything, profile.ID, profile.Email).Return(nil, alumni.ErrUnavailable)

	client := p.NewClient(local.NewMemoryStorage())
	store := alumni.NewSessionStore(client, resolver, alumni.WithSessionStoreLogger(testLogger{}))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Initialize(ctx))

	_, err := client.SignIn(ctx, profile.Email, testPassword)
	require.NoError(t, err)

	user := store.User()
	require.NotNil(t, user)
	assert.Equal(t, alumni.RoleAlumni, user.Role)
	assert.Equal(t, alumni.Status(""), user.Status)
}

func TestSessionStoreRefreshAfterOnboarding(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "refresh@example.edu", alumni.RoleAlumni, "")

	client := p.NewClient(local.NewMemoryStorage())
	store := alumni.NewSessionStore(client, alumni.NewProfileResolver(alumni.NewProfilesRepository(p.Database)),
		alumni.WithSessionStoreLogger(testLogger{}))
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Initialize(ctx))

	_, err := client.SignIn(ctx, profile.Email, testPassword)
	require.NoError(t, err)
	assert.True(t, store.User().NeedsOnboarding)

	profile.Status = alumni.StatusPending
	require.NoError(t, alumni.NewProfilesRepository(p.Database).Insert(ctx, profile))

	require.NoError(t, store.Refresh(ctx))
	assert.False(t, store.User().NeedsOnboarding)
	assert.Equal(t, alumni.StatusPending, store.User().Status)
}

func TestSessionStoreCloseStopsListening(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "close@example.edu", alumni.RoleAlumni, alumni.StatusVerified)

	client := p.NewClient(local.NewMemoryStorage())
	store := alumni.NewSessionStore(client, alumni.NewProfileResolver(alumni.NewProfilesRepository(p.Database)))
	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := client.SignIn(ctx, profile.Email, testPassword)
	require.NoError(t, err)
	assert.False(t, store.IsAuthenticated())
}
