package alumni_test

import (
	"context"
	"testing"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/baas"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProfileResolverResolvesProfile(t *testing.T) {
	p := setupPlatform(t)
	profile := seedAccount(t, p, "maria@example.edu", alumni.RoleAlumni, alumni.StatusVerified)

	resolver := alumni.NewProfileResolver(alumni.NewProfilesRepository(p.Database), alumni.WithResolverLogger(testLogger{}))

	user, err := resolver.Resolve(context.Background(), profile.ID, "ignored@example.edu")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, user.ID)
	assert.Equal(t, "maria@example.edu", user.Email)
	assert.Equal(t, "Maria Santos", user.Name)
	assert.Equal(t, alumni.RoleAlumni, user.Role)
	assert.Equal(t, alumni.StatusVerified, user.Status)
	assert.False(t, user.NeedsOnboarding)
}

func TestProfileResolverMissingProfileNeedsOnboarding(t *testing.T) {
	p := setupPlatform(t)
	resolver := alumni.NewProfileResolver(alumni.NewProfilesRepository(p.Database), alumni.WithResolverLogger(testLogger{}))

	id := uuid.NewString()
	user, err := resolver.Resolve(context.Background(), id, "new@example.edu")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "new@example.edu", user.Email)
	assert.Equal(t, alumni.PlaceholderName, user.Name)
	assert.Equal(t, alumni.RoleAlumni, user.Role)
	assert.True(t, user.NeedsOnboarding)
}

func TestProfileResolverPropagatesFailures(t *testing.T) {
	repo := &MockProfiles{}
	repo.On("GetByID", mock.Anything, "dup").Return(nil, alumni.ErrDuplicateProfile).Once()
	repo.On("GetByID", mock.Anything, "down").Return(nil, baas.ErrUnavailable).Once()

	resolver := alumni.NewProfileResolver(repo)

	_, err := resolver.Resolve(context.Background(), "dup", "")
	assert.Equal(t, alumni.KindConflict, alumni.KindOf(err))

	_, err = resolver.Resolve(context.Background(), "down", "")
	assert.Equal(t, alumni.KindUnavailable, alumni.KindOf(err))

	_, err = resolver.Resolve(context.Background(), "  ", "")
	assert.Equal(t, alumni.KindValidation, alumni.KindOf(err))
	repo.AssertExpectations(t)
}

func TestSessionUserFromProfileDefaultsRole(t *testing.T) {
	user := alumni.SessionUserFromProfile(&alumni.Profile{ID: "1", FirstName: "Ana", LastName: "Cruz"}, "ana@example.edu")
	assert.Equal(t, alumni.RoleAlumni, user.Role)
	assert.Equal(t, "ana@example.edu", user.Email)
	assert.Equal(t, "Ana Cruz", user.Name)
}

func TestFallbackUser(t *testing.T) {
	user := alumni.FallbackUser("id-1", "x@example.edu")
	assert.Equal(t, alumni.RoleAlumni, user.Role)
	assert.Equal(t, alumni.Status(""), user.Status)
	assert.False(t, user.NeedsOnboarding)
}
