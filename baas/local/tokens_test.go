package local

import (
	"testing"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenServiceAudience(t *testing.T) {
	key := []byte("alumni-test-signing-key-0123456789")
	identity := baas.Identity{ID: "id-1", Email: "grad@example.com"}

	portal := NewTokenService(key, time.Hour, "alumni", "portal", "registrar-console")
	session, err := portal.Issue(identity)
	require.NoError(t, err)

	claims, err := portal.Verify(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.Subject)

	console := NewTokenService(key, time.Hour, "alumni", "registrar-console")
	_, err = console.Verify(session.AccessToken)
	require.NoError(t, err)

	other := NewTokenService(key, time.Hour, "alumni", "mobile")
	_, err = other.Verify(session.AccessToken)
	require.Error(t, err)

	open := NewTokenService(key, time.Hour, "alumni")
	_, err = open.Verify(session.AccessToken)
	assert.NoError(t, err)
}

func TestTokenServiceExpired(t *testing.T) {
	key := []byte("alumni-test-signing-key-0123456789")
	ts := NewTokenService(key, time.Minute, "alumni")
	session, err := ts.Issue(baas.Identity{ID: "id-1"})
	require.NoError(t, err)

	ts.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = ts.Verify(session.AccessToken)
	assert.ErrorIs(t, err, baas.ErrTokenExpired)
}
