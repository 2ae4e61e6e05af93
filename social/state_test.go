package social

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateManagerRoundTrip(t *testing.T) {
	sm := NewStateManager("alumni-test-signing-key-0123456789", 10*time.Minute)

	state := &OAuthState{Provider: "google", CodeVerifier: "test-verifier"}
	encoded, err := sm.Encode(state)
	require.NoError(t, err)
	assert.NotEmpty(t, state.Nonce)

	decoded, err := sm.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, *state, *decoded)
}

func TestStateManagerExpiredState(t *testing.T) {
	sm := NewStateManager("alumni-test-signing-key-0123456789", time.Minute)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	encoded, err := sm.Encode(&OAuthState{Provider: "google"})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = sm.Decode(encoded)
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestStateManagerRejectsTampering(t *testing.T) {
	sm := NewStateManager("alumni-test-signing-key-0123456789", time.Minute)
	encoded, err := sm.Encode(&OAuthState{Provider: "google"})
	require.NoError(t, err)

	other := NewStateManager("another-signing-key-0123456789abcd", time.Minute)
	_, err = other.Decode(encoded)
	assert.ErrorIs(t, err, ErrInvalidState)

	flipped := []byte(encoded)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}
	_, err = sm.Decode(string(flipped))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = sm.Decode(strings.Repeat("x", 10))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCodeChallengeIsS256(t *testing.T) {
	// RFC 7636 appendix B
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		codeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}
