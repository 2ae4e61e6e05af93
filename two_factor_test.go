package alumni_test

import (
	"context"
	"testing"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/baas/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func fixedCode(code string) func() (string, error) {
	return func() (string, error) { return code, nil }
}

func newSecondFactor(t *testing.T, p *local.Platform, mailer alumni.Mailer, opts ...alumni.SecondFactorOption) *alumni.SecondFactor {
	t.Helper()
	base := []alumni.SecondFactorOption{
		alumni.WithChallengeHashCost(bcrypt.MinCost),
		alumni.WithChallengeCodeGenerator(fixedCode("424242")),
		alumni.WithChallengeLogger(testLogger{}),
	}
	return alumni.NewSecondFactor(p.Database, mailer, append(base, opts...)...)
}

func TestSecondFactorIssueMailsCode(t *testing.T) {
	p := setupPlatform(t)
	profile := seedAccount(t, p, "mfa@example.edu", alumni.RoleAlumni, alumni.StatusVerified)
	user := alumni.SessionUserFromProfile(profile, "")
	mailer := &recordingMailer{}

	sf := newSecondFactor(t, p, mailer)

	challenge, err := sf.Issue(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, challenge.ProfileID)
	assert.NotEqual(t, "424242", challenge.CodeHash)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "mfa@example.edu", sent[0].To)
	assert.Contains(t, sent[0].Body, "424242")
}

func TestSecondFactorVerifyMarksStorage(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "verify@example.edu", alumni.RoleAlumni, alumni.StatusVerified)
	user := alumni.SessionUserFromProfile(profile, "")

	sf := newSecondFactor(t, p, &recordingMailer{})
	_, err := sf.Issue(ctx, user)
	require.NoError(t, err)

	kv := local.NewMemoryStorage()
	require.NoError(t, sf.Verify(ctx, kv, user, "424242"))
	assert.True(t, alumni.SecondFactorPassed(kv, user.ID))

	err = sf.Verify(ctx, kv, user, "424242")
	assert.Equal(t, alumni.KindValidation, alumni.KindOf(err))
}

func TestSecondFactorReissueReplacesCode(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "reissue@example.edu", alumni.RoleAlumni, alumni.StatusVerified)
	user := alumni.SessionUserFromProfile(profile, "")

	codes := []string{"111111", "222222"}
	next := 0
	sf := newSecondFactor(t, p, &recordingMailer{}, alumni.WithChallengeCodeGenerator(func() (string, error) {
		c := codes[next]
		next++
		return c, nil
	}))

	_, err := sf.Issue(ctx, user)
	require.NoError(t, err)
	_, err = sf.Issue(ctx, user)
	require.NoError(t, err)

	kv := local.NewMemoryStorage()
	assert.Error(t, sf.Verify(ctx, kv, user, "111111"))
	require.NoError(t, sf.Verify(ctx, kv, user, "222222"))
}

func TestSecondFactorExpiredCode(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "expired@example.edu", alumni.RoleAlumni, alumni.StatusVerified)
	user := alumni.SessionUserFromProfile(profile, "")

	now := time.Now()
	sf := newSecondFactor(t, p, &recordingMailer{},
		alumni.WithChallengeTTL(time.Minute),
		alumni.WithChallengeClock(func() time.Time { return now }),
	)
	_, err := sf.Issue(ctx, user)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	err = sf.Verify(ctx, local.NewMemoryStorage(), user, "424242")
	require.Error(t, err)
	assert.ErrorIs(t, err, alumni.ErrChallengeExpired)
	assert.Equal(t, alumni.KindValidation, alumni.KindOf(err))
}

func TestSecondFactorAttemptBudget(t *testing.T) {
	p := setupPlatform(t)
	ctx := context.Background()
	profile := seedAccount(t, p, "budget@example.edu", alumni.RoleAlumni, alumni.StatusVerified)
	user := alumni.SessionUserFromProfile(profile, "")

	sf := newSecondFactor(t, p, &recordingMailer{}, alumni.WithChallengeMaxAttempts(2))
	_, err := sf.Issue(ctx, user)
	require.NoError(t, err)

	kv := local.NewMemoryStorage()
	err = sf.Verify(ctx, kv, user, "000000")
	assert.Equal(t, alumni.KindValidation, alumni.KindOf(err))

	err = sf.Verify(ctx, kv, user, "000000")
	assert.Equal(t, alumni.KindForbidden, alumni.KindOf(err))

	err = sf.Verify(ctx, kv, user, "424242")
	assert.Equal(t, alumni.KindValidation, alumni.KindOf(err), "challenge is dropped after the budget is spent")
	assert.False(t, alumni.SecondFactorPassed(kv, user.ID))
}

func TestSecondFactorMailerFailure(t *testing.T) {
	p := setupPlatform(t)
	profile := seedAccount(t, p, "nomail@example.edu", alumni.RoleAlumni, alumni.StatusVerified)

	sf := newSecondFactor(t, p, &recordingMailer{err: assert.AnError})
	_, err := sf.Issue(context.Background(), alumni.SessionUserFromProfile(profile, ""))
	assert.Equal(t, alumni.KindUnavailable, alumni.KindOf(err))
}
