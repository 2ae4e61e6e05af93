package alumni

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ChallengesTable holds pending second factor codes.
const ChallengesTable = "login_challenges"

const (
	defaultChallengeTTL         = 10 * time.Minute
	defaultChallengeMaxAttempts = 5
	challengeCodeLength         = 6
)

// ErrChallengeNotFound is returned when no code is pending for the user
var ErrChallengeNotFound = errors.New("no verification code pending, sign in again", errors.CategoryValidation).
	WithTextCode(string(KindValidation)).
	WithCode(errors.CodeBadRequest)

// ErrChallengeExpired is returned for codes older than the TTL
var ErrChallengeExpired = errors.New("the verification code expired, sign in again", errors.CategoryValidation).
	WithTextCode(string(KindValidation)).
	WithCode(errors.CodeBadRequest)

// ErrTooManyAttempts is returned once the attempt budget is exhausted
var ErrTooManyAttempts = errors.New("too many attempts, sign in again", errors.CategoryRateLimit).
	WithTextCode(string(KindForbidden)).
	WithCode(errors.CodeForbidden)

// SecondFactor issues and checks emailed one time codes.
type SecondFactor struct {
	db          baas.Database
	mailer      Mailer
	ttl         time.Duration
	maxAttempts int
	cost        int
	now         func() time.Time
	codes       func() (string, error)
	logger      Logger
}

// SecondFactorOption customizes SecondFactor.
type SecondFactorOption func(*SecondFactor)

// WithChallengeTTL sets the code lifetime.
func WithChallengeTTL(ttl time.Duration) SecondFactorOption {
	return func(sf *SecondFactor) {
		if ttl > 0 {
			sf.ttl = ttl
		}
	}
}

// WithChallengeMaxAttempts sets the number of wrong codes tolerated.
func WithChallengeMaxAttempts(n int) SecondFactorOption {
	return func(sf *SecondFactor) {
		if n > 0 {
			sf.maxAttempts = n
		}
	}
}

// WithChallengeHashCost sets the bcrypt cost for stored codes.
func WithChallengeHashCost(cost int) SecondFactorOption {
	return func(sf *SecondFactor) {
		sf.cost = cost
	}
}

// WithChallengeClock injects a clock.
func WithChallengeClock(now func() time.Time) SecondFactorOption {
	return func(sf *SecondFactor) {
		if now != nil {
			sf.now = now
		}
	}
}

// WithChallengeCodeGenerator overrides code generation.
func WithChallengeCodeGenerator(gen func() (string, error)) SecondFactorOption {
	return func(sf *SecondFactor) {
		if gen != nil {
			sf.codes = gen
		}
	}
}

// WithChallengeLogger sets the logger.
func WithChallengeLogger(logger Logger) SecondFactorOption {
	return func(sf *SecondFactor) {
		if logger != nil {
			sf.logger = logger
		}
	}
}

// NewSecondFactor returns a SecondFactor storing challenges in db and
// delivering codes through mailer.
func NewSecondFactor(db baas.Database, mailer Mailer, opts ...SecondFactorOption) *SecondFactor {
	sf := &SecondFactor{
		db:          db,
		mailer:      mailer,
		ttl:         defaultChallengeTTL,
		maxAttempts: defaultChallengeMaxAttempts,
		now:         time.Now,
		codes:       func() (string, error) { return RandomDigits(challengeCodeLength) },
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sf)
		}
	}
	return sf
}

// Issue replaces any pending challenge for user with a new code and mails it.
func (sf *SecondFactor) Issue(ctx context.Context, user *SessionUser) (*LoginChallenge, error) {
	if user == nil || user.ID == "" {
		return nil, ErrChallengeNotFound
	}

	code, err := sf.codes()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate verification code")
	}

	hash, err := HashCode(code, sf.cost)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to hash verification code")
	}

	if err := sf.clear(ctx, user.ID); err != nil {
		return nil, err
	}

	now := sf.now()
	challenge := &LoginChallenge{
		ID:        uuid.NewString(),
		ProfileID: user.ID,
		CodeHash:  hash,
		ExpiresAt: now.Add(sf.ttl),
		CreatedAt: now,
	}

	if err := sf.db.From(ChallengesTable).Insert(ctx, challenge); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "failed to store verification code").
			WithTextCode(string(KindUnavailable))
	}

	if sf.mailer != nil {
		body := fmt.Sprintf("Hello %s,\n\nYour alumni portal verification code is %s.\nIt expires in %d minutes.\n",
			user.Name, code, int(sf.ttl.Minutes()))
		if err := sf.mailer.Send(ctx, user.Email, "Your verification code", body); err != nil {
			return nil, errors.Wrap(err, errors.CategoryOperation, "failed to deliver verification code").
				WithTextCode(string(KindUnavailable))
		}
	} else {
		sf.logger.Warn("no mailer configured, verification code not delivered", "profile_id", user.ID)
	}

	sf.logger.Debug("verification code issued", "profile_id", user.ID, "expires_at", challenge.ExpiresAt)
	return challenge, nil
}

// Verify checks code against the pending challenge for user and, on
// success, marks kv as second factor verified.
func (sf *SecondFactor) Verify(ctx context.Context, kv baas.KeyValue, user *SessionUser, code string) error {
	if user == nil || user.ID == "" {
		return ErrChallengeNotFound
	}

	var pending []LoginChallenge
	err := sf.db.From(ChallengesTable).
		Select("*").
		Eq("profile_id", user.ID).
		Order("created_at", false).
		Limit(1).
		Execute(ctx, &pending)
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to load verification code").
			WithTextCode(string(KindUnavailable))
	}

	if len(pending) == 0 {
		return ErrChallengeNotFound
	}

	challenge := pending[0]

	if !sf.now().Before(challenge.ExpiresAt) {
		_ = sf.clear(ctx, user.ID)
		return ErrChallengeExpired
	}

	if challenge.Attempts >= sf.maxAttempts {
		_ = sf.clear(ctx, user.ID)
		return ErrTooManyAttempts
	}

	if err := CompareCodeAndHash(code, challenge.CodeHash); err != nil {
		attempts := challenge.Attempts + 1
		if _, uerr := sf.db.From(ChallengesTable).
			Update(map[string]any{"attempts": attempts}).
			Eq("id", challenge.ID).
			Execute(ctx); uerr != nil {
			sf.logger.Warn("failed to track verification attempt", "profile_id", user.ID, "error", uerr)
		}
		if attempts >= sf.maxAttempts {
			_ = sf.clear(ctx, user.ID)
			return ErrTooManyAttempts
		}
		return err
	}

	if err := sf.clear(ctx, user.ID); err != nil {
		sf.logger.Warn("failed to clear verification code", "profile_id", user.ID, "error", err)
	}

	if kv != nil {
		kv.Set(SecondFactorStorageKey, user.ID)
	}
	return nil
}

func (sf *SecondFactor) clear(ctx context.Context, profileID string) error {
	if _, err := sf.db.From(ChallengesTable).
		Delete().
		Eq("profile_id", profileID).
		Execute(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to clear verification codes").
			WithTextCode(string(KindUnavailable))
	}
	return nil
}
