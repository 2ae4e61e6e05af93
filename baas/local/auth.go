package local

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenStorageKey is the KeyValue key clients keep their access token under.
const TokenStorageKey = "baas.auth.token"

// IdentityRecord is the persisted identity row.
type IdentityRecord struct {
	bun.BaseModel `bun:"table:identities,alias:idt"`

	ID           uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	Email        string         `bun:"email,notnull,unique" json:"email"`
	PasswordHash string         `bun:"password_hash,notnull" json:"-"`
	Metadata     map[string]any `bun:"metadata,type:json" json:"metadata,omitempty"`
	LastSignInAt *time.Time     `bun:"last_sign_in_at,nullzero" json:"last_sign_in_at,omitempty"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

func (r *IdentityRecord) toIdentity() baas.Identity {
	return baas.Identity{
		ID:        r.ID.String(),
		Email:     r.Email,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
	}
}

var _ baas.AuthAdmin = (*AuthService)(nil)

// AuthService owns identities and session tokens. It implements the admin
// API directly; per client views are created with NewClient.
type AuthService struct {
	db         *bun.DB
	identities repository.Repository[*IdentityRecord]
	tokens     *TokenService
	cost       int
	hashIDs    bool
	logger     *slog.Logger
	now        func() time.Time
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) AuthOption {
	return func(s *AuthService) {
		s.cost = cost
	}
}

// WithDeterministicIDs derives identity ids from the email address.
func WithDeterministicIDs(enabled bool) AuthOption {
	return func(s *AuthService) {
		s.hashIDs = enabled
	}
}

// WithAuthLogger sets the service logger.
func WithAuthLogger(logger *slog.Logger) AuthOption {
	return func(s *AuthService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewAuthService returns an identity service backed by db.
func NewAuthService(db *bun.DB, tokens *TokenService, opts ...AuthOption) *AuthService {
	svc := &AuthService{
		db: db,
		identities: repository.NewRepository[*IdentityRecord](db, repository.ModelHandlers[*IdentityRecord]{
			NewRecord: func() *IdentityRecord { return &IdentityRecord{} },
			GetID: func(r *IdentityRecord) uuid.UUID {
				if r == nil {
					return uuid.Nil
				}
				return r.ID
			},
			SetID: func(r *IdentityRecord, id uuid.UUID) {
				if r != nil {
					r.ID = id
				}
			},
		}),
		tokens: tokens,
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	svc.logger = svc.logger.With("component", "auth")
	return svc
}

// CreateIdentity stores a new identity with a hashed password.
func (s *AuthService) CreateIdentity(ctx context.Context, email, password string, metadata map[string]any) (*baas.Identity, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, errors.New("email is required", errors.CategoryValidation).
			WithTextCode("EMAIL_REQUIRED").
			WithCode(errors.CodeBadRequest)
	}

	if _, err := s.findByEmail(ctx, email); err == nil {
		return nil, baas.ErrEmailTaken
	} else if !isNotFound(err) {
		return nil, wrapStoreErr(err, "lookup", "identities")
	}

	hash, err := HashSecret(password, s.cost)
	if err != nil {
		return nil, err
	}

	record := &IdentityRecord{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    s.now(),
	}

	if s.hashIDs {
		if id, err := hashid.NewUUID(email); err == nil {
			record.ID = id
		}
	}

	created, err := s.identities.Create(ctx, record)
	if err != nil {
		return nil, wrapStoreErr(err, "insert", "identities")
	}

	s.logger.Debug("identity created", "id", created.ID, "email", created.Email)

	identity := created.toIdentity()
	return &identity, nil
}

// DeleteIdentity removes the identity. Missing identities are reported with
// baas.ErrNoRows.
func (s *AuthService) DeleteIdentity(ctx context.Context, id string) error {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid identity id").
			WithTextCode("INVALID_IDENTITY_ID")
	}

	res, err := s.db.NewDelete().
		Model((*IdentityRecord)(nil)).
		Where("id = ?", uid).
		Exec(ctx)
	if err != nil {
		return wrapStoreErr(err, "delete", "identities")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(baas.ErrNoRows, errors.CategoryNotFound, fmt.Sprintf("identity %s not found", id))
	}

	s.logger.Debug("identity deleted", "id", id)
	return nil
}

// NewClient returns a client view that keeps its session token in storage.
func (s *AuthService) NewClient(storage baas.KeyValue) *Client {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &Client{
		svc:       s,
		storage:   storage,
		listeners: map[int]baas.AuthStateCallback{},
	}
}

func (s *AuthService) authenticate(ctx context.Context, email, password string) (*baas.Session, error) {
	record, err := s.findByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return nil, baas.ErrInvalidCredentials
		}
		return nil, wrapStoreErr(err, "lookup", "identities")
	}

	ok, err := CompareSecret(password, record.PasswordHash)
	if err != nil || !ok {
		return nil, baas.ErrInvalidCredentials
	}

	s.touch(ctx, record)
	return s.tokens.Issue(record.toIdentity())
}

// federate signs in the identity owning the provider verified email. New
// identities get a random password nobody knows, so only the provider can
// sign them in until a reset.
func (s *AuthService) federate(ctx context.Context, pi baas.ProviderIdentity, create bool) (*baas.Session, error) {
	email := normalizeEmail(pi.Email)
	if email == "" || strings.TrimSpace(pi.Provider) == "" {
		return nil, baas.ErrInvalidCredentials
	}

	record, err := s.findByEmail(ctx, email)
	switch {
	case err == nil:
		s.touch(ctx, record)
		return s.tokens.Issue(record.toIdentity())
	case !isNotFound(err):
		return nil, wrapStoreErr(err, "lookup", "identities")
	case !create:
		return nil, baas.ErrInvalidCredentials
	}

	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{}
	for k, v := range pi.Metadata {
		metadata[k] = v
	}
	metadata["provider"] = pi.Provider
	metadata["provider_subject"] = pi.Subject

	identity, err := s.CreateIdentity(ctx, email, secret, metadata)
	if err != nil {
		return nil, err
	}

	s.logger.Info("identity created from provider", "id", identity.ID, "provider", pi.Provider)
	return s.tokens.Issue(*identity)
}

func (s *AuthService) touch(ctx context.Context, record *IdentityRecord) {
	if _, err := s.db.NewUpdate().
		Model((*IdentityRecord)(nil)).
		Set("last_sign_in_at = ?", s.now()).
		Where("id = ?", record.ID).
		Exec(ctx); err != nil {
		s.logger.Warn("failed to track sign in", "id", record.ID, "error", err)
	}
}

func (s *AuthService) session(ctx context.Context, token string) (*baas.Session, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, baas.ErrTokenMalformed
	}

	record := &IdentityRecord{}
	err = s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", uid).Limit(1).Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, baas.ErrNoSession
		}
		return nil, wrapStoreErr(err, "lookup", "identities")
	}

	session := &baas.Session{
		AccessToken: token,
		Identity:    record.toIdentity(),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *AuthService) findByEmail(ctx context.Context, email string) (*IdentityRecord, error) {
	record := &IdentityRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrap(sql.ErrNoRows, errors.CategoryNotFound, "identity not found").
				WithMetadata(map[string]any{
					"email": email,
				})
		}
		return nil, err
	}
	return record, nil
}

var _ baas.FederatedAuthClient = (*Client)(nil)

// Client is one browser or CLI view of the auth API.
type Client struct {
	svc     *AuthService
	storage baas.KeyValue

	mu        sync.Mutex
	listeners map[int]baas.AuthStateCallback
	nextID    int
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*baas.Session, error) {
	session, err := c.svc.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.storage.Set(TokenStorageKey, session.AccessToken)
	c.notify(ctx, baas.AuthEventSignedIn, session)
	return session, nil
}

// SignInWithProvider signs in an identity verified by an external provider.
func (c *Client) SignInWithProvider(ctx context.Context, identity baas.ProviderIdentity, create bool) (*baas.Session, error) {
	session, err := c.svc.federate(ctx, identity, create)
	if err != nil {
		return nil, err
	}

	c.storage.Set(TokenStorageKey, session.AccessToken)
	c.notify(ctx, baas.AuthEventSignedIn, session)
	return session, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*baas.Identity, error) {
	return c.svc.CreateIdentity(ctx, email, password, metadata)
}

func (c *Client) SignOut(ctx context.Context) error {
	c.storage.Remove(TokenStorageKey)
	c.notify(ctx, baas.AuthEventSignedOut, nil)
	return nil
}

// CurrentSession returns the stored session or nil. Stale tokens are
// discarded.
func (c *Client) CurrentSession(ctx context.Context) (*baas.Session, error) {
	token, ok := c.storage.Get(TokenStorageKey)
	if !ok || token == "" {
		return nil, nil
	}

	session, err := c.svc.session(ctx, token)
	if err != nil {
		if baas.HasTextCode(err, baas.TextCodeUnavailable) {
			return nil, err
		}
		c.svc.logger.Debug("discarding stored session", "error", err)
		c.storage.Remove(TokenStorageKey)
		return nil, nil
	}
	return session, nil
}

func (c *Client) OnAuthStateChange(cb baas.AuthStateCallback) baas.Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = cb
	c.mu.Unlock()

	return baas.SubscriptionFunc(func() error {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
		return nil
	})
}

func (c *Client) Storage() baas.KeyValue {
	return c.storage
}

func (c *Client) notify(ctx context.Context, event baas.AuthEvent, session *baas.Session) {
	c.mu.Lock()
	cbs := make([]baas.AuthStateCallback, 0, len(c.listeners))
	for _, cb := range c.listeners {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(ctx, event, session)
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "generating identity secret")
	}
	return hex.EncodeToString(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
