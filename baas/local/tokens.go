package local

import (
	"fmt"
	"log"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims are the claims carried by platform access tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// TokenService signs and verifies platform access tokens.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	jwks       *keyfunc.JWKS
	now        func() time.Time
}

// NewTokenService returns a HS256 token service.
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, audience ...string) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// WithJWKS makes Verify accept RS/ES tokens minted by a hosted platform that
// publishes its keys at jwksURL. HS256 tokens signed locally keep working.
func (ts *TokenService) WithJWKS(jwksURL string) error {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to load JWKS")
	}
	ts.jwks = jwks
	return nil
}

// Close stops background JWKS refreshes.
func (ts *TokenService) Close() {
	if ts.jwks != nil {
		ts.jwks.EndBackground()
	}
}

// Issue signs a session token for identity.
func (ts *TokenService) Issue(identity baas.Identity) (*baas.Session, error) {
	now := ts.now()
	expires := now.Add(ts.ttl)

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   identity.ID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:    identity.Email,
		Metadata: identity.Metadata,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to sign access token")
	}

	return &baas.Session{
		AccessToken: signed,
		ExpiresAt:   expires,
		Identity:    identity,
	}, nil
}

// Verify parses raw and returns the claims it carries.
func (ts *TokenService) Verify(raw string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(ts.now)}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, ts.keyfunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, baas.ErrTokenExpired
		}
		return nil, errors.Wrap(baas.ErrTokenMalformed, errors.CategoryAuth, err.Error())
	}

	if !token.Valid {
		return nil, baas.ErrTokenMalformed
	}

	if !ts.acceptsAudience(claims.Audience) {
		return nil, errors.Wrap(baas.ErrTokenMalformed, errors.CategoryAuth, "token audience not accepted")
	}

	return claims, nil
}

func (ts *TokenService) keyfunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
		return ts.signingKey, nil
	}
	if ts.jwks != nil {
		return ts.jwks.Keyfunc(t)
	}
	return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
}

// acceptsAudience reports whether aud names one of the configured audiences.
func (ts *TokenService) acceptsAudience(aud jwt.ClaimStrings) bool {
	if len(ts.audience) == 0 {
		return true
	}
	for _, want := range ts.audience {
		for _, got := range aud {
			if got == want {
				return true
			}
		}
	}
	return false
}
