package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	alumni "github.com/goliatone/go-alumni"
	"github.com/goliatone/go-alumni/baas"
)

var (
	ErrTokenMismatch  = errors.New("CSRF token mismatch")
	ErrTokenMissing   = errors.New("CSRF token missing")
	ErrTokenExpired   = errors.New("CSRF token expired")
	ErrStorageMissing = errors.New("CSRF session storage missing")
)

// DefaultTokenLength is the default length for CSRF tokens
const DefaultTokenLength = 32

// DefaultContextKey is the default key for storing CSRF tokens in context
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// StorageKey is where the token lives in the session key value store.
const StorageKey = "alumni.csrf_token"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(*fiber.Ctx) bool

	// TokenLength defines the length of the generated token
	TokenLength int

	// ContextKey defines the key for storing the token in context
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// TokenLookup defines where to look for the token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	// Store returns the session key value store holding the token
	Store func(*fiber.Ctx) baas.KeyValue

	// ErrorHandler defines the error handler
	ErrorHandler func(*fiber.Ctx, error) error

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long tokens are valid
	Expiration time.Duration

	now func() time.Time
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(*fiber.Ctx) string

// New creates a new CSRF middleware. It must run after the portal session
// middleware so the session store is available.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Skip != nil && cfg.Skip(c) {
			return c.Next()
		}

		kv := cfg.Store(c)
		if kv == nil {
			return cfg.ErrorHandler(c, ErrStorageMissing)
		}

		token, expiresAt, err := getOrGenerateToken(kv, cfg)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, token)
		c.Locals(cfg.ContextKey+"_expires", expiresAt)
		c.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
		c.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

		// safe methods don't require validation
		if slices.Contains(cfg.SafeMethods, strings.ToUpper(c.Method())) {
			return c.Next()
		}

		if err := validateToken(c, cfg, token); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		return c.Next()
	}
}

// getOrGenerateToken returns the session token, issuing a new one when none
// is stored or the stored one expired.
func getOrGenerateToken(kv baas.KeyValue, cfg Config) (string, time.Time, error) {
	if raw, ok := kv.Get(StorageKey); ok {
		if token, expiresAt, ok := decodeStored(raw); ok && cfg.now().Before(expiresAt) {
			return token, expiresAt, nil
		}
	}

	token, err := generateToken(cfg.TokenLength)
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := cfg.now().Add(cfg.Expiration)
	kv.Set(StorageKey, strconv.FormatInt(expiresAt.Unix(), 10)+":"+token)
	return token, expiresAt, nil
}

func decodeStored(raw string) (string, time.Time, bool) {
	ts, token, found := strings.Cut(raw, ":")
	if !found || token == "" {
		return "", time.Time{}, false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return token, time.Unix(unix, 0), true
}

// validateToken validates the CSRF token from the request
func validateToken(c *fiber.Ctx, cfg Config, expectedToken string) error {
	receivedToken := extractToken(c, cfg)
	if receivedToken == "" {
		return ErrTokenMissing
	}

	if expectedToken == "" {
		return ErrTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(receivedToken), []byte(expectedToken)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

// generateToken generates a cryptographically secure random token
func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func extractToken(c *fiber.Ctx, cfg Config) string {
	for _, extractor := range getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName) {
		if token := extractor(c); token != "" {
			return token
		}
	}
	return ""
}

// getExtractors returns token extractors based on configuration
func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	if tokenLookup == "" {
		return []TokenExtractor{
			extractorFromForm(formField),
			extractorFromHeader(header),
		}
	}

	var extractors []TokenExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		part = strings.TrimSpace(part)
		if field, ok := strings.CutPrefix(part, "form:"); ok {
			extractors = append(extractors, extractorFromForm(field))
		} else if name, ok := strings.CutPrefix(part, "header:"); ok {
			extractors = append(extractors, extractorFromHeader(name))
		}
	}
	return extractors
}

// extractorFromForm extracts token from form data
func extractorFromForm(fieldName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.FormValue(fieldName)
	}
}

// extractorFromHeader extracts token from request header
func extractorFromHeader(headerName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// configDefault returns a default config
func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.Store == nil {
		cfg.Store = func(c *fiber.Ctx) baas.KeyValue { return alumni.StorageFrom(c) }
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.now == nil {
		cfg.now = time.Now
	}

	return cfg
}

// defaultErrorHandler answers with the portal error body.
func defaultErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusForbidden
	kind := alumni.KindForbidden
	switch err {
	case ErrTokenMissing:
		status = fiber.StatusBadRequest
		kind = alumni.KindValidation
	case ErrStorageMissing:
		status = fiber.StatusServiceUnavailable
		kind = alumni.KindUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"kind":    kind,
			"message": err.Error(),
		},
	})
}
