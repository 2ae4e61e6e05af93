package alumni

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-alumni/baas"
)

// Logger is the structured logger used across the package. Messages are
// followed by key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds portal options consumed by the HTTP layer
type Config interface {
	GetSessionCookieName() string
	GetCookieSecure() bool
	GetTokenExpiration() time.Duration
	GetLoginRoute() string
	GetRequireSecondFactor() bool
	GetSecondFactorTTL() time.Duration
	GetSecondFactorMaxAttempts() int
}

// ProfileResolver maps an authenticated identity to its session user.
type ProfileResolver interface {
	Resolve(ctx context.Context, identityID, email string) (*SessionUser, error)
}

// ClientFactory returns an auth client whose persisted state lives in storage.
// The HTTP layer builds one client per request, bound to the request cookies.
type ClientFactory interface {
	NewClient(storage baas.KeyValue) baas.AuthClient
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(storage baas.KeyValue) baas.AuthClient

func (f ClientFactoryFunc) NewClient(storage baas.KeyValue) baas.AuthClient {
	return f(storage)
}

// Mailer delivers transactional messages.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] ALUMNI " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] ALUMNI " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] ALUMNI " + format(msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] ALUMNI " + format(msg, args...))
}

func format(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
