package baas

import (
	"net/http"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeNoRows             = "BAAS_NO_ROWS"
	TextCodeMultipleRows       = "BAAS_MULTIPLE_ROWS"
	TextCodeInvalidCredentials = "BAAS_INVALID_CREDENTIALS"
	TextCodeEmailTaken         = "BAAS_EMAIL_TAKEN"
	TextCodeNoSession          = "BAAS_NO_SESSION"
	TextCodeTokenExpired       = "BAAS_TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "BAAS_TOKEN_MALFORMED"
	TextCodeUnavailable        = "BAAS_UNAVAILABLE"
	TextCodeUnknownTable       = "BAAS_UNKNOWN_TABLE"
)

// ErrNoRows is returned by Query.Single when the filter matched nothing.
var ErrNoRows = errors.New("no rows in result set", errors.CategoryNotFound).
	WithTextCode(TextCodeNoRows).
	WithCode(errors.CodeNotFound)

// ErrMultipleRows is returned by Query.Single when the filter matched more than one row.
var ErrMultipleRows = errors.New("multiple rows in result set", errors.CategoryConflict).
	WithTextCode(TextCodeMultipleRows).
	WithCode(errors.CodeConflict)

// ErrInvalidCredentials is returned by SignIn for unknown email or bad password.
var ErrInvalidCredentials = errors.New("invalid login credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrEmailTaken is returned by SignUp when the email already has an identity.
var ErrEmailTaken = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(errors.CodeConflict)

// ErrNoSession is returned by calls that need an authenticated client.
var ErrNoSession = errors.New("no active session", errors.CategoryAuth).
	WithTextCode(TextCodeNoSession).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned when a stored access token is past its expiry.
var ErrTokenExpired = errors.New("access token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned when a stored access token cannot be verified.
var ErrTokenMalformed = errors.New("access token malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrUnavailable marks transport level failures talking to the platform.
var ErrUnavailable = errors.New("platform unavailable", errors.CategoryOperation).
	WithTextCode(TextCodeUnavailable).
	WithCode(http.StatusServiceUnavailable)

// ErrUnknownTable is returned by From for tables the platform does not know.
var ErrUnknownTable = errors.New("unknown table", errors.CategoryBadInput).
	WithTextCode(TextCodeUnknownTable).
	WithCode(errors.CodeBadRequest)

// IsNoRows reports whether err is, or wraps, ErrNoRows.
func IsNoRows(err error) bool {
	return HasTextCode(err, TextCodeNoRows)
}

// HasTextCode walks the error chain looking for a rich error carrying code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var rich *errors.Error
		if errors.As(err, &rich) {
			if rich.TextCode == code {
				return true
			}
			if rich.Source == nil {
				return false
			}
			err = rich.Source
			continue
		}
		return false
	}
	return false
}
