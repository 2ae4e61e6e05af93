package alumni

import (
	"net/http"

	"github.com/goliatone/go-alumni/baas"
	"github.com/goliatone/go-errors"
)

// ErrorKind classifies workflow errors independent of their message.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindAccountRejected    ErrorKind = "account_rejected"
	KindAccountPending     ErrorKind = "account_pending"
	KindValidation         ErrorKind = "validation"
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindPartialSubmission  ErrorKind = "partial_submission"
	KindForbidden          ErrorKind = "forbidden"
	KindUnavailable        ErrorKind = "unavailable"
	KindInternal           ErrorKind = "internal"
)

// ErrInvalidCredentials is returned by login for unknown email or bad password
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryAuth).
	WithTextCode(string(KindInvalidCredentials)).
	WithCode(errors.CodeUnauthorized)

// ErrAccountRejected is returned when a rejected alumni tries to sign in
var ErrAccountRejected = errors.New("your registration was declined, contact the alumni office", errors.CategoryAuthz).
	WithTextCode(string(KindAccountRejected)).
	WithCode(errors.CodeForbidden)

// ErrAccountPending is returned by actions that need a verified account
var ErrAccountPending = errors.New("your registration is awaiting approval", errors.CategoryAuthz).
	WithTextCode(string(KindAccountPending)).
	WithCode(errors.CodeForbidden)

// ErrProfileNotFound is returned when a profile row does not exist
var ErrProfileNotFound = errors.New("profile not found", errors.CategoryNotFound).
	WithTextCode(string(KindNotFound)).
	WithCode(errors.CodeNotFound)

// ErrDuplicateProfile is returned when more than one profile matches an identity
var ErrDuplicateProfile = errors.New("multiple profiles for identity", errors.CategoryConflict).
	WithTextCode(string(KindConflict)).
	WithCode(errors.CodeConflict)

// ErrPartialSubmission is returned when the identity was created but the profile was not
var ErrPartialSubmission = errors.New("registration could not be completed, please try again", errors.CategoryOperation).
	WithTextCode(string(KindPartialSubmission)).
	WithCode(errors.CodeInternal)

// ErrForbidden is returned when the actor lacks the role for an action
var ErrForbidden = errors.New("not allowed", errors.CategoryAuthz).
	WithTextCode(string(KindForbidden)).
	WithCode(errors.CodeForbidden)

// ErrUnavailable marks platform failures
var ErrUnavailable = errors.New("service temporarily unavailable", errors.CategoryOperation).
	WithTextCode(string(KindUnavailable)).
	WithCode(http.StatusServiceUnavailable)

// ErrInvalidInput marks rejected user input
var ErrInvalidInput = errors.New("invalid input", errors.CategoryValidation).
	WithTextCode(string(KindValidation)).
	WithCode(errors.CodeBadRequest)

var textCodeKinds = map[string]ErrorKind{
	string(KindInvalidCredentials): KindInvalidCredentials,
	string(KindAccountRejected):    KindAccountRejected,
	string(KindAccountPending):     KindAccountPending,
	string(KindValidation):         KindValidation,
	string(KindNotFound):           KindNotFound,
	string(KindConflict):           KindConflict,
	string(KindPartialSubmission):  KindPartialSubmission,
	string(KindForbidden):          KindForbidden,
	string(KindUnavailable):        KindUnavailable,
	string(KindInternal):           KindInternal,

	textCodeInvalidTransition: KindConflict,
	textCodeStaffTransition:   KindConflict,

	baas.TextCodeInvalidCredentials: KindInvalidCredentials,
	baas.TextCodeNoRows:             KindNotFound,
	baas.TextCodeMultipleRows:       KindConflict,
	baas.TextCodeEmailTaken:         KindConflict,
	baas.TextCodeNoSession:          KindInvalidCredentials,
	baas.TextCodeTokenExpired:       KindInvalidCredentials,
	baas.TextCodeTokenMalformed:     KindInvalidCredentials,
	baas.TextCodeUnavailable:        KindUnavailable,
}

// KindOf classifies err. The outermost recognised text code wins; rich errors
// without a known code fall back to their category.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var fallback ErrorKind
	for cur := err; cur != nil; {
		var rich *errors.Error
		if !errors.As(cur, &rich) {
			break
		}
		if kind, ok := textCodeKinds[rich.TextCode]; ok {
			return kind
		}
		if fallback == "" {
			fallback = kindForCategory(rich)
		}
		cur = rich.Source
	}

	if fallback != "" {
		return fallback
	}
	return KindInternal
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func kindForCategory(rich *errors.Error) ErrorKind {
	switch rich.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return KindValidation
	case errors.CategoryNotFound:
		return KindNotFound
	case errors.CategoryConflict:
		return KindConflict
	case errors.CategoryAuth:
		return KindInvalidCredentials
	case errors.CategoryAuthz:
		return KindForbidden
	case errors.CategoryOperation:
		return KindUnavailable
	default:
		return ""
	}
}

// StatusCode maps an error kind to an HTTP status.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindAccountRejected, KindAccountPending, KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// annotate returns a copy of base carrying meta, leaving the sentinel intact.
func annotate(base *errors.Error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	return clone.WithMetadata(meta)
}
