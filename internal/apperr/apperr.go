// Package apperr defines the error taxonomy shared by the ledger core.
//
// Operations wrap one of the sentinel errors below with fmt.Errorf("...: %w")
// so callers can classify failures with errors.Is and still log the detail.
package apperr

import (
	"errors"
	"strings"
)

var (
	ErrDuplicateIdentity    = errors.New("identity already exists in this cluster")
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrUnauthorized         = errors.New("not authorized")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrValidation           = errors.New("validation error")
	ErrStorageUnavailable   = errors.New("storage unavailable")
)

// Kind is the stable, machine-readable name of an error class.
type Kind string

const (
	KindDuplicateIdentity    Kind = "duplicate_identity"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindInvalidTransition    Kind = "invalid_transition"
	KindValidation           Kind = "validation_error"
	KindStorageUnavailable   Kind = "storage_unavailable"
	KindInternal             Kind = "internal_error"
)

// ValidationError carries a field-specific message that is safe to show to
// end users.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid returns a ValidationError for field with the given message.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// KindOf classifies err. Unknown errors are reported as KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateIdentity):
		return KindDuplicateIdentity
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuthenticationFailed
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	default:
		return KindInternal
	}
}

// Message returns the user-visible text for err. Authentication and
// authorization failures collapse to their generic sentinel text so the
// response never reveals which credential part or rule failed. Validation
// errors keep their specific message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	switch KindOf(err) {
	case KindDuplicateIdentity:
		return ErrDuplicateIdentity.Error()
	case KindAuthenticationFailed:
		return ErrAuthenticationFailed.Error()
	case KindUnauthorized:
		return ErrUnauthorized.Error()
	case KindNotFound:
		return notFoundMessage(err)
	case KindInvalidTransition:
		return ErrInvalidTransition.Error()
	case KindStorageUnavailable:
		return ErrStorageUnavailable.Error()
	default:
		return "internal error"
	}
}

// notFoundMessage keeps the "<thing> not found" prefix when the wrap provides one.
func notFoundMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ErrNotFound.Error()); i > 0 {
		prefix := strings.TrimSuffix(strings.TrimSpace(msg[:i]), ":")
		if !strings.Contains(prefix, ":") {
			return prefix + " " + ErrNotFound.Error()
		}
	}
	return ErrNotFound.Error()
}
