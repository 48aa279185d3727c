package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a checkout failure. Every kind maps to exactly one HTTP
// status so the transport layer never inspects error text.
type Kind string

const (
	KindAuthentication        Kind = "authentication"
	KindAuthorization         Kind = "authorization"
	KindValidation            Kind = "validation"
	KindConfiguration         Kind = "configuration"
	KindInsufficientInventory Kind = "insufficient_inventory"
	KindPaymentDeclined       Kind = "payment_declined"
	KindPaymentTimeout        Kind = "payment_timeout"
	KindInternal              Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the response code for the error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation, KindConfiguration, KindInsufficientInventory:
		return http.StatusBadRequest
	case KindPaymentDeclined, KindPaymentTimeout:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// Public reports whether Message is safe to return to the caller. Internal
// errors are sanitized at the transport boundary; the full text goes only to
// the observability sink.
func (e *Error) Public() bool { return e.Kind != KindInternal }

func Authentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

func Authorization(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func InsufficientInventory(format string, args ...any) *Error {
	return &Error{Kind: KindInsufficientInventory, Message: fmt.Sprintf(format, args...)}
}

func PaymentDeclined(format string, args ...any) *Error {
	return &Error{Kind: KindPaymentDeclined, Message: fmt.Sprintf(format, args...)}
}

func PaymentTimeout(format string, args ...any) *Error {
	return &Error{Kind: KindPaymentTimeout, Message: fmt.Sprintf(format, args...)}
}

func Internal(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the kind from any error in the chain. Unclassified errors
// are internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError returns the *Error in the chain, wrapping unclassified errors as
// internal so callers always have a status and a sanitization decision.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal(err, "internal error")
}
