// Package apperr defines the error taxonomy shared across the exchange: a
// small set of classifiable kinds so callers (the HTTP layer, the
// settlement coordinator's retry loop) can branch on *why* something
// failed instead of pattern-matching error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and transport-status decisions.
type Kind string

const (
	KindValidationFailed       Kind = "validation_failed"
	KindRPCTransient           Kind = "rpc_transient"
	KindRPCFatal               Kind = "rpc_fatal"
	KindSignerNotOwner         Kind = "signer_not_owner"
	KindInsufficientLockedBase Kind = "insufficient_locked_base_on_source"
	KindInsufficientLockedQuote Kind = "insufficient_locked_quote_on_destination"
	KindNetworkNotConfigured   Kind = "network_not_configured"
	KindTimeout                Kind = "timeout"
	KindInternal               Kind = "internal"
)

// Error is a classified, wrapped error. It satisfies the standard errors.Is
// / errors.Unwrap protocol so callers can still test against sentinel
// causes when one is present.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether a caller should retry a call that failed
// with err: only transient RPC conditions are worth retrying.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindRPCTransient
	}
	return false
}

// KindOf extracts the Kind of err, or KindInternal if err is not a
// classified *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the transport-level status code used when the
// error reaches the HTTP layer, independent of the application-level
// status_code envelope field (see httpapi).
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidationFailed:
		return 400
	case KindInternal:
		return 500
	case KindTimeout:
		return 200 // surfaced as {settled:false, reason:"timeout"}, not a transport error
	default:
		return 200
	}
}
