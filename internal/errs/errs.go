// Package errs implements the error taxonomy from spec §7: a small set of
// kinds (not types), each carried by an *Error alongside the
// operation-specific detail. Callers use errors.Is against any *Error of
// the wanted Kind (only the Kind is compared) and errors.As against *Error
// for the message/kind pair.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one bucket of the spec's error taxonomy.
type Kind string

const (
	KindMalformed      Kind = "malformed"
	KindUnsupported    Kind = "unsupported"
	KindDIDNotResolved Kind = "did_not_resolved"
	KindDIDUrlNotFound Kind = "did_url_not_found"
	KindSecretNotFound Kind = "secret_not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindACLDenied      Kind = "acl_denied"
	KindInvalidState   Kind = "invalid_state"
	KindTransport      Kind = "transport"
)

// Error is a kinded error carrying a component tag and optional metadata,
// in the shape of the teacher's ComponentError: a classification plus a
// human message, joinable with an underlying cause.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind, so callers can write
// errors.Is(err, errs.New(errs.KindMalformed, "", "", nil)).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}

	return false
}

// New builds a kinded error with an optional wrapped cause.
func New(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Err: cause}
}

// Retryable reports whether a Kind is a transient failure; only
// KindTransport is. The DID-Auth handshake does not consult it: it retries
// every error except KindACLDenied.
func (k Kind) Retryable() bool {
	return k == KindTransport
}
