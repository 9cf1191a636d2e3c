// Package errs defines the error taxonomy shared by every service and the
// workflow orchestrator. The orchestrator inspects the kind of a failure to
// decide between retry and compensation, so classification is explicit rather
// than implicit.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind identifies a class of failure with a fixed retry policy.
type Kind string

const (
	// Malformed input, rejected at the boundary.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"

	// The referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"

	// Optimistic concurrency check failed. Retry only after re-reading
	// state; never retried blindly.
	KindVersionConflict Kind = "VERSION_CONFLICT"

	// The requested state change is not an edge of the entity's FSM.
	// Permanent.
	KindIllegalTransition Kind = "ILLEGAL_TRANSITION"

	// The fare would violate positive unit economics. Permanent.
	KindEconomicGuardrail Kind = "ECONOMIC_GUARDRAIL"

	// Trip creation was refused because pricing failed or violated unit
	// economics. Permanent.
	KindPricingRejected Kind = "PRICING_REJECTED"

	// No valid pricing configuration has ever been loaded. Permanent.
	KindConfigUnavailable Kind = "CONFIG_UNAVAILABLE"

	// Transient infrastructure failure (timeout, connection refused, 503).
	// Retried with bounded attempts.
	KindUnavailable Kind = "UNAVAILABLE"

	// Everything else.
	KindInternal Kind = "INTERNAL"
)

// Error carries a kind, a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches against another *Error by kind, so
// errors.Is(err, errs.NotFound("")) style checks work through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ─── Constructors per kind ──────────────────────────────────

func InvalidArgument(msg string) *Error   { return New(KindInvalidArgument, msg) }
func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func VersionConflict(msg string) *Error   { return New(KindVersionConflict, msg) }
func IllegalTransition(msg string) *Error { return New(KindIllegalTransition, msg) }
func EconomicGuardrail(msg string) *Error { return New(KindEconomicGuardrail, msg) }
func PricingRejected(msg string) *Error   { return New(KindPricingRejected, msg) }
func ConfigUnavailable(msg string) *Error { return New(KindConfigUnavailable, msg) }
func Unavailable(msg string) *Error       { return New(KindUnavailable, msg) }

// ─── Classification ─────────────────────────────────────────

// KindOf extracts the kind of an error, classifying plain context and
// network failures as UNAVAILABLE so callers treat them as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	return KindInternal
}

// IsKind reports whether err has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether the failure is worth retrying as-is.
// Version conflicts are NOT transient: they require a state re-read first.
func IsTransient(err error) bool {
	return KindOf(err) == KindUnavailable
}
