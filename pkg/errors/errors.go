package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the well-known error categories used across the framework.
// The compiler only ever produces InvalidInput, InvalidConfiguration and
// BindingFailure; the runtime kinds drive the orchestrator retry policy.
type Kind string

const (
	KindInvalidInput         Kind = "INVALID_INPUT"
	KindInvalidConfiguration Kind = "INVALID_CONFIGURATION"
	KindBindingFailure       Kind = "BINDING_FAILURE"
	KindTransient            Kind = "TRANSIENT_FAILURE"
	KindPermanent            Kind = "PERMANENT_FAILURE"
	KindTimeout              Kind = "TIMEOUT"
	KindCancelled            Kind = "CANCELLED"
)

// Error is the typed error carried across every public boundary. It stays
// free of infrastructure dependencies; contextual metadata lives in Context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As usage.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches on kind so callers can compare against sentinel values built
// with the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// WithContext clones the error with additional contextual metadata.
func (e *Error) WithContext(ctx map[string]any) *Error {
	if e == nil {
		return nil
	}
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Error{Kind: e.Kind, Message: e.Message, Cause: e.Cause, Context: merged}
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewInvalidInput reports a user-supplied value rejected by invariants.
// Never retried.
func NewInvalidInput(message string, cause error) *Error {
	return newError(KindInvalidInput, message, cause)
}

// NewInvalidConfiguration reports ambiguous or contradictory configuration.
// Fatal at compile time.
func NewInvalidConfiguration(message string, cause error) *Error {
	return newError(KindInvalidConfiguration, message, cause)
}

// NewBindingFailure reports an IR symbol that cannot be bound against the
// descriptor set.
func NewBindingFailure(message string, cause error) *Error {
	return newError(KindBindingFailure, message, cause)
}

// NewTransient reports a retryable operation failure.
func NewTransient(message string, cause error) *Error {
	return newError(KindTransient, message, cause)
}

// NewPermanent reports a non-retryable runtime failure, including exhausted
// transient retries.
func NewPermanent(message string, cause error) *Error {
	return newError(KindPermanent, message, cause)
}

// NewTimeout reports an operation that exceeded its bounded budget. Treated
// as permanent by the failure policy.
func NewTimeout(message string, cause error) *Error {
	return newError(KindTimeout, message, cause)
}

// NewCancelled reports an externally cancelled invocation. Propagated
// without parking.
func NewCancelled(message string, cause error) *Error {
	return newError(KindCancelled, message, cause)
}

// Classify maps an arbitrary error onto the taxonomy. Typed errors keep
// their kind; context errors map to Cancelled/Timeout; everything else is
// conservatively classified as permanent.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindPermanent
}

// IsRetryable reports whether the failure policy may retry the error.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}
