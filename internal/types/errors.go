package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for the chat core. Validation and not-found errors are
// surfaced to the caller; upstream failures are recovered internally and
// must never reach the user.

// ValidationError indicates user-correctable bad input (shape or length).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a referenced task or conversation that is
// absent or not owned by the caller. The message is deliberately generic:
// ownership mismatch must be indistinguishable from absence.
type NotFoundError struct {
	Resource string
	Ref      string
}

func (e *NotFoundError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.Ref)
}

// NotFound builds a NotFoundError for the given resource and reference.
func NotFound(resource, ref string) error {
	return &NotFoundError{Resource: resource, Ref: ref}
}

// UpstreamUnavailableError indicates the language model failed or timed
// out. It triggers the fallback path and is never shown to the user.
type UpstreamUnavailableError struct {
	Cause error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("language model unavailable: %v", e.Cause)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Cause }

// Upstream wraps an error from the language-model collaborator.
func Upstream(cause error) error {
	return &UpstreamUnavailableError{Cause: cause}
}

// InternalError indicates a store or persistence failure during dispatch.
// Surfaced as a degraded assistant reply; the turn is still recorded.
type InternalError struct {
	Op    string
	Cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Op, e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }

// Internal wraps a persistence failure with the operation that hit it.
func Internal(op string, cause error) error {
	return &InternalError{Op: op, Cause: cause}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUpstreamUnavailable reports whether err is (or wraps) an
// UpstreamUnavailableError.
func IsUpstreamUnavailable(err error) bool {
	var ue *UpstreamUnavailableError
	return errors.As(err, &ue)
}
