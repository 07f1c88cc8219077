// Package memerrors provides the structured error taxonomy used across the
// memory engine (spec §7), adapted from the teacher's internal/errors
// AmanError type to the engine's seven-member error kind set.
package memerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy members from spec §7.
type Kind string

const (
	NotFound              Kind = "NotFound"
	UnsupportedTransition Kind = "UnsupportedTransition"
	ValidationError       Kind = "ValidationError"
	StorageError          Kind = "StorageError"
	EmbeddingUnavailable  Kind = "EmbeddingUnavailable"
	Cancelled             Kind = "Cancelled"
	CorruptData           Kind = "CorruptData"
)

// Error is the engine's structured error type. It carries enough context
// for the orchestrator to wrap tier failures with tier/op/id fields
// (spec §7 propagation rule) without losing the original cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is to match by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: cause.Error(), Cause: cause}
}

// WrapOp wraps a tier error with the orchestrator's tier/op/id context,
// matching spec §7's propagation rule.
func WrapOp(kind Kind, tier, op, id string, cause error) *Error {
	e := Wrap(kind, cause)
	if e == nil {
		e = New(kind, "")
	}
	if tier != "" {
		e.WithDetail("tier", tier)
	}
	if op != "" {
		e.WithDetail("op", op)
	}
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

// KindOf extracts the Kind from err, returning "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
