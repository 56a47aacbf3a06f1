/*
File: pkg/chat/errors.go
Description: The error taxonomy shared by all components. Handler
boundaries translate these kinds into structured rejection events.
*/
package chat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for the client. Everything except
// KindInternal is an expected, client-visible condition.
type ErrorKind string

const (
	// KindValidation marks a malformed or schema-invalid payload.
	KindValidation ErrorKind = "VALIDATION"
	// KindOverlap marks a duplicate delivery token.
	KindOverlap ErrorKind = "OVERLAP"
	// KindForbidden marks a failed permission or relationship check.
	KindForbidden ErrorKind = "FORBIDDEN"
	// KindNotFound marks an unknown session or entity.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindInvalidState marks a signaling transition attempted from an
	// incompatible call state.
	KindInvalidState ErrorKind = "INVALID_STATE"
	// KindInternal marks a collaborator failure. Logged with full context,
	// surfaced to the originating connection only.
	KindInternal ErrorKind = "INTERNAL"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error with the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError wraps a collaborator failure with a kind.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// internal by definition.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message for an error chain. Internal
// errors are masked so collaborator detail never reaches a client.
func MessageOf(err error) string {
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
