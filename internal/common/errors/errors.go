// Package errors provides the closed error taxonomy surfaced by the engine
// and orchestrator, plus classification helpers for retry decisions.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind identifies one of the closed set of error categories.
type Kind string

const (
	KindInvalid          Kind = "Invalid"
	KindNotFound         Kind = "NotFound"
	KindPermissionDenied Kind = "PermissionDenied"
	KindRateLimited      Kind = "RateLimited"
	KindTimeout          Kind = "Timeout"
	KindTransient        Kind = "Transient"
	KindFatal            Kind = "Fatal"
	KindCancelled        Kind = "Cancelled"
	KindLowConfidence    Kind = "LowConfidence"
	KindOverloaded       Kind = "Overloaded"
)

// Error is an application error carrying a Kind from the closed taxonomy.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Invalid creates a schema/validation error.
func Invalid(message string) *Error {
	return New(KindInvalid, message)
}

// NotFound creates a not-found error for a resource.
func NotFound(resource, id string) *Error {
	return Newf(KindNotFound, "%s %q not found", resource, id)
}

// PermissionDenied creates an authorization error.
func PermissionDenied(message string) *Error {
	return New(KindPermissionDenied, message)
}

// Cancelled creates a cancellation error.
func Cancelled(message string) *Error {
	return New(KindCancelled, message)
}

// Timeout creates a deadline-expiry error.
func Timeout(message string) *Error {
	return New(KindTimeout, message)
}

// KindOf classifies an arbitrary error into the taxonomy. Unknown errors that
// look like provider/network hiccups ("timeout" in the message, or an error
// carrying a "response" envelope) classify as retriable; everything else is Fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return KindTimeout
	}
	if strings.Contains(msg, "response") {
		return KindTransient
	}
	return KindFatal
}

// Retriable reports whether the engine may retry a failure of this kind.
func Retriable(kind Kind) bool {
	switch kind {
	case KindTimeout, KindRateLimited, KindTransient:
		return true
	}
	return false
}

// ExitCode maps a terminal task outcome to the CLI exit code contract:
// 0 completed, 1 failed, 2 cancelled, 3 Invalid/PermissionDenied.
func ExitCode(kind Kind) int {
	switch kind {
	case "":
		return 0
	case KindInvalid, KindPermissionDenied:
		return 3
	case KindCancelled:
		return 2
	default:
		return 1
	}
}
