// Package cerrors provides structured error types for collabd.
package cerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
)

// NotFound wraps ErrNotFound with a caller-facing message, e.g. "Agent not found".
func NotFound(what string) error {
	return fmt.Errorf("%s not found: %w", what, ErrNotFound)
}

// Invalid wraps ErrInvalidInput with a caller-facing message,
// e.g. "agentId is required".
func Invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrInvalidInput)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalid reports whether err is (or wraps) ErrInvalidInput.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Message returns the human-readable part of a wrapped sentinel error.
// For "Agent not found: resource not found" it returns "Agent not found".
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if inner := errors.Unwrap(err); inner != nil {
		suffix := ": " + inner.Error()
		if len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
			return msg[:len(msg)-len(suffix)]
		}
	}
	return msg
}
