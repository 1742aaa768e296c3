package common

import (
	"context"
	"errors"
)

// Class groups failures by how a caller should react to them.
type Class string

const (
	ClassAuth       Class = "auth"
	ClassPhase      Class = "phase"
	ClassCapacity   Class = "capacity"
	ClassValidation Class = "validation"
	ClassArithmetic Class = "arithmetic"
	ClassExternal   Class = "external"
)

// Retryable reports whether resubmitting the same call can succeed once the
// failed guard is satisfied (time passes, capacity frees up, the phase moves).
func (c Class) Retryable() bool {
	switch c {
	case ClassPhase, ClassCapacity, ClassExternal:
		return true
	default:
		return false
	}
}

// Error is a sentinel error tagged with its class. Compare with errors.Is.
type Error struct {
	class Class
	msg   string
}

// NewError defines a classified sentinel.
func NewError(class Class, msg string) *Error {
	return &Error{class: class, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Class returns the taxonomy class of the sentinel.
func (e *Error) Class() Class { return e.class }

// Classify maps any error to its class. Unclassified errors come from
// collaborators and are reported as external.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPhase
	}
	return ClassExternal
}
