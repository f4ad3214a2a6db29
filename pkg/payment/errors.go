package payment

import (
	"errors"
	"fmt"
)

// Class distinguishes gateway failures so callers can decide how to react.
type Class string

const (
	// ClassNotFound means the resource was deleted upstream.
	ClassNotFound Class = "not_found"
	// ClassTransient covers network failures and rate limits; retrying is safe.
	ClassTransient Class = "transient"
	// ClassConfiguration means credentials are missing or invalid. It
	// short-circuits every billing operation.
	ClassConfiguration Class = "configuration"
	// ClassRejected means the provider refused the request as invalid.
	ClassRejected Class = "rejected"
)

var (
	ErrNotFound         = errors.New("payment: resource not found")
	ErrTransient        = errors.New("payment: transient provider failure")
	ErrNotConfigured    = errors.New("payment: billing provider not configured")
	ErrRejected         = errors.New("payment: request rejected by provider")
	ErrInvalidSignature = errors.New("payment: invalid event signature")
)

// Error is a classified gateway failure.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment %s: %s: %v", e.Op, e.Class, e.Err)
	}
	return fmt.Sprintf("payment %s: %s", e.Op, e.Class)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the class sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Class == ClassNotFound
	case ErrTransient:
		return e.Class == ClassTransient
	case ErrNotConfigured:
		return e.Class == ClassConfiguration
	case ErrRejected:
		return e.Class == ClassRejected
	}
	return false
}

func newError(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of err, or "" when err is not a gateway error.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, ErrNotConfigured):
		return ClassConfiguration
	case errors.Is(err, ErrRejected):
		return ClassRejected
	}
	return ""
}
