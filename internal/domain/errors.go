package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError. Transport codes are derived from it at the
// HTTP boundary only.
type ErrorKind string

const (
	KindConfiguration   ErrorKind = "configuration"
	KindNotFound        ErrorKind = "not_found"
	KindAuthorization   ErrorKind = "authorization"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindValidation      ErrorKind = "validation"
	KindConflict        ErrorKind = "conflict"
	KindProvider        ErrorKind = "provider"
	KindPersistence     ErrorKind = "persistence"
	KindInternal        ErrorKind = "internal"
)

// AppError is a structured application error.
type AppError struct {
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Kind: KindNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Kind: KindUnauthenticated, Message: msg}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Kind: KindAuthorization, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Kind: KindValidation, Message: msg}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Kind: KindConflict, Message: msg}
}

func ErrConfiguration(msg string, err error) *AppError {
	return &AppError{Kind: KindConfiguration, Message: msg, Err: err}
}

func ErrProvider(msg string, err error) *AppError {
	return &AppError{Kind: KindProvider, Message: msg, Err: err}
}

func ErrPersistence(msg string, err error) *AppError {
	return &AppError{Kind: KindPersistence, Message: msg, Err: err}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == kind
}

// ErrDuplicate is returned by storage when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate record")
