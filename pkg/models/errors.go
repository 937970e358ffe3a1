package models

import (
	"errors"
	"fmt"
)

// Error categories for the fusion/response pipeline. Callers branch on category,
// not message text.
type ErrorKind int

const (
	ErrKindValidation ErrorKind = iota
	ErrKindConfiguration
	ErrKindStorage
	ErrKindNotification
)

// Error wraps a cause with a category and a transient hint. Storage errors are
// retryable; notification errors are per-channel and recorded, never fatal.
type Error struct {
	Kind      ErrorKind
	Msg       string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a non-retryable input error.
func Validation(msg string) error {
	return &Error{Kind: ErrKindValidation, Msg: msg}
}

// Configf builds a configuration error; these are fatal at startup.
func Configf(format string, args ...any) error {
	return &Error{Kind: ErrKindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Storagef wraps a storage failure as retryable.
func Storagef(err error, format string, args ...any) error {
	return &Error{Kind: ErrKindStorage, Msg: fmt.Sprintf(format, args...), Transient: true, Err: err}
}

// Notifyf wraps a per-channel notification failure.
func Notifyf(err error, format string, args ...any) error {
	return &Error{Kind: ErrKindNotification, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err (or anything it wraps) carries the given category.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTransient reports whether the caller may retry the failed operation.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}
