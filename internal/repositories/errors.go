package repositories

import (
	"errors"
	"fmt"
)

// ErrorCode classifies repository failures.
type ErrorCode string

const (
	ErrorUnknown     ErrorCode = "unknown"
	ErrorNotFound    ErrorCode = "not_found"
	ErrorCorrupt     ErrorCode = "corrupt"
	ErrorUnavailable ErrorCode = "unavailable"
)

// Error is the RepositoryError implementation used by the KV repositories.
type Error struct {
	Op   string
	Code ErrorCode
	Err  error
}

// NewError constructs a classified repository error.
func NewError(op string, code ErrorCode, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

// Unwrap exposes the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Code == ErrorNotFound }
func (e *Error) IsCorrupt() bool     { return e != nil && e.Code == ErrorCorrupt }
func (e *Error) IsUnavailable() bool { return e != nil && e.Code == ErrorUnavailable }

// IsNotFound reports whether err is a repository not-found failure.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsCorrupt reports whether err is a repository decode failure.
func IsCorrupt(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsCorrupt()
}
