package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindRender        ErrorKind = "render"
	KindTimeout       ErrorKind = "timeout"
	KindRateLimited   ErrorKind = "rate_limited"
	KindTransient     ErrorKind = "transient"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrRender        = errors.New("render error")
)

// Error is a failure tagged with its kind and whether a retry may succeed.
type Error struct {
	Kind      ErrorKind
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrRender:
		return e.Kind == KindRender
	}
	return false
}

// NonRetryable tags err as a failure that must abort without retrying.
func NonRetryable(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Retryable: false, Err: err}
}

// Retryable tags err as a failure worth retrying.
func Retryable(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Retryable: true, Err: err}
}

// IsRetryable reports whether err may succeed on retry. Untagged errors are
// retryable; cancellation of the parent context is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}
