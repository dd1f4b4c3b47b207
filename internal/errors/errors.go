// Package errors defines the error taxonomy shared across the dispatch
// pipeline. Provider failures are values, never panics: the routing and
// triage layers absorb them and fall through to the next backend.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("invalid input")
	ErrTimeout     = errors.New("timeout")
	ErrRateLimited = errors.New("rate limited")
	ErrUnavailable = errors.New("service unavailable")
	ErrGeocoding   = errors.New("geocoding failed")
)

// Kind categorizes a dispatch error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindProvider   Kind = "provider"
	KindRateLimit  Kind = "rate_limit"
	KindInternal   Kind = "internal"
	KindTimeout    Kind = "timeout"
)

// DispatchError is a structured error for pipeline operations.
type DispatchError struct {
	Kind       Kind
	Op         string // operation that failed, e.g. "plan_incident"
	Provider   string // external provider name if applicable
	Err        error
	StatusCode int // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *DispatchError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is against the base error types.
func (e *DispatchError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRateLimited:
		return e.Kind == KindRateLimit
	case ErrUnavailable:
		return e.Kind == KindInternal
	}
	return errors.Is(e.Err, target)
}

// New creates a DispatchError.
func New(kind Kind, op string, err error) *DispatchError {
	return &DispatchError{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(kind),
	}
}

// WithProvider attaches the external provider name.
func (e *DispatchError) WithProvider(name string) *DispatchError {
	e.Provider = name
	return e
}

// WithStatusCode attaches an HTTP status code and reclassifies retryability.
// 429 becomes a rate-limit error so callers can open a backoff window.
func (e *DispatchError) WithStatusCode(code int) *DispatchError {
	e.StatusCode = code
	switch {
	case code == 429:
		e.Kind = KindRateLimit
		e.Retryable = true
	case code >= 500 || code == 408:
		e.Retryable = true
	case code >= 400:
		e.Retryable = false
	}
	return e
}

func isRetryable(kind Kind) bool {
	switch kind {
	case KindProvider, KindTimeout, KindRateLimit, KindInternal:
		return true
	default:
		return false
	}
}

// Validation wraps a validation failure (never retried, surfaced to caller).
func Validation(op string, err error) error {
	return New(KindValidation, op, err)
}

// Conflict wraps a data-integrity violation; the surrounding transaction
// must be rolled back.
func Conflict(op string, err error) error {
	return New(KindConflict, op, err)
}

// Provider wraps a soft provider failure with context.
func Provider(op, provider string, err error) error {
	return New(KindProvider, op, err).WithProvider(provider)
}

// IsRateLimited reports whether err is an HTTP 429 style failure.
func IsRateLimited(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind == KindRateLimit || de.StatusCode == 429
	}
	return errors.Is(err, ErrRateLimited)
}

// IsRetryable reports whether the operation may be retried or fall through
// to the next provider.
func IsRetryable(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
