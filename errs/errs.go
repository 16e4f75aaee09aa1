// Package errs provides structured error types and helpers for Centra services.
package errs

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Code identifies a failure category shared across sources and internal components.
type Code string

const (
	// CodeUnavailable indicates an upstream dependency is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeRateLimited indicates the upstream throttled the request.
	CodeRateLimited Code = "rate_limited"
	// CodeAuth indicates authentication or authorization failed against an upstream.
	CodeAuth Code = "auth"
	// CodeValidation indicates the request payload failed validation.
	CodeValidation Code = "validation"
	// CodeTimeout indicates the operation exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeConfig indicates invalid or missing configuration detected at startup.
	CodeConfig Code = "config"
	// CodeNotFound indicates a missing customer or resource.
	CodeNotFound Code = "not_found"
	// CodeCircuitOpen indicates the local circuit breaker rejected the call.
	CodeCircuitOpen Code = "circuit_open"
)

// E captures structured error information produced across the Centra stack.
type E struct {
	Source        string
	Code          Code
	Message       string
	RetryAfter    time.Duration
	Field         string
	FieldMessages []string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the named source and failure code.
func New(source string, code Code, opts ...Option) *E {
	e := &E{
		Source: strings.TrimSpace(source),
		Code:   code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithRetryAfter records how long the caller should wait before retrying.
func WithRetryAfter(d time.Duration) Option {
	return func(e *E) {
		if d < 0 {
			d = 0
		}
		e.RetryAfter = d
	}
}

// WithField names the request field that failed validation.
func WithField(field string) Option {
	trimmed := strings.TrimSpace(field)
	return func(e *E) {
		e.Field = trimmed
	}
}

// WithFieldMessages appends per-field validation detail.
func WithFieldMessages(messages ...string) Option {
	return func(e *E) {
		for _, msg := range messages {
			trimmed := strings.TrimSpace(msg)
			if trimmed == "" {
				continue
			}
			e.FieldMessages = append(e.FieldMessages, trimmed)
		}
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	source := strings.TrimSpace(e.Source)
	if source == "" {
		source = "unknown"
	}
	parts = append(parts, "source="+source)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RetryAfter > 0 {
		parts = append(parts, "retry_after="+e.RetryAfter.String())
	}
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if len(e.FieldMessages) > 0 {
		quoted := make([]string, 0, len(e.FieldMessages))
		for _, msg := range e.FieldMessages {
			quoted = append(quoted, strconv.Quote(msg))
		}
		sort.Strings(quoted)
		parts = append(parts, "detail="+strings.Join(quoted, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure code from err, walking wrapped causes.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return ""
}

// Retryable reports whether the failure category is worth retrying.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeRateLimited, CodeTimeout, CodeCircuitOpen:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the upstream-advised retry delay, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.RetryAfter
	}
	return 0
}

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsCircuitOpen reports whether err was synthesized by an open circuit breaker.
func IsCircuitOpen(err error) bool { return CodeOf(err) == CodeCircuitOpen }

// HTTPStatus maps a failure code to the status the API layer should emit.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnavailable, CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Validation builds a validation error for the named field.
func Validation(source, field string, messages ...string) *E {
	return New(source, CodeValidation, WithField(field), WithFieldMessages(messages...),
		WithMessage("validation failed for "+strings.TrimSpace(field)))
}
