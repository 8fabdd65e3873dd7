// Package errs provides structured error types and helpers for solroute
// services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a pipeline error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNoQuote indicates that every quote provider failed or timed out.
	CodeNoQuote Code = "no_quote_available"
	// CodeSettlement indicates the venue rejected the submitted transaction.
	CodeSettlement Code = "settlement_failed"
	// CodeRetryExhausted indicates a job exceeded its attempt cap.
	CodeRetryExhausted Code = "retry_exhausted"
	// CodeVenue indicates a venue-side failure during quote discovery.
	CodeVenue Code = "venue_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict, such as a
	// duplicate job for an order already in flight.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodePersistence indicates an order record could not be written.
	CodePersistence Code = "persistence"
)

// E captures structured error information produced across the pipeline.
type E struct {
	Stage   string
	Code    Code
	Venue   string
	Message string
	Attempt int

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the pipeline stage and error code.
func New(stage string, code Code, opts ...Option) *E {
	e := &E{
		Stage:   strings.TrimSpace(stage),
		Code:    code,
		Venue:   "",
		Message: "",
		Attempt: 0,
		cause:   nil,
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

// WithVenue records the venue involved in the failure.
func WithVenue(venue string) Option {
	trimmed := strings.TrimSpace(venue)
	return func(e *E) {
		e.Venue = trimmed
	}
}

// WithAttempt records the processing attempt that produced the failure.
func WithAttempt(attempt int) Option {
	return func(e *E) {
		e.Attempt = attempt
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	stage := strings.TrimSpace(e.Stage)
	if stage == "" {
		stage = "unknown"
	}
	parts = append(parts, "stage="+stage)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Venue != "" {
		parts = append(parts, "venue="+e.Venue)
	}
	if e.Attempt > 0 {
		parts = append(parts, "attempt="+strconv.Itoa(e.Attempt))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the pipeline error code from err, walking the wrap chain.
// Errors without an envelope report CodeUnavailable so callers treat them as
// transient.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return CodeUnavailable
}

// Retryable reports whether a failed processing attempt with this error may
// be retried by the job queue. Invalid input and an exhausted attempt cap are
// final; everything else is assumed transient.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeInvalid, CodeRetryExhausted, CodeNotFound, CodeConflict:
		return false
	}
	return true
}
