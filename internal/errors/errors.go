// Package errors provides structured error types for the showcase engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout          = errors.New("operation timed out")
	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrUnavailable      = errors.New("service unavailable")
	ErrNotFound         = errors.New("resource not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrFieldNotAllowed  = errors.New("field not in mutation allow-list")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrAgentUnavailable = errors.New("subagent unavailable")
	ErrProtocol         = errors.New("stream protocol violation")
	ErrStateCorrupt     = errors.New("project state corrupt")
	ErrStreamClosed     = errors.New("stream already closed")
)

// UpstreamError represents an error from an external API call (LLM provider,
// image service). The status code drives retry classification.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError creates a new upstream API error.
func NewUpstreamError(service string, statusCode int, message string) *UpstreamError {
	return &UpstreamError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch upErr.StatusCode {
		case 429, 500, 502, 503, 504, 529:
			return true
		}
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// IsValidation returns true if the error rejects bad input. Validation errors
// are never retried; the caller gets a correction and the turn continues.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrFieldNotAllowed) || errors.Is(err, ErrUnknownTool)
}

// IsFatal returns true if the error must abort the turn. Fatal errors are
// protocol violations and corrupted state; no retry and no fallback apply.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProtocol) || errors.Is(err, ErrStateCorrupt)
}

// IsDelegation returns true if the error marks a subagent as unreachable,
// which routes the turn to the fallback compositor instead of failing it.
func IsDelegation(err error) bool {
	return errors.Is(err, ErrAgentUnavailable)
}
