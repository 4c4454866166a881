package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies an application error for the HTTP surface.
type Code string

const (
	CodeNotAuthenticated       Code = "not_authenticated"
	CodeInsufficientPermission Code = "insufficient_permission"
	CodeRepoNotFound           Code = "repo_not_found"
	CodeInvalidPayload         Code = "invalid_payload"
	CodeInternal               Code = "internal_error"
)

// ErrJobExists is returned when a bootstrap or backfill is requested for a
// lock key that already has a non-terminal job. Callers treat it as success.
var ErrJobExists = errors.New("a sync job is already active for this repository")

// ErrJobTerminal is returned when a state transition targets a job already in
// done or failed. A worker receiving it has been superseded and must stand
// down; only ResetJobPending may revive a terminal row.
var ErrJobTerminal = errors.New("sync job is already in a terminal state")

// AppError is a typed application error carried up to the HTTP handlers.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewNotAuthenticated(message string) *AppError {
	return &AppError{Code: CodeNotAuthenticated, Message: message}
}

func NewInsufficientPermission(message string) *AppError {
	return &AppError{Code: CodeInsufficientPermission, Message: message}
}

func NewRepoNotFound(owner, name string) *AppError {
	return &AppError{Code: CodeRepoNotFound, Message: fmt.Sprintf("repository %s/%s is not connected", owner, name)}
}

func NewInvalidPayload(message string, err error) *AppError {
	return &AppError{Code: CodeInvalidPayload, Message: message, Err: err}
}

func NewInternal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

// RateLimitError is raised when the GitHub API signals rate limiting. It is
// distinguishable from generic request failures so retry policies can back
// off by RetryAfter instead of failing the job.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github rate limit exceeded, retry after %s", e.RetryAfter)
}

// IsRateLimit reports whether err wraps a RateLimitError and returns the
// suggested delay when it does.
func IsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
