package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidPrompt     = errors.New("invalid prompt")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrProviderFailure   = errors.New("provider failure")
)

// FailureKind distinguishes why a generation did not produce an image.
type FailureKind string

const (
	FailureTimeout       FailureKind = "timeout"
	FailureUpstream      FailureKind = "upstream"
	FailureInvalidResult FailureKind = "invalid_result"
)

// TransitionError reports an attempted lifecycle move that is not allowed.
// It always matches ErrInvalidTransition.
type TransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("invalid transition: job %s not found (to %s)", e.JobID, e.To)
	}
	return fmt.Sprintf("invalid transition: job %s %s -> %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// BackendError wraps a generation failure with its kind. It matches
// ErrProviderFailure.
type BackendError struct {
	Kind FailureKind
	Err  error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("backend %s", e.Kind)
	}
	return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	return target == ErrProviderFailure
}

// NewBackendError builds a BackendError of the given kind.
func NewBackendError(kind FailureKind, err error) *BackendError {
	return &BackendError{Kind: kind, Err: err}
}

// DeliveryError reports that a notification could not be delivered after the
// job already reached a terminal state.
type DeliveryError struct {
	UserID string
	JobID  string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s (job %s): %v", e.UserID, e.JobID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
