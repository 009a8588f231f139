package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTransitionErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("store: %w", &TransitionError{JobID: "j1", From: JobStatusSucceeded, To: JobStatusRunning})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("errors.Is(%v, ErrInvalidTransition) = false", err)
	}
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.From != JobStatusSucceeded {
		t.Fatalf("errors.As = %+v", terr)
	}
	missing := &TransitionError{JobID: "j2", To: JobStatusRunning}
	if got := missing.Error(); got != "invalid transition: job j2 not found (to running)" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestBackendErrorUnwraps(t *testing.T) {
	err := NewBackendError(FailureTimeout, context.DeadlineExceeded)
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatal("backend error should match ErrProviderFailure")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("backend error should unwrap its cause")
	}
	if got := NewBackendError(FailureInvalidResult, nil).Error(); got != "backend invalid_result" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestDeliveryErrorUnwraps(t *testing.T) {
	cause := errors.New("no route")
	err := &DeliveryError{UserID: "u1", JobID: "j1", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("delivery error should unwrap its cause")
	}
	if got := err.Error(); got != "deliver to u1 (job j1): no route" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestJobCloneAndDuration(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	job := Job{
		ID:         "j1",
		Status:     JobStatusSucceeded,
		Result:     &Artifact{StorageKey: "a"},
		CreatedAt:  start,
		FinishedAt: start.Add(3 * time.Second),
	}
	clone := job.Clone()
	clone.Result.StorageKey = "b"
	if job.Result.StorageKey != "a" {
		t.Fatal("Clone aliases the result")
	}
	if job.Duration() != 3*time.Second {
		t.Fatalf("Duration = %v", job.Duration())
	}
	if (Job{CreatedAt: start}).Duration() != 0 {
		t.Fatal("active job should report zero duration")
	}
	if !JobStatusFailed.Terminal() || JobStatusRunning.Terminal() || !JobStatusQueued.Active() {
		t.Fatal("status predicates disagree with the lifecycle")
	}
}
