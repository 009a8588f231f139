// Package jobs keeps the in-memory table of generation jobs and enforces the
// one-active-job-per-user policy.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"promptbot/internal/domain"
)

const (
	defaultHistoryLimit = 256
	defaultHistoryTTL   = time.Hour
)

// Options tunes the bounded history of terminal jobs.
type Options struct {
	HistoryLimit int
	HistoryTTL   time.Duration
	Now          func() time.Time
	NewID        func() string
}

// Store tracks active jobs per user and a bounded log of finished ones.
// All methods are safe for concurrent use and return copies.
type Store struct {
	mu      sync.Mutex
	active  map[string]string      // user id -> job id
	jobs    map[string]*domain.Job // active jobs by id
	history []domain.Job           // terminal jobs, oldest first

	historyLimit int
	historyTTL   time.Duration
	now          func() time.Time
	newID        func() string
}

// NewStore builds an empty store.
func NewStore(opts Options) *Store {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	ttl := opts.HistoryTTL
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Store{
		active:       make(map[string]string),
		jobs:         make(map[string]*domain.Job),
		historyLimit: limit,
		historyTTL:   ttl,
		now:          now,
		newID:        newID,
	}
}

// TryAdmit registers a queued job for userID unless one is already active.
// When admitted is false the returned job is the user's existing active job.
func (s *Store) TryAdmit(userID, prompt string) (job domain.Job, admitted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[userID]; ok {
		if existing, ok := s.jobs[id]; ok {
			return existing.Clone(), false
		}
	}

	j := &domain.Job{
		ID:        s.newID(),
		UserID:    userID,
		Prompt:    prompt,
		Status:    domain.JobStatusQueued,
		CreatedAt: s.now(),
	}
	s.jobs[j.ID] = j
	s.active[userID] = j.ID
	return j.Clone(), true
}

// Withdraw forgets a queued job without recording it in history. It is used
// when admission is refused elsewhere after TryAdmit succeeded locally.
func (s *Store) Withdraw(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusQueued {
		to := domain.JobStatus("withdrawn")
		if !ok {
			return &domain.TransitionError{JobID: jobID, To: to}
		}
		return &domain.TransitionError{JobID: jobID, From: j.Status, To: to}
	}
	delete(s.jobs, jobID)
	if s.active[j.UserID] == jobID {
		delete(s.active, j.UserID)
	}
	return nil
}

// MarkRunning moves a queued job to running.
func (s *Store) MarkRunning(jobID string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.transitionLocked(jobID, domain.JobStatusQueued, domain.JobStatusRunning)
	if err != nil {
		return domain.Job{}, err
	}
	j.StartedAt = s.now()
	return j.Clone(), nil
}

// Complete records a successful generation and releases the user's slot.
func (s *Store) Complete(jobID string, result domain.Artifact) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.transitionLocked(jobID, domain.JobStatusRunning, domain.JobStatusSucceeded)
	if err != nil {
		return domain.Job{}, err
	}
	j.Result = &result
	return s.finishLocked(j), nil
}

// Fail records a failed generation and releases the user's slot.
func (s *Store) Fail(jobID string, kind domain.FailureKind, message string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.transitionLocked(jobID, domain.JobStatusRunning, domain.JobStatusFailed)
	if err != nil {
		return domain.Job{}, err
	}
	if message == "" {
		message = "generation failed"
	}
	j.ErrorMessage = message
	j.FailureKind = kind
	return s.finishLocked(j), nil
}

// ActiveJobFor returns the queued or running job owned by userID.
func (s *Store) ActiveJobFor(userID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[userID]
	if !ok {
		return domain.Job{}, false
	}
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return j.Clone(), true
}

// Get looks a job up among active jobs and the retained history.
func (s *Store) Get(jobID string) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; ok {
		return j.Clone(), true
	}
	s.evictLocked()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == jobID {
			return s.history[i].Clone(), true
		}
	}
	return domain.Job{}, false
}

// History returns retained terminal jobs, newest first.
func (s *Store) History() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	out := make([]domain.Job, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		out = append(out, s.history[i].Clone())
	}
	return out
}

// ActiveCount returns the number of queued or running jobs.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Store) transitionLocked(jobID string, from, to domain.JobStatus) (*domain.Job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		// Terminal jobs are no longer in the active table; report their real state.
		for i := len(s.history) - 1; i >= 0; i-- {
			if s.history[i].ID == jobID {
				return nil, &domain.TransitionError{JobID: jobID, From: s.history[i].Status, To: to}
			}
		}
		return nil, &domain.TransitionError{JobID: jobID, To: to}
	}
	if j.Status != from {
		return nil, &domain.TransitionError{JobID: jobID, From: j.Status, To: to}
	}
	j.Status = to
	return j, nil
}

func (s *Store) finishLocked(j *domain.Job) domain.Job {
	j.FinishedAt = s.now()
	delete(s.jobs, j.ID)
	if s.active[j.UserID] == j.ID {
		delete(s.active, j.UserID)
	}
	done := j.Clone()
	s.history = append(s.history, done)
	s.evictLocked()
	return done.Clone()
}

func (s *Store) evictLocked() {
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	cutoff := s.now().Add(-s.historyTTL)
	drop := 0
	for drop < len(s.history) && s.history[drop].FinishedAt.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		s.history = append(s.history[:0:0], s.history[drop:]...)
	}
}
