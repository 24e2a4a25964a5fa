// Package jobs runs at most one cancellable background job per user.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Proton-105/claim-bot/pkg/metrics"
)

// Kind names what a job does.
type Kind string

const (
	KindClaim  Kind = "claim"
	KindLogin  Kind = "login"
	KindVerify Kind = "verify"
)

var (
	// ErrAlreadyRunning is returned by TryStart while the user has a live job.
	ErrAlreadyRunning = errors.New("jobs: user already has a running job")
	// ErrClosed is returned by TryStart once Shutdown has begun.
	ErrClosed = errors.New("jobs: supervisor is shutting down")
)

// JobFunc is the body of a background job. ctx is cancelled on shutdown only;
// user cancellation is cooperative through Job.Cancelled.
type JobFunc func(ctx context.Context, job *Job) error

// Job is a running or finished background job.
type Job struct {
	ID        uuid.UUID
	UserID    int64
	Kind      Kind
	StartedAt time.Time

	sup  *Supervisor
	done chan struct{}
}

// Cancelled reports whether the user asked to stop this job and clears the request.
func (j *Job) Cancelled() bool {
	return j.sup.consumeCancel(j)
}

// Done is closed once the job body has returned.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Supervisor owns the registry of active jobs and their cancellation flags.
type Supervisor struct {
	log *slog.Logger

	mu     sync.Mutex
	jobs   map[int64]*Job
	flags  map[int64]bool
	closed bool

	wg   sync.WaitGroup
	base context.Context
	stop context.CancelFunc
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}

	base, stop := context.WithCancel(context.Background())
	return &Supervisor{
		log:   log,
		jobs:  make(map[int64]*Job),
		flags: make(map[int64]bool),
		base:  base,
		stop:  stop,
	}
}

// TryStart registers and starts a job unless the user already has a live one.
// An entry whose job finished but was not yet removed is replaced.
func (s *Supervisor) TryStart(userID int64, kind Kind, fn JobFunc) (*Job, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if existing, ok := s.jobs[userID]; ok && !existing.finished() {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}

	job := &Job{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		StartedAt: time.Now(),
		sup:       s,
		done:      make(chan struct{}),
	}
	s.jobs[userID] = job
	delete(s.flags, userID)
	s.wg.Add(1)
	active := s.liveCountLocked()
	s.mu.Unlock()

	metrics.SetActiveJobs(active)
	s.log.Info("job started",
		slog.String("job_id", job.ID.String()),
		slog.Int64("user_id", userID),
		slog.String("kind", string(kind)),
	)

	go s.run(job, fn)
	return job, nil
}

func (s *Supervisor) run(job *Job, fn JobFunc) {
	defer s.wg.Done()
	defer s.OnJobFinished(job.UserID)
	defer close(job.done)

	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			s.log.Error("job panicked",
				slog.String("job_id", job.ID.String()),
				slog.Int64("user_id", job.UserID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
		metrics.RecordJobResult(string(job.Kind), result)
		s.log.Info("job finished",
			slog.String("job_id", job.ID.String()),
			slog.Int64("user_id", job.UserID),
			slog.String("result", result),
			slog.Duration("duration", time.Since(job.StartedAt)),
		)
	}()

	if err := fn(s.base, job); err != nil {
		result = "error"
		s.log.Warn("job returned error",
			slog.String("job_id", job.ID.String()),
			slog.Int64("user_id", job.UserID),
			slog.Any("error", err),
		)
	}
}

// Cancel flags the user's live job for cooperative cancellation.
// It returns false, and sets nothing, when no live job exists.
func (s *Supervisor) Cancel(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[userID]
	if !ok || job.finished() {
		return false
	}
	s.flags[userID] = true
	return true
}

// OnJobFinished removes the user's entry and flag if the registered job has terminated.
// It is safe to call any number of times and never removes a live job.
func (s *Supervisor) OnJobFinished(userID int64) {
	s.mu.Lock()
	job, ok := s.jobs[userID]
	if !ok || !job.finished() {
		s.mu.Unlock()
		return
	}
	delete(s.jobs, userID)
	delete(s.flags, userID)
	active := s.liveCountLocked()
	s.mu.Unlock()

	metrics.SetActiveJobs(active)
}

// IsRunning reports whether the user has a live job.
func (s *Supervisor) IsRunning(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[userID]
	return ok && !job.finished()
}

// ActiveCount returns the number of live jobs.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.liveCountLocked()
}

// Shutdown refuses new jobs, cancels the running ones and waits for them to return.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running after shutdown deadline: %w", ctx.Err())
	}
}

func (s *Supervisor) consumeCancel(job *Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs[job.UserID] != job || !s.flags[job.UserID] {
		return false
	}
	delete(s.flags, job.UserID)
	return true
}

func (s *Supervisor) liveCountLocked() int {
	count := 0
	for _, job := range s.jobs {
		if !job.finished() {
			count++
		}
	}
	return count
}
