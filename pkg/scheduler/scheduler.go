package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"markethub/pkg/logger"
)

// Outcome is the result recorded for one job tick
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Job is a named recurring task. Either Interval fires on a fixed cadence, or
// AtHour fires daily at the given wall-clock hour.
type Job struct {
	Name     string
	Interval time.Duration
	AtHour   *int
	Handler  func(ctx context.Context) error
}

// JobStatus is a read-only snapshot of one job's state
type JobStatus struct {
	Name         string        `json:"name"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"lastRun,omitzero"`
	LastOutcome  Outcome       `json:"lastOutcome"`
	LastError    string        `json:"lastError,omitempty"`
	LastDuration time.Duration `json:"lastDuration"`
	Runs         int           `json:"runs"`
	Skips        int           `json:"skips"`
}

type jobEntry struct {
	job Job

	mu           sync.Mutex
	running      bool
	lastRun      time.Time
	lastOutcome  Outcome
	lastError    string
	lastDuration time.Duration
	runs         int
	skips        int
}

// Scheduler runs registered jobs on independent timers. A tick that arrives
// while the same job is still running is skipped, never queued.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*jobEntry
	order   []string
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *logger.Logger
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*jobEntry),
		log:  logger.Get().With("component", "scheduler"),
	}
}

// Register adds a job to the schedule. Must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if job.Handler == nil {
		return fmt.Errorf("job %s has no handler", job.Name)
	}
	if job.AtHour == nil && job.Interval <= 0 {
		return fmt.Errorf("job %s has no schedule", job.Name)
	}
	if job.AtHour != nil && (*job.AtHour < 0 || *job.AtHour > 23) {
		return fmt.Errorf("job %s has invalid hour %d", job.Name, *job.AtHour)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job already registered: %s", job.Name)
	}
	s.jobs[job.Name] = &jobEntry{job: job}
	s.order = append(s.order, job.Name)
	return nil
}

// Start launches one timer loop per registered job
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn("scheduler already started, skipping duplicate start")
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	entries := make([]*jobEntry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.jobs[name])
	}
	s.mu.Unlock()

	for _, entry := range entries {
		s.wg.Add(1)
		go s.runLoop(ctx, entry)
	}
	s.log.InfoWith("scheduler started", "jobs", len(entries))
}

// Stop cancels all job contexts and waits for in-flight handlers until the
// given context expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop grace period expired with jobs still running")
		return ctx.Err()
	}
}

// Snapshot returns the status of every job in registration order
func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	entries := make([]*jobEntry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.jobs[name])
	}
	s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		statuses = append(statuses, JobStatus{
			Name:         e.job.Name,
			Running:      e.running,
			LastRun:      e.lastRun,
			LastOutcome:  e.lastOutcome,
			LastError:    e.lastError,
			LastDuration: e.lastDuration,
			Runs:         e.runs,
			Skips:        e.skips,
		})
		e.mu.Unlock()
	}
	return statuses
}

func (s *Scheduler) runLoop(ctx context.Context, e *jobEntry) {
	defer s.wg.Done()

	timer := time.NewTimer(s.delayUntilNext(e))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.dispatch(ctx, e)
			timer.Reset(s.delayUntilNext(e))
		}
	}
}

// delayUntilNext returns the wait before the job's next tick
func (s *Scheduler) delayUntilNext(e *jobEntry) time.Duration {
	if e.job.AtHour == nil {
		return e.job.Interval
	}
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), *e.job.AtHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return time.Until(next)
}

// dispatch starts the handler unless the previous run is still in flight
func (s *Scheduler) dispatch(ctx context.Context, e *jobEntry) {
	e.mu.Lock()
	if e.running {
		e.skips++
		e.lastOutcome = OutcomeSkipped
		e.mu.Unlock()
		s.log.WarnWith("job still running, skipping tick", "job", e.job.Name)
		return
	}
	e.running = true
	e.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, e)
	}()
}

func (s *Scheduler) run(ctx context.Context, e *jobEntry) {
	start := time.Now()
	s.log.InfoWith("job started", "job", e.job.Name)

	err := s.invoke(ctx, e)

	duration := time.Since(start)
	e.mu.Lock()
	e.running = false
	e.lastRun = start
	e.lastDuration = duration
	e.runs++
	if err != nil {
		e.lastOutcome = OutcomeFailed
		e.lastError = err.Error()
	} else {
		e.lastOutcome = OutcomeSuccess
		e.lastError = ""
	}
	e.mu.Unlock()

	if err != nil {
		s.log.ErrorWithErr("job failed", err, "job", e.job.Name, "duration", duration)
	} else {
		s.log.InfoWith("job completed", "job", e.job.Name, "duration", duration)
	}
}

// invoke runs the handler with panic containment at the job boundary
func (s *Scheduler) invoke(ctx context.Context, e *jobEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", e.job.Name, r)
		}
	}()
	return e.job.Handler(ctx)
}
