package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/latoulicious/tarumae-voice/pkg/pipeline"
)

// JobFunc is a maintenance task. ctx is cancelled when the scheduler stops.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	fn       JobFunc
	entry    cron.EntryID

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name     string
	Schedule string
	Running  bool
	LastRun  time.Time
	LastErr  error
	NextRun  time.Time
}

// Scheduler runs named maintenance jobs on cron schedules (with a seconds
// field). A job never overlaps with itself: a tick that finds the previous
// run still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger pipeline.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewScheduler creates a stopped scheduler
func NewScheduler(logger pipeline.Logger) *Scheduler {
	if logger == nil {
		logger = pipeline.NullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger.With(pipeline.String("component", "scheduler")),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// AddJob registers fn under name. Names are unique.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	entryID, err := s.cron.AddFunc(schedule, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}
	j.entry = entryID
	s.jobs[name] = j

	s.logger.Info("Scheduled job",
		pipeline.String("job", name),
		pipeline.String("schedule", schedule),
	)
	return nil
}

// Start starts the cron scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunNow runs a job immediately in the calling goroutine. It reports false
// if the job is unknown or already running.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.run(j)
}

func (s *Scheduler) run(j *job) bool {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		s.logger.Debug("Job already in progress, skipping", pipeline.String("job", j.name))
		return false
	}
	j.running = true
	j.mu.Unlock()

	start := time.Now()
	err := j.fn(s.ctx)

	j.mu.Lock()
	j.running = false
	j.lastRun = start
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		s.logger.Warn("Job failed",
			pipeline.String("job", j.name),
			pipeline.Duration("took", time.Since(start)),
			pipeline.Error(err),
		)
	} else {
		s.logger.Debug("Job completed",
			pipeline.String("job", j.name),
			pipeline.Duration("took", time.Since(start)),
		)
	}
	return true
}

// NextRun returns the next scheduled run of a job, zero if unknown or not started.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(j.entry).Next
}

// Status returns the status of a job.
func (s *Scheduler) Status(name string) (JobStatus, bool) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return JobStatus{}, false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{
		Name:     j.name,
		Schedule: j.schedule,
		Running:  j.running,
		LastRun:  j.lastRun,
		LastErr:  j.lastErr,
		NextRun:  s.cron.Entry(j.entry).Next,
	}, true
}
