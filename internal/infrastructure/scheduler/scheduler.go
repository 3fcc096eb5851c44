// Package scheduler implements background job scheduling for Voice Tutor Hub.
// Two periodic jobs keep the pipeline healthy: re-applying analyzed sessions
// that never reached applied, and purging expired memories.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voicetutor/voice-tutor-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is one periodic background task.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context carries the job timeout and is
	// cancelled when the scheduler stops.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult records one job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrJobAlreadyExists is returned when registering a duplicate job name.
	ErrJobAlreadyExists = errors.New("scheduler: job already exists")

	// ErrJobNotFound is returned when a job name is unknown.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("scheduler: already running")
)

// Scheduler runs registered jobs on fixed intervals. Each job runs in its own
// goroutine loop; a slow job delays only itself.
type Scheduler struct {
	logger     *logger.Logger
	jobTimeout time.Duration

	mu       sync.Mutex
	jobs     map[string]*scheduledJob
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastRuns map[string]JobResult
}

type scheduledJob struct {
	job      Job
	interval time.Duration
}

// New creates a Scheduler. jobTimeout bounds every job execution (0 = none).
func New(log *logger.Logger, jobTimeout time.Duration) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		logger:     log.With(logger.Component("scheduler")),
		jobTimeout: jobTimeout,
		jobs:       make(map[string]*scheduledJob),
		lastRuns:   make(map[string]JobResult),
	}
}

// Register adds a job to run every interval.
func (s *Scheduler) Register(job Job, interval time.Duration) error {
	if job == nil {
		return errors.New("scheduler: job cannot be nil")
	}
	if interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, job.Name())
	}
	s.jobs[job.Name()] = &scheduledJob{job: job, interval: interval}

	s.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.Duration("interval", interval),
	)
	return nil
}

// Start launches one loop per registered job. The first run happens after one
// full interval, not immediately: a restart storm must not hammer the
// database with every job at once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, sj := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, sj)
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", logger.Int("jobs", count))
	return nil
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	sj, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	result := s.execute(ctx, sj.job)
	return &result, result.Error
}

// LastRun returns the most recent result for a job, if it has run.
func (s *Scheduler) LastRun(name string) (JobResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, ok := s.lastRuns[name]
	return result, ok
}

func (s *Scheduler) loop(ctx context.Context, sj *scheduledJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(sj.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, sj.job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) JobResult {
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)

	result := JobResult{
		JobName:     job.Name(),
		StartedAt:   start,
		CompletedAt: time.Now(),
		Duration:    time.Since(start),
		Success:     err == nil,
		Error:       err,
	}

	s.mu.Lock()
	s.lastRuns[job.Name()] = result
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			logger.String("job", job.Name()),
			logger.Duration("duration", result.Duration),
			logger.Err(err),
		)
	} else {
		s.logger.Info("job completed",
			logger.String("job", job.Name()),
			logger.Duration("duration", result.Duration),
		)
	}

	return result
}
