// Package scheduler runs the nightly index refresh on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named unit of scheduled work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type jobEntry struct {
	job     Job
	spec    string
	cronID  cron.EntryID
	running bool
	lastRun time.Time
	lastErr error
}

// JobStatus describes a registered job.
type JobStatus struct {
	Name      string
	Spec      string
	Running   bool
	LastRun   time.Time
	LastError string
	NextRun   time.Time
}

// ErrJobRunning is returned by RunNow while the job is still running.
var ErrJobRunning = errors.New("job already running")

// Scheduler runs jobs on cron specs. A job never overlaps with itself: a
// tick that arrives while the previous run is busy is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*schedulerOptions)

type schedulerOptions struct {
	logger   *slog.Logger
	location *time.Location
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *schedulerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLocation sets the time zone specs are evaluated in. Default local.
func WithLocation(loc *time.Location) Option {
	return func(o *schedulerOptions) {
		if loc != nil {
			o.location = loc
		}
	}
}

// New creates a stopped Scheduler.
func New(opts ...Option) *Scheduler {
	o := schedulerOptions{logger: slog.Default(), location: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(o.location)),
		logger: o.logger,
		jobs:   make(map[string]*jobEntry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under a five-field cron spec.
func (s *Scheduler) Add(spec string, job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	entry := &jobEntry{job: job, spec: spec}
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.run(s.ctx, entry); errors.Is(err, ErrJobRunning) {
			s.logger.Warn("skipping scheduled run, previous run still busy", "job", job.Name)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job %q: %w", job.Name, err)
	}
	entry.cronID = id
	s.jobs[job.Name] = entry
	s.logger.Info("scheduled job", "job", job.Name, "spec", spec)
	return nil
}

// RunNow runs a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	entry, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, entry)
}

func (s *Scheduler) run(ctx context.Context, entry *jobEntry) (err error) {
	s.mu.Lock()
	if entry.running {
		s.mu.Unlock()
		return ErrJobRunning
	}
	entry.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", entry.job.Name, r)
		}
		s.mu.Lock()
		entry.running = false
		entry.lastRun = start
		entry.lastErr = err
		s.mu.Unlock()
		s.wg.Done()

		if err != nil {
			s.logger.Error("job failed", "job", entry.job.Name, "duration", time.Since(start), "error", err)
			return
		}
		s.logger.Info("job completed", "job", entry.job.Name, "duration", time.Since(start))
	}()

	s.logger.Info("job started", "job", entry.job.Name)
	return entry.job.Run(ctx)
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling, cancels running jobs and waits for them until ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if wasRunning {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// Status lists the registered jobs.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, e := range s.jobs {
		st := JobStatus{
			Name:    name,
			Spec:    e.spec,
			Running: e.running,
			LastRun: e.lastRun,
			NextRun: s.cron.Entry(e.cronID).Next,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
