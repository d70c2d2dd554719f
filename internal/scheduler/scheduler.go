// Package scheduler fires recurring vault jobs: inbox processing,
// dashboard refresh, briefings, audits, signal merges. Jobs are
// edge-triggered and never overlap themselves; ticks missed while the
// process was down are not replayed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vaultops-systems/vaultops/internal/metrics"
	"github.com/vaultops-systems/vaultops/internal/retry"
)

// Job is one recurring task. Exactly one of Every or At must be set.
type Job struct {
	Name string

	// Every fires on a fixed interval, first at start+Every.
	Every time.Duration

	// At fires once a day at the given local "HH:MM", optionally only
	// on one weekday.
	At      string
	Weekday *time.Weekday

	Run func(ctx context.Context) error
}

type jobState struct {
	job     Job
	at      time.Duration // offset from local midnight, At jobs only
	lastRun time.Time
	running bool
}

// Scheduler drives a set of jobs off a shared clock.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*jobState
	clock  retry.Clock
	logger *slog.Logger
	tick   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. The tick is the due-check cadence, not a job
// cadence; 0 means 30 seconds.
func New(clock retry.Clock, logger *slog.Logger, tick time.Duration) *Scheduler {
	if clock == nil {
		clock = retry.RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{clock: clock, logger: logger.With("component", "scheduler"), tick: tick}
}

// Add registers a job. Returns an error for a malformed cadence.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}
	if (job.Every <= 0) == (job.At == "") {
		return fmt.Errorf("job %q needs exactly one of every or at", job.Name)
	}
	st := &jobState{job: job}
	if job.At != "" {
		t, err := time.Parse("15:04", job.At)
		if err != nil {
			return fmt.Errorf("job %q: bad at time %q: %w", job.Name, job.At, err)
		}
		st.at = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Interval jobs first fire one interval after registration; daily
	// jobs whose time already passed today wait for tomorrow.
	now := s.clock.Now()
	st.lastRun = now
	s.jobs = append(s.jobs, st)
	return nil
}

// Start begins the due-check loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("scheduler started", "jobs", len(s.jobs))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopping")
				return
			case <-s.clock.After(s.tick):
				s.fire(ctx)
			}
		}
	}()
}

// Stop waits for the loop and any running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

// fire runs every due job. Each fires in its own goroutine so one slow
// job does not starve the rest.
func (s *Scheduler) fire(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.jobs {
		if !s.due(st, now) {
			continue
		}
		if st.running {
			metrics.SchedulerOverlaps.Add(1)
			s.logger.Warn("job still running, skipping tick", "job", st.job.Name)
			// Mark the tick consumed so a long run does not fire again
			// the instant it finishes.
			st.lastRun = now
			continue
		}
		st.running = true
		st.lastRun = now
		st := st

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				st.running = false
				s.mu.Unlock()
			}()
			metrics.SchedulerRuns.Add(1)
			start := time.Now()
			if err := st.job.Run(ctx); err != nil {
				s.logger.Error("job failed", "job", st.job.Name, "error", err)
				return
			}
			s.logger.Info("job finished", "job", st.job.Name, "elapsed", time.Since(start).Round(time.Millisecond))
		}()
	}
}

// due decides edge-triggering. Caller holds the lock.
func (s *Scheduler) due(st *jobState, now time.Time) bool {
	if st.job.Every > 0 {
		return now.Sub(st.lastRun) >= st.job.Every
	}

	if st.job.Weekday != nil && now.Weekday() != *st.job.Weekday {
		return false
	}
	fireAt := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(st.at)
	if now.Before(fireAt) {
		return false
	}
	// Already fired at or after today's slot?
	return st.lastRun.Before(fireAt)
}
