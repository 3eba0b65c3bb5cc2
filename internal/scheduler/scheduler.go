// Package scheduler is the cron-driven dispatcher: it loads every active
// scheduled workflow at startup and starts a Run each time a workflow's
// cron expression fires.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oakfield/runengine/internal/store"
	"github.com/oakfield/runengine/internal/workflow"
)

// cronParser accepts the standard 5-field expression (minute hour dom
// month dow); no optional-seconds field, no @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Runner starts a Run for a scheduled workflow. *runengine.Engine
// satisfies this via its StartRun method.
type Runner interface {
	StartRun(ctx context.Context, workflowID string, trigger workflow.TriggerKind) (string, error)
}

// job is one workflow's cron schedule and next-fire bookkeeping.
type job struct {
	workflowID string
	schedule   cron.Schedule
	nextRun    time.Time
}

// Scheduler polls its job set once per tick and dispatches a Run for
// every job whose nextRun has passed, then recomputes nextRun from the
// matched expression so a job fires at most once per due tick.
type Scheduler struct {
	store  store.Store
	runner Runner
	logger *slog.Logger
	now    func() time.Time
	tick   time.Duration

	mu      sync.Mutex
	jobs    map[string]*job // workflow_<id> -> job
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides how often the scheduler checks for due jobs.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// New constructs a Scheduler and loads every active, scheduled workflow
// from st as an initial job. Workflows with an invalid cron expression
// are logged and skipped, never fatal.
func New(ctx context.Context, st store.Store, runner Runner, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:  st,
		runner: runner,
		logger: slog.Default().With("component", "scheduler"),
		now:    time.Now,
		tick:   time.Second,
		jobs:   make(map[string]*job),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	workflows, err := st.ListScheduledWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load scheduled workflows: %w", err)
	}
	for _, wf := range workflows {
		if err := s.Add(wf.ID, wf.ScheduleCron); err != nil {
			s.logger.Warn("scheduler: skipping workflow with invalid schedule", "workflow_id", wf.ID, "error", err)
		}
	}
	return s, nil
}

func jobKey(workflowID string) string { return "workflow_" + workflowID }

// Add registers (or replaces) workflowID's cron job from cronExpr.
func (s *Scheduler) Add(workflowID, cronExpr string) error {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("scheduler: parse %q: %w", cronExpr, err)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobKey(workflowID)] = &job{
		workflowID: workflowID,
		schedule:   schedule,
		nextRun:    schedule.Next(now),
	}
	return nil
}

// Remove unregisters workflowID's cron job, if one exists.
func (s *Scheduler) Remove(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobKey(workflowID))
}

// Start begins the scheduler's polling loop, returning immediately; call
// Stop to end it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop ends the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	close(s.stop)
	s.wg.Wait()
}

// RunDue checks every job and dispatches the ones whose nextRun has
// passed, returning how many fired. Exposed directly so tests can drive
// the scheduler without a real ticker.
func (s *Scheduler) RunDue(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	due := make([]*job, 0)
	for _, j := range s.jobs {
		if !now.Before(j.nextRun) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		runID, err := s.runner.StartRun(ctx, j.workflowID, workflow.TriggerScheduled)
		if err != nil {
			s.logger.Warn("scheduler: dispatch failed", "workflow_id", j.workflowID, "error", err)
		} else {
			s.logger.Info("scheduler: dispatched run", "workflow_id", j.workflowID, "run_id", runID)
		}
		s.mu.Lock()
		j.nextRun = j.schedule.Next(now)
		s.mu.Unlock()
	}
	return len(due)
}
