package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storyforge/weft/internal/store"
	"github.com/storyforge/weft/pkg/schema"
)

// WorkflowTrigger is the interface the scheduler uses to start runs.
// Satisfied by the engine executor (avoids an import cycle).
type WorkflowTrigger interface {
	Trigger(ctx context.Context, input schema.TriggerInput) (string, error)
}

// Scheduler polls the store for due autoRun workflows and triggers them.
type Scheduler struct {
	store   store.Store
	trigger WorkflowTrigger
	parser  cron.Parser
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflow IDs being triggered (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, trigger WorkflowTrigger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		trigger:  trigger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick triggers every due autoRun workflow. A workflow with no next_run_at
// yet is due immediately; its first trigger establishes the cadence.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.listDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to list due workflows", slog.String("error", err.Error()))
		return
	}

	for _, def := range due {
		s.runDue(ctx, def)
	}
}

func (s *Scheduler) listDue(ctx context.Context, now time.Time) ([]*schema.WorkflowDefinition, error) {
	autoRun := true
	active := schema.WorkflowStatusActive
	return s.store.ListWorkflows(ctx, store.WorkflowFilter{
		Status:    &active,
		AutoRun:   &autoRun,
		DueBefore: &now,
	})
}

// runDue triggers one workflow and advances its next_run_at. The in-flight
// set prevents a slow tick from double-triggering the same workflow.
func (s *Scheduler) runDue(ctx context.Context, def *schema.WorkflowDefinition) {
	if !s.tryAcquire(def.ID) {
		return
	}
	defer s.release(def.ID)

	s.logger.Info("triggering scheduled workflow",
		slog.String("workflow_id", def.ID),
		slog.String("schedule", def.Schedule))

	runID, err := s.trigger.Trigger(ctx, schema.TriggerInput{
		WorkflowID:  def.ID,
		TriggeredBy: schema.TriggerSchedule,
	})
	if err != nil {
		s.logger.Error("scheduled trigger failed",
			slog.String("workflow_id", def.ID),
			slog.String("error", err.Error()))
	} else {
		s.logger.Info("scheduled run started",
			slog.String("workflow_id", def.ID),
			slog.String("run_id", runID))
	}

	// Advance the cadence even when the trigger failed, so one broken
	// workflow does not get retried every tick.
	next, err := s.NextRun(def.Schedule, time.Now().UTC())
	if err != nil {
		s.logger.Error("cannot compute next run",
			slog.String("workflow_id", def.ID),
			slog.String("schedule", def.Schedule),
			slog.String("error", err.Error()))
		return
	}
	if err := s.store.UpdateNextRun(ctx, def.ID, next); err != nil {
		s.logger.Error("failed to update next run",
			slog.String("workflow_id", def.ID),
			slog.String("error", err.Error()))
	}
}

// tryAcquire returns true and marks the workflow as in-flight if it is not
// already being triggered.
func (s *Scheduler) tryAcquire(workflowID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[workflowID]; ok {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *Scheduler) release(workflowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, workflowID)
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed triggers each workflow whose next_run_at passed while the
// process was down. Called once at boot, before Start.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	due, err := s.listDue(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("list missed workflows: %w", err)
	}

	recovered := 0
	for _, def := range due {
		// A workflow that never fired has no missed run to recover; the
		// first regular tick will schedule it.
		if def.NextRunAt == nil {
			continue
		}
		s.runDue(ctx, def)
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed workflows", slog.Int("count", recovered))
	}
	return nil
}
