// Package monitor periodically scans active executions for steps that blew
// past their due date and raises advisory overdue events. Overdue steps are
// never failed automatically; the events feed dashboards and notification
// rules.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/traction-hq/traction/pkg/eventbus"
	"github.com/traction-hq/traction/pkg/events"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence"
)

// DefaultSchedule scans once a minute.
const DefaultSchedule = "@every 1m"

// Monitor owns the scan schedule. Each overdue step is reported once per
// process lifetime; restarts re-report, which downstream consumers must
// tolerate anyway.
type Monitor struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	cron        *cron.Cron

	mu       sync.Mutex
	reported map[string]struct{}
}

func NewMonitor(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Monitor {
	return &Monitor{
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "sla_monitor"),
		cron:        cron.New(),
		reported:    make(map[string]struct{}),
	}
}

// Start registers the scan on the given cron schedule and begins running.
func (m *Monitor) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	_, err := m.cron.AddFunc(schedule, func() {
		if err := m.Scan(ctx); err != nil {
			m.logger.ErrorContext(ctx, "Overdue scan failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", schedule, err)
	}

	m.cron.Start()
	m.logger.InfoContext(ctx, "SLA monitor started", "schedule", schedule)

	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (m *Monitor) Stop() {
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
}

// Scan walks active executions and reports steps whose due window elapsed.
func (m *Monitor) Scan(ctx context.Context) error {
	active, err := m.persistence.ExecutionRepository().Active(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	found := 0

	for _, execution := range active {
		if execution.Status != models.ExecutionStatusRunning {
			continue
		}

		step := execution.CurrentStepDefinition()
		result := execution.CurrentResult()

		if step == nil || result == nil || step.DueInDays <= 0 || result.StartedAt == nil {
			continue
		}

		dueAt := result.StartedAt.AddDate(0, 0, step.DueInDays)
		if !now.After(dueAt) {
			continue
		}

		if m.alreadyReported(execution.ID, step.ID) {
			continue
		}

		found++

		m.logger.WarnContext(ctx, "Step overdue",
			"execution_id", execution.ID,
			"step_id", step.ID,
			"assigned_role", step.AssignedRole,
			"due_at", dueAt,
			"overdue_by", now.Sub(dueAt),
		)

		m.publish(ctx, execution, step, dueAt, now)
	}

	if found > 0 {
		m.logger.InfoContext(ctx, "Overdue scan finished", "executions", len(active), "overdue", found)
	}

	return nil
}

func (m *Monitor) alreadyReported(executionID, stepID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := executionID + "/" + stepID
	if _, ok := m.reported[key]; ok {
		return true
	}

	m.reported[key] = struct{}{}

	return false
}

func (m *Monitor) publish(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep, dueAt, now time.Time) {
	if m.publisher == nil {
		return
	}

	event := events.StepOverdue{
		BaseEvent:   events.NewBaseEvent(events.StepOverdueEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		DueAt:       dueAt,
		OverdueByMs: now.Sub(dueAt).Milliseconds(),
	}

	if err := m.publisher.Publish(ctx, execution.ID, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish overdue event", "error", err)
	}
}
