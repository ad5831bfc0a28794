// Package engine drives workflow executions through their lifecycle: start,
// step advancement, pause, resume, cancel, completion and failure. All
// lifecycle mutations are serialized on one mutex and persisted before
// events are published.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/traction-hq/traction/pkg/automation"
	"github.com/traction-hq/traction/pkg/eventbus"
	"github.com/traction-hq/traction/pkg/events"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/otelhelper"
	"github.com/traction-hq/traction/pkg/persistence"
	"github.com/traction-hq/traction/pkg/registry"
)

const executionIDPrefix = "exec-"

// Engine is the execution controller. One engine instance owns all lifecycle
// transitions for the executions in its persistence backend.
type Engine struct {
	mu          sync.Mutex
	persistence persistence.Persistence
	registry    *registry.Registry
	dispatcher  *automation.Dispatcher
	publisher   eventbus.EventPublisher
	runner      StepRunner
	retry       RetryPolicy
	tracer      trace.Tracer
	logger      *slog.Logger
}

type Option func(*Engine)

// WithPublisher emits lifecycle events on the given publisher.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

// WithStepRunner replaces the default automated step runner.
func WithStepRunner(runner StepRunner) Option {
	return func(e *Engine) { e.runner = runner }
}

// WithRetryPolicy replaces the default single-attempt policy for automated
// steps.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) { e.retry = policy }
}

// WithTracer replaces the globally registered tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func NewEngine(p persistence.Persistence, reg *registry.Registry, dispatcher *automation.Dispatcher, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		persistence: p,
		registry:    reg,
		dispatcher:  dispatcher,
		runner:      NewLogStepRunner(logger),
		retry:       NoRetry{},
		tracer:      otel.Tracer("traction-engine"),
		logger:      logger.With("module", "engine"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteWorkflow starts a new execution of the named template against a
// business object. The template is snapshotted into the execution, the
// per-step ledger is created eagerly, and the first step is started before
// the call returns. Automated steps at the head of the template run to
// completion synchronously.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID, opportunityID, executedBy string) (*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute_workflow",
		attribute.String(otelhelper.TemplateIDKey, workflowID),
		attribute.String(otelhelper.OpportunityKey, opportunityID),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	template, err := e.registry.Get(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if !template.IsActive {
		otelhelper.SetError(span, ErrTemplateInactive)

		return nil, fmt.Errorf("%w: %s", ErrTemplateInactive, workflowID)
	}

	snapshot := template.Snapshot()

	execution := &models.WorkflowExecution{
		ID:            executionIDPrefix + uuid.New().String()[:8],
		WorkflowID:    workflowID,
		OpportunityID: opportunityID,
		Status:        models.ExecutionStatusRunning,
		CurrentStep:   0,
		Results:       make([]*models.ExecutionResult, 0, len(snapshot.Steps)),
		Template:      snapshot,
		StartedAt:     time.Now().UTC(),
		ExecutedBy:    executedBy,
	}

	for _, step := range snapshot.Steps {
		execution.Results = append(execution.Results, &models.ExecutionResult{
			StepID:     step.ID,
			Status:     models.ResultStatusPending,
			AssignedTo: step.AssignedRole,
		})
	}

	if err := e.save(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	e.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"workflow_id", workflowID,
		"opportunity_id", opportunityID,
		"steps", len(snapshot.Steps),
	)

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionStartedEvent, workflowID),
		ExecutionID:   execution.ID,
		TemplateName:  snapshot.Name,
		Stage:         snapshot.Stage,
		OpportunityID: opportunityID,
		ExecutedBy:    executedBy,
	})
	e.publish(ctx, execution.ID, events.StageEntered{
		BaseEvent:     events.NewBaseEvent(events.StageEnteredEvent, workflowID),
		ExecutionID:   execution.ID,
		OpportunityID: opportunityID,
		Stage:         snapshot.Stage,
	})

	e.dispatch(ctx, models.TriggerExecutionStarted, execution, e.baseContext(execution))
	e.dispatch(ctx, models.TriggerStageEntered, execution, e.baseContext(execution))

	if err := e.startCurrentStep(ctx, execution); err != nil {
		return execution, err
	}

	return execution, nil
}

// CompleteStep marks the current step done and advances the execution.
// Automated steps encountered while advancing run synchronously, so one
// CompleteStep call may move the execution several steps forward or finish
// it entirely.
func (e *Engine) CompleteStep(ctx context.Context, executionID, completedBy string) (*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.complete_step",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	)
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	execution, err := e.requireStatus(ctx, executionID, "complete step on", models.ExecutionStatusRunning)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result := execution.CurrentResult()
	if result == nil {
		err := &InvalidTransitionError{ExecutionID: executionID, Op: "complete step on", From: execution.Status}
		otelhelper.SetError(span, err)

		return nil, err
	}

	now := time.Now().UTC()
	result.Status = models.ResultStatusCompleted
	result.CompletedAt = &now

	if completedBy != "" {
		result.AssignedTo = completedBy
	}

	if err := e.save(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	step := execution.CurrentStepDefinition()
	span.SetAttributes(attribute.String(otelhelper.StepIDKey, step.ID))

	e.publish(ctx, execution.ID, events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepIndex:   execution.CurrentStep,
		CompletedBy: completedBy,
		DurationMs:  durationMs(result.StartedAt, now),
	})

	e.dispatch(ctx, models.TriggerStepCompleted, execution, e.stepContext(execution, step))

	if err := e.advance(ctx, execution); err != nil {
		return execution, err
	}

	return execution, nil
}

// SkipStep marks the current step skipped and advances. Skipping is for
// steps that do not apply to a particular opportunity; the ledger keeps the
// distinction from completion.
func (e *Engine) SkipStep(ctx context.Context, executionID, skippedBy string) (*models.WorkflowExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, err := e.requireStatus(ctx, executionID, "skip step on", models.ExecutionStatusRunning)
	if err != nil {
		return nil, err
	}

	result := execution.CurrentResult()
	if result == nil {
		return nil, &InvalidTransitionError{ExecutionID: executionID, Op: "skip step on", From: execution.Status}
	}

	now := time.Now().UTC()
	result.Status = models.ResultStatusSkipped
	result.CompletedAt = &now

	if err := e.save(ctx, execution); err != nil {
		return nil, err
	}

	step := execution.CurrentStepDefinition()

	e.publish(ctx, execution.ID, events.StepSkipped{
		BaseEvent:   events.NewBaseEvent(events.StepSkippedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		SkippedBy:   skippedBy,
	})

	if err := e.advance(ctx, execution); err != nil {
		return execution, err
	}

	return execution, nil
}

// FailStep marks the current step failed and fails the whole execution. The
// untouched remainder of the ledger stays pending as a record of how far the
// run got.
func (e *Engine) FailStep(ctx context.Context, executionID, reason string) (*models.WorkflowExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, err := e.requireStatus(ctx, executionID, "fail step on", models.ExecutionStatusRunning)
	if err != nil {
		return nil, err
	}

	if err := e.failCurrentStep(ctx, execution, reason); err != nil {
		return nil, err
	}

	return execution, nil
}

// PauseExecution freezes a running execution. The current step keeps its
// in-progress ledger entry; nothing advances until resume.
func (e *Engine) PauseExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, err := e.requireStatus(ctx, executionID, "pause", models.ExecutionStatusRunning)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatusPaused

	if err := e.save(ctx, execution); err != nil {
		return nil, err
	}

	pausedAt := ""
	if step := execution.CurrentStepDefinition(); step != nil {
		pausedAt = step.ID
	}

	e.logger.InfoContext(ctx, "Execution paused", "execution_id", executionID, "step_id", pausedAt)

	e.publish(ctx, execution.ID, events.ExecutionPaused{
		BaseEvent:    events.NewBaseEvent(events.ExecutionPausedEvent, execution.WorkflowID),
		ExecutionID:  execution.ID,
		PausedAtStep: pausedAt,
	})

	return execution, nil
}

// ResumeExecution returns a paused execution to running. If the current step
// never started (a pause raced its start), it is started now.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, err := e.requireStatus(ctx, executionID, "resume", models.ExecutionStatusPaused)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatusRunning

	if err := e.save(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution resumed", "execution_id", executionID)

	e.publish(ctx, execution.ID, events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
	})

	if result := execution.CurrentResult(); result != nil && result.Status == models.ResultStatusPending {
		if err := e.startCurrentStep(ctx, execution); err != nil {
			return execution, err
		}
	}

	return execution, nil
}

// CancelExecution terminates a running or paused execution. Cancellation is
// recorded as a failed terminal state with the completion time set at cancel
// time; in-flight step results are left exactly as they were.
func (e *Engine) CancelExecution(ctx context.Context, executionID, cancelledBy, reason string) (*models.WorkflowExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	execution, err := e.requireStatus(ctx, executionID, "cancel", models.ExecutionStatusRunning, models.ExecutionStatusPaused)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &now

	if err := e.save(ctx, execution); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Execution cancelled",
		"execution_id", executionID,
		"cancelled_by", cancelledBy,
		"reason", reason,
	)

	e.publish(ctx, execution.ID, events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		CancelledBy: cancelledBy,
		Reason:      reason,
	})

	return execution, nil
}

func (e *Engine) GetExecution(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, executionID)
}

func (e *Engine) ListExecutions(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().GetAll(ctx)
}

// GetActiveExecutions returns executions still in a non-terminal state.
func (e *Engine) GetActiveExecutions(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return e.persistence.ExecutionRepository().Active(ctx)
}

// startCurrentStep marks the step at the current index running and, for
// automated steps, runs it under the retry policy. Caller holds the mutex.
func (e *Engine) startCurrentStep(ctx context.Context, execution *models.WorkflowExecution) error {
	step := execution.CurrentStepDefinition()
	result := execution.CurrentResult()

	if step == nil || result == nil {
		return e.completeExecution(ctx, execution)
	}

	now := time.Now().UTC()
	result.Status = models.ResultStatusRunning
	result.StartedAt = &now

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	e.publish(ctx, execution.ID, events.StepStarted{
		BaseEvent:    events.NewBaseEvent(events.StepStartedEvent, execution.WorkflowID),
		ExecutionID:  execution.ID,
		StepID:       step.ID,
		StepName:     step.Name,
		StepType:     step.Type,
		StepIndex:    execution.CurrentStep,
		AssignedRole: step.AssignedRole,
	})

	e.dispatch(ctx, models.TriggerStepStarted, execution, e.stepContext(execution, step))

	if step.Type.RequiresSignal() {
		return nil
	}

	return e.runAutomatedStep(ctx, execution, step, result)
}

func (e *Engine) runAutomatedStep(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep, result *models.ExecutionResult) error {
	var err error

	for attempt := 1; ; attempt++ {
		err = e.runner.RunStep(ctx, execution, step)
		if err == nil {
			break
		}

		delay, retry := e.retry.ShouldRetry(attempt, err)
		if !retry {
			break
		}

		e.logger.WarnContext(ctx, "Automated step failed, retrying",
			"execution_id", execution.ID,
			"step_id", step.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		// The engine mutex stays held across retries; policy delays must
		// stay short.
		time.Sleep(delay)
	}

	if err != nil {
		return e.failCurrentStep(ctx, execution, err.Error())
	}

	now := time.Now().UTC()
	result.Status = models.ResultStatusCompleted
	result.CompletedAt = &now

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	e.publish(ctx, execution.ID, events.StepCompleted{
		BaseEvent:   events.NewBaseEvent(events.StepCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepIndex:   execution.CurrentStep,
		DurationMs:  durationMs(result.StartedAt, now),
	})

	e.dispatch(ctx, models.TriggerStepCompleted, execution, e.stepContext(execution, step))

	return e.advance(ctx, execution)
}

// advance moves past the current step: either start the next one or finish
// the execution. Caller holds the mutex.
func (e *Engine) advance(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.CurrentStep++

	if execution.CurrentStep >= len(execution.Template.Steps) {
		return e.completeExecution(ctx, execution)
	}

	return e.startCurrentStep(ctx, execution)
}

func (e *Engine) completeExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	executed := 0

	for _, result := range execution.Results {
		if result.Status == models.ResultStatusCompleted {
			executed++
		}
	}

	e.logger.InfoContext(ctx, "Execution completed",
		"execution_id", execution.ID,
		"steps_executed", executed,
		"duration", now.Sub(execution.StartedAt),
	)

	e.publish(ctx, execution.ID, events.ExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
		ExecutionID:   execution.ID,
		DurationMs:    now.Sub(execution.StartedAt).Milliseconds(),
		StepsExecuted: executed,
	})

	e.dispatch(ctx, models.TriggerExecutionCompleted, execution, e.baseContext(execution))

	return nil
}

func (e *Engine) failCurrentStep(ctx context.Context, execution *models.WorkflowExecution, reason string) error {
	now := time.Now().UTC()

	var failedStepID string

	if result := execution.CurrentResult(); result != nil {
		result.Status = models.ResultStatusFailed
		result.CompletedAt = &now
		result.Error = reason
		failedStepID = result.StepID
	}

	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &now

	if err := e.save(ctx, execution); err != nil {
		return err
	}

	e.logger.WarnContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"step_id", failedStepID,
		"error", reason,
	)

	if failedStepID != "" {
		e.publish(ctx, execution.ID, events.StepFailed{
			BaseEvent:   events.NewBaseEvent(events.StepFailedEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			StepID:      failedStepID,
			StepIndex:   execution.CurrentStep,
			Error:       reason,
		})
	}

	e.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
		ExecutionID:  execution.ID,
		FailedStepID: failedStepID,
		Error:        reason,
		DurationMs:   now.Sub(execution.StartedAt).Milliseconds(),
	})

	e.dispatch(ctx, models.TriggerExecutionFailed, execution, e.baseContext(execution))

	return nil
}

// requireStatus loads an execution and rejects the operation unless its
// status is one of the allowed ones. Rejections are logged no-ops.
func (e *Engine) requireStatus(ctx context.Context, executionID, op string, allowed ...models.ExecutionStatus) (*models.WorkflowExecution, error) {
	execution, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	for _, status := range allowed {
		if execution.Status == status {
			return execution, nil
		}
	}

	err = &InvalidTransitionError{ExecutionID: executionID, Op: op, From: execution.Status}

	e.logger.WarnContext(ctx, "Rejected lifecycle transition",
		"execution_id", executionID,
		"op", op,
		"status", execution.Status,
	)

	return nil, err
}

func (e *Engine) save(ctx context.Context, execution *models.WorkflowExecution) error {
	return e.persistence.ExecutionRepository().Save(ctx, execution)
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"key", key,
			"error", err,
		)
	}
}

func (e *Engine) dispatch(ctx context.Context, trigger models.RuleTrigger, execution *models.WorkflowExecution, execCtx map[string]any) {
	if e.dispatcher == nil {
		return
	}

	e.dispatcher.Dispatch(ctx, trigger, execution.Template.AutomationRules, execCtx)
}

func (e *Engine) baseContext(execution *models.WorkflowExecution) map[string]any {
	return map[string]any{
		"execution_id":   execution.ID,
		"workflow_id":    execution.WorkflowID,
		"opportunity_id": execution.OpportunityID,
		"stage":          string(execution.Template.Stage),
		"status":         string(execution.Status),
		"executed_by":    execution.ExecutedBy,
		"current_step":   execution.CurrentStep,
		"steps_total":    len(execution.Template.Steps),
	}
}

func (e *Engine) stepContext(execution *models.WorkflowExecution, step *models.WorkflowStep) map[string]any {
	execCtx := e.baseContext(execution)
	execCtx["step_id"] = step.ID
	execCtx["step_name"] = step.Name
	execCtx["step_type"] = string(step.Type)
	execCtx["assigned_role"] = step.AssignedRole

	return execCtx
}

func durationMs(startedAt *time.Time, completedAt time.Time) int64 {
	if startedAt == nil {
		return 0
	}

	return completedAt.Sub(*startedAt).Milliseconds()
}
