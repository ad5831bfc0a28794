// Package events defines event types and structures for execution lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/traction-hq/traction/pkg/models"
)

type EventType string

// Kafka topic for execution lifecycle events.
const Topic = "traction.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSkippedEvent   EventType = "step.skipped"
	StepOverdueEvent   EventType = "step.overdue"

	StageEnteredEvent   EventType = "stage.entered"
	ActionExecutedEvent EventType = "action.executed"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID   string               `json:"execution_id"`
	TemplateName  string               `json:"template_name"`
	Stage         models.PipelineStage `json:"stage"`
	OpportunityID string               `json:"opportunity_id"`
	ExecutedBy    string               `json:"executed_by"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	DurationMs    int64  `json:"duration_ms"`
	StepsExecuted int    `json:"steps_executed"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	FailedStepID string `json:"failed_step_id,omitempty"`
	Error        string `json:"error"`
	DurationMs   int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionPaused struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	PausedAtStep string `json:"paused_at_step"`
}

func (e ExecutionPaused) GetType() EventType { return ExecutionPausedEvent }

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionResumed) GetType() EventType { return ExecutionResumedEvent }

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type StepStarted struct {
	BaseEvent

	ExecutionID  string          `json:"execution_id"`
	StepID       string          `json:"step_id"`
	StepName     string          `json:"step_name"`
	StepType     models.StepType `json:"step_type"`
	StepIndex    int             `json:"step_index"`
	AssignedRole string          `json:"assigned_role,omitempty"`
}

func (e StepStarted) GetType() EventType { return StepStartedEvent }

type StepCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepIndex   int    `json:"step_index"`
	CompletedBy string `json:"completed_by,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepIndex   int    `json:"step_index"`
	Error       string `json:"error"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepSkipped struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	SkippedBy   string `json:"skipped_by,omitempty"`
}

func (e StepSkipped) GetType() EventType { return StepSkippedEvent }

type StepOverdue struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id"`
	DueAt       time.Time `json:"due_at"`
	OverdueByMs int64     `json:"overdue_by_ms"`
}

func (e StepOverdue) GetType() EventType { return StepOverdueEvent }

type StageEntered struct {
	BaseEvent

	ExecutionID   string               `json:"execution_id"`
	OpportunityID string               `json:"opportunity_id"`
	Stage         models.PipelineStage `json:"stage"`
}

func (e StageEntered) GetType() EventType { return StageEnteredEvent }

// ActionExecuted reports the outcome of a single automation action, success
// or failure. Action failures are diagnostics, never execution failures.
type ActionExecuted struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	RuleID      string            `json:"rule_id"`
	ActionID    string            `json:"action_id"`
	ActionType  models.ActionType `json:"action_type"`
	Status      string            `json:"status"`
	Error       string            `json:"error,omitempty"`
}

func (e ActionExecuted) GetType() EventType { return ActionExecutedEvent }
