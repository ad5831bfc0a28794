package models

import "time"

// ExecutionStatus is the finite state machine over a workflow execution.
// Terminal states are completed and failed; cancellation is modeled as a
// failure with the completion time set at cancel time.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ResultStatus is the per-step status mirrored in the execution's ledger.
type ResultStatus string

const (
	ResultStatusPending   ResultStatus = "pending"
	ResultStatusRunning   ResultStatus = "running"
	ResultStatusCompleted ResultStatus = "completed"
	ResultStatusFailed    ResultStatus = "failed"
	ResultStatusSkipped   ResultStatus = "skipped"
)

// ExecutionResult is one entry of the per-step status ledger. One result per
// template step, created eagerly at execution start.
type ExecutionResult struct {
	StepID      string       `json:"step_id"`
	Status      ResultStatus `json:"status"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// WorkflowExecution is one concrete run of a template against a business
// object. The Template field is a snapshot captured at creation; the live
// template may be edited freely without affecting in-flight executions.
// Executions are never deleted and serve as audit records.
type WorkflowExecution struct {
	ID            string             `json:"id"`
	WorkflowID    string             `json:"workflow_id"`
	OpportunityID string             `json:"opportunity_id"`
	Status        ExecutionStatus    `json:"status"`
	CurrentStep   int                `json:"current_step"`
	Results       []*ExecutionResult `json:"results"`
	Template      *WorkflowTemplate  `json:"template"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	ExecutedBy    string             `json:"executed_by"`
}

// CurrentResult returns the ledger entry for the current step, or nil when
// the execution has advanced past the last step.
func (e *WorkflowExecution) CurrentResult() *ExecutionResult {
	if e.CurrentStep < 0 || e.CurrentStep >= len(e.Results) {
		return nil
	}

	return e.Results[e.CurrentStep]
}

// CurrentStepDefinition returns the snapshot step at the current index, or
// nil when out of range.
func (e *WorkflowExecution) CurrentStepDefinition() *WorkflowStep {
	if e.Template == nil || e.CurrentStep < 0 || e.CurrentStep >= len(e.Template.Steps) {
		return nil
	}

	return e.Template.Steps[e.CurrentStep]
}

// ResultByStepID finds the ledger entry for a step id.
func (e *WorkflowExecution) ResultByStepID(stepID string) *ExecutionResult {
	for _, result := range e.Results {
		if result.StepID == stepID {
			return result
		}
	}

	return nil
}
