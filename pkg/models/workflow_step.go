package models

// StepType determines whether the engine can auto-advance a step or must wait
// for an external completion signal.
type StepType string

const (
	StepTypeManual    StepType = "manual"
	StepTypeAutomated StepType = "automated"
	StepTypeApproval  StepType = "approval"
)

// RequiresSignal reports whether a step of this type waits for an external
// completion signal instead of completing immediately.
func (t StepType) RequiresSignal() bool {
	return t == StepTypeManual || t == StepTypeApproval
}

type WorkflowStep struct {
	ID          string   `json:"id"`
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Type        StepType `json:"type" validate:"required,oneof=manual automated approval"`

	// AssignedRole tags who may complete a manual/approval step.
	AssignedRole string `json:"assigned_role,omitempty"`

	// DueInDays is an SLA offset from step start. Advisory metadata: breaches
	// are reported, never enforced by automatic failure.
	DueInDays int `json:"due_in_days,omitempty"`

	// Dependencies may only reference steps earlier in the sequence;
	// advancement itself stays strictly linear.
	Dependencies []string `json:"dependencies,omitempty"`

	// CompletionCriteria is a free-text description, not machine-evaluated.
	CompletionCriteria string `json:"completion_criteria,omitempty"`
}
