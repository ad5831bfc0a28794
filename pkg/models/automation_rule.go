package models

// RuleTrigger names the execution-lifecycle event that activates rule
// evaluation.
type RuleTrigger string

const (
	TriggerExecutionStarted   RuleTrigger = "execution_started"
	TriggerExecutionCompleted RuleTrigger = "execution_completed"
	TriggerExecutionFailed    RuleTrigger = "execution_failed"
	TriggerStepStarted        RuleTrigger = "step_started"
	TriggerStepCompleted      RuleTrigger = "step_completed"
	TriggerStageEntered       RuleTrigger = "stage_entered"
)

// AutomationRule is a trigger plus conditions plus an ordered action sequence.
// Rules are evaluated independently of each other; all conditions must hold
// for the actions to fire.
type AutomationRule struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Trigger    RuleTrigger         `json:"trigger" validate:"required"`
	Conditions []Condition         `json:"conditions"`
	Actions    []*AutomationAction `json:"actions" validate:"dive"`
	IsActive   bool                `json:"is_active"`
}

func (r *AutomationRule) clone() *AutomationRule {
	if r == nil {
		return nil
	}

	copied := *r
	copied.Conditions = append([]Condition(nil), r.Conditions...)

	copied.Actions = make([]*AutomationAction, len(r.Actions))
	for i, action := range r.Actions {
		copied.Actions[i] = action.clone()
	}

	return &copied
}
