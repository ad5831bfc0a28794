// Package models defines the core domain models for CRM workflow automation.
package models

import "time"

// PipelineStage associates a template with a business-object lifecycle phase.
type PipelineStage string

const (
	StageProspect PipelineStage = "prospect"
	StageEngage   PipelineStage = "engage"
	StageAcquire  PipelineStage = "acquire"
	StageKeep     PipelineStage = "keep"
)

// ValidStage reports whether the given stage is part of the pipeline enumeration.
func ValidStage(stage PipelineStage) bool {
	switch stage {
	case StageProspect, StageEngage, StageAcquire, StageKeep:
		return true
	default:
		return false
	}
}

// WorkflowTemplate is a reusable, named definition of an ordered sequence of
// steps plus automation rules. Step order defines execution sequence; the
// first step always starts at index 0.
type WorkflowTemplate struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"        validate:"required,min=3"`
	Description     string            `json:"description"`
	Stage           PipelineStage     `json:"stage"       validate:"required"`
	Steps           []*WorkflowStep   `json:"steps"       validate:"required,min=1,dive"`
	AutomationRules []*AutomationRule `json:"automation_rules"`
	IsActive        bool              `json:"is_active"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Snapshot returns a deep copy of the template. Executions capture a snapshot
// at creation time so that later template edits are never observed mid-flight.
func (t *WorkflowTemplate) Snapshot() *WorkflowTemplate {
	if t == nil {
		return nil
	}

	clone := *t

	clone.Steps = make([]*WorkflowStep, len(t.Steps))
	for i, step := range t.Steps {
		stepCopy := *step
		stepCopy.Dependencies = append([]string(nil), step.Dependencies...)
		clone.Steps[i] = &stepCopy
	}

	clone.AutomationRules = make([]*AutomationRule, len(t.AutomationRules))
	for i, rule := range t.AutomationRules {
		clone.AutomationRules[i] = rule.clone()
	}

	return &clone
}
