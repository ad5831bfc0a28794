// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/traction-hq/traction/pkg/models"

// CreateTemplateRequest represents the request body for registering a
// workflow template.
type CreateTemplateRequest struct {
	ID              string                   `json:"id,omitempty"`
	Name            string                   `json:"name"        validate:"required,min=3"`
	Description     string                   `json:"description"`
	Stage           models.PipelineStage     `json:"stage"       validate:"required"`
	Steps           []*models.WorkflowStep   `json:"steps"       validate:"required,min=1"`
	AutomationRules []*models.AutomationRule `json:"automation_rules"`
	IsActive        bool                     `json:"is_active"`
}

// ToModel builds the domain template from the request body.
func (r *CreateTemplateRequest) ToModel() *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Stage:           r.Stage,
		Steps:           r.Steps,
		AutomationRules: r.AutomationRules,
		IsActive:        r.IsActive,
	}
}

// SetActiveRequest toggles a template's execution gate.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// StartExecutionRequest represents the request body for starting a workflow
// execution against a business object.
type StartExecutionRequest struct {
	WorkflowID    string `json:"workflow_id"    validate:"required"`
	OpportunityID string `json:"opportunity_id" validate:"required"`
	ExecutedBy    string `json:"executed_by"    validate:"required"`
}

// StepActionRequest carries the acting user for step-level operations.
type StepActionRequest struct {
	By string `json:"by,omitempty"`
}

// FailStepRequest carries the failure reason.
type FailStepRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CancelExecutionRequest carries cancellation metadata.
type CancelExecutionRequest struct {
	CancelledBy string `json:"cancelled_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// DraftStatusResponse reports the persisted and buffered draft state for a
// template editing session.
type DraftStatusResponse struct {
	HasDraft    bool   `json:"has_draft"`
	Dirty       bool   `json:"dirty"`
	LastSavedAt string `json:"last_saved_at,omitempty"`
}
