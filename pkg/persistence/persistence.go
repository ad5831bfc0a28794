// Package persistence provides the data storage abstraction for templates,
// executions, and drafts.
package persistence

import (
	"context"
	"encoding/json"

	"github.com/traction-hq/traction/pkg/models"
)

// TemplateRepository stores workflow templates keyed by id.
type TemplateRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowTemplate, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow executions. Executions are never
// deleted; they serve as audit records.
type ExecutionRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowExecution, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	Active(ctx context.Context) ([]*models.WorkflowExecution, error)
}

// DraftRepository is the opaque key-value slot backing the auto-save
// subsystem: get returns ErrDraftNotFound when the key is absent.
type DraftRepository interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
}

type Persistence interface {
	TemplateRepository() TemplateRepository
	ExecutionRepository() ExecutionRepository
	DraftRepository() DraftRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
