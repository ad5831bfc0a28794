package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence"
)

// TemplateRepository stores templates as jsonb documents in the
// workflow_templates table.
type TemplateRepository struct {
	db *sql.DB
}

func (tr *TemplateRepository) GetAll(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	rows, err := tr.db.QueryContext(ctx, "SELECT document FROM workflow_templates ORDER BY created_at")
	if err != nil {
		return nil, persistence.NewTemplateError("GetAll", "", err)
	}
	defer func() { _ = rows.Close() }()

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, persistence.NewTemplateError("GetAll", "", err)
		}

		var template models.WorkflowTemplate
		if err := json.Unmarshal(document, &template); err != nil {
			return nil, persistence.NewTemplateError("GetAll", "", fmt.Errorf("corrupt template document: %w", err))
		}

		templates = append(templates, &template)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewTemplateError("GetAll", "", err)
	}

	return templates, nil
}

func (tr *TemplateRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	var document []byte

	err := tr.db.QueryRowContext(ctx, "SELECT document FROM workflow_templates WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	var template models.WorkflowTemplate
	if err := json.Unmarshal(document, &template); err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, fmt.Errorf("corrupt template document: %w", err))
	}

	return &template, nil
}

func (tr *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	document, err := json.Marshal(template)
	if err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	_, err = tr.db.ExecContext(ctx, `
		INSERT INTO workflow_templates (id, stage, is_active, created_at, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			stage = EXCLUDED.stage,
			is_active = EXCLUDED.is_active,
			document = EXCLUDED.document
	`, template.ID, string(template.Stage), template.IsActive, template.CreatedAt, document)
	if err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	return nil
}

func (tr *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := tr.db.ExecContext(ctx, "DELETE FROM workflow_templates WHERE id = $1", id)
	if err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
	}

	return nil
}
