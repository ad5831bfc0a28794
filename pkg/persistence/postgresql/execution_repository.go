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

// ExecutionRepository stores executions as jsonb documents in the
// workflow_executions table, with status pulled out for indexed filtering.
type ExecutionRepository struct {
	db *sql.DB
}

func (er *ExecutionRepository) GetAll(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return er.query(ctx, "SELECT document FROM workflow_executions ORDER BY started_at")
}

func (er *ExecutionRepository) Active(ctx context.Context) ([]*models.WorkflowExecution, error) {
	return er.query(ctx, `
		SELECT document FROM workflow_executions
		WHERE status IN ('running', 'paused')
		ORDER BY started_at
	`)
}

func (er *ExecutionRepository) query(ctx context.Context, statement string) ([]*models.WorkflowExecution, error) {
	rows, err := er.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, persistence.NewExecutionError("GetAll", "", err)
	}
	defer func() { _ = rows.Close() }()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, persistence.NewExecutionError("GetAll", "", err)
		}

		var execution models.WorkflowExecution
		if err := json.Unmarshal(document, &execution); err != nil {
			return nil, persistence.NewExecutionError("GetAll", "", fmt.Errorf("corrupt execution document: %w", err))
		}

		executions = append(executions, &execution)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewExecutionError("GetAll", "", err)
	}

	return executions, nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	var document []byte

	err := er.db.QueryRowContext(ctx, "SELECT document FROM workflow_executions WHERE id = $1", id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(document, &execution); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("corrupt execution document: %w", err))
	}

	return &execution, nil
}

func (er *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	_, err = er.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, status, started_at, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document = EXCLUDED.document
	`, execution.ID, execution.WorkflowID, string(execution.Status), execution.StartedAt, document)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}
