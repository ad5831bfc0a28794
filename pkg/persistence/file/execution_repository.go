package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence"
)

// ExecutionRepository stores one JSON file per execution under
// <root>/executions/<id>.json.
type ExecutionRepository struct {
	root string
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.dir(), id+".json")
}

func (er *ExecutionRepository) GetAll(ctx context.Context) ([]*models.WorkflowExecution, error) {
	entries, err := fs.Glob(os.DirFS(er.dir()), "*.json")
	if err != nil || len(entries) == 0 {
		return make([]*models.WorkflowExecution, 0), nil
	}

	executions := make([]*models.WorkflowExecution, 0, len(entries))

	for _, entry := range entries {
		id := strings.TrimSuffix(entry, ".json")

		execution, err := er.GetByID(ctx, id)
		if err != nil {
			return nil, persistence.NewExecutionError("GetAll", id, err)
		}

		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	data, err := os.ReadFile(er.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	var execution models.WorkflowExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, fmt.Errorf("corrupt execution file: %w", err))
	}

	return &execution, nil
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	if err := os.MkdirAll(er.dir(), dirPerm); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if err := os.WriteFile(er.path(execution.ID), data, 0o644); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// Active returns the snapshot of all non-terminal executions.
func (er *ExecutionRepository) Active(ctx context.Context) ([]*models.WorkflowExecution, error) {
	all, err := er.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if !execution.Status.Terminal() {
			active = append(active, execution)
		}
	}

	return active, nil
}
