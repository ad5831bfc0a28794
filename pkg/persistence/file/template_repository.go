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

const dirPerm = 0o755

// TemplateRepository stores one JSON file per template under
// <root>/templates/<id>.json.
type TemplateRepository struct {
	root string
}

func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

func (tr *TemplateRepository) dir() string {
	return filepath.Join(tr.root, "templates")
}

func (tr *TemplateRepository) path(id string) string {
	return filepath.Join(tr.dir(), id+".json")
}

func (tr *TemplateRepository) GetAll(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	entries, err := fs.Glob(os.DirFS(tr.dir()), "*.json")
	if err != nil || len(entries) == 0 {
		return make([]*models.WorkflowTemplate, 0), nil
	}

	templates := make([]*models.WorkflowTemplate, 0, len(entries))

	for _, entry := range entries {
		id := strings.TrimSuffix(entry, ".json")

		template, err := tr.GetByID(ctx, id)
		if err != nil {
			return nil, persistence.NewTemplateError("GetAll", id, err)
		}

		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})

	return templates, nil
}

func (tr *TemplateRepository) GetByID(_ context.Context, id string) (*models.WorkflowTemplate, error) {
	data, err := os.ReadFile(tr.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
		}

		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	var template models.WorkflowTemplate
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, fmt.Errorf("corrupt template file: %w", err))
	}

	return &template, nil
}

func (tr *TemplateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	if err := os.MkdirAll(tr.dir(), dirPerm); err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	data, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	if err := os.WriteFile(tr.path(template.ID), data, 0o644); err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	return nil
}

func (tr *TemplateRepository) Delete(_ context.Context, id string) error {
	err := os.Remove(tr.path(id))
	if os.IsNotExist(err) {
		return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	return nil
}
