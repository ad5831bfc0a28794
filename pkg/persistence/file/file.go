// Package file provides file-based persistence for templates, executions,
// and drafts. Each entity is stored as one JSON document on disk.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/traction-hq/traction/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root          string
	templateRepo  *TemplateRepository
	executionRepo *ExecutionRepository
	draftRepo     *DraftRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. A "file://" prefix is tolerated for URL-style configuration.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		templateRepo:  NewTemplateRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
		draftRepo:     NewDraftRepository(cleanRoot),
	}
}

func (p *Persistence) TemplateRepository() persistence.TemplateRepository {
	return p.templateRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) DraftRepository() persistence.DraftRepository {
	return p.draftRepo
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to clean up for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
