// Package postgresql provides PostgreSQL persistence for templates,
// executions, and drafts. Entities are stored as jsonb documents with the
// columns needed for indexed lookups pulled out.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/traction-hq/traction/pkg/persistence"
	"github.com/traction-hq/traction/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	templateRepo  *TemplateRepository
	executionRepo *ExecutionRepository
	draftRepo     *DraftRepository
}

// NewPersistence connects, runs migrations, and returns the persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		templateRepo:  &TemplateRepository{db: database},
		executionRepo: &ExecutionRepository{db: database},
		draftRepo:     &DraftRepository{db: database},
	}, nil
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

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
