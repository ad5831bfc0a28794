package file

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence"
)

func testTemplate(id string) *models.WorkflowTemplate {
	return &models.WorkflowTemplate{
		ID:    id,
		Name:  "Prospect Intake",
		Stage: models.StageProspect,
		Steps: []*models.WorkflowStep{
			{ID: "step-1", Name: "Qualify Lead", Type: models.StepTypeAutomated},
			{ID: "step-2", Name: "Schedule Call", Type: models.StepTypeManual, AssignedRole: "sdr"},
		},
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestTemplateRepository_SaveAndGet(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	template := testTemplate("tpl-1")
	require.NoError(t, p.TemplateRepository().Save(ctx, template))

	loaded, err := p.TemplateRepository().GetByID(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, template.Name, loaded.Name)
	assert.Len(t, loaded.Steps, 2)
	assert.Equal(t, models.StepTypeManual, loaded.Steps[1].Type)
}

func TestTemplateRepository_GetByID_NotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.TemplateRepository().GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestTemplateRepository_Delete(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()

	require.NoError(t, p.TemplateRepository().Save(ctx, testTemplate("tpl-del")))
	require.NoError(t, p.TemplateRepository().Delete(ctx, "tpl-del"))

	_, err := p.TemplateRepository().GetByID(ctx, "tpl-del")
	assert.True(t, persistence.IsTemplateNotFound(err))

	err = p.TemplateRepository().Delete(ctx, "tpl-del")
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestExecutionRepository_ActiveFiltersTerminal(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()
	repo := p.ExecutionRepository()

	now := time.Now().UTC()
	running := &models.WorkflowExecution{ID: "exec-1", Status: models.ExecutionStatusRunning, StartedAt: now}
	paused := &models.WorkflowExecution{ID: "exec-2", Status: models.ExecutionStatusPaused, StartedAt: now.Add(time.Second)}
	done := &models.WorkflowExecution{ID: "exec-3", Status: models.ExecutionStatusCompleted, StartedAt: now.Add(2 * time.Second)}

	for _, execution := range []*models.WorkflowExecution{running, paused, done} {
		require.NoError(t, repo.Save(ctx, execution))
	}

	active, err := repo.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "exec-1", active[0].ID)
	assert.Equal(t, "exec-2", active[1].ID)
}

func TestExecutionRepository_GetByID_NotFound(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.ExecutionRepository().GetByID(context.Background(), "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestDraftRepository_RoundTrip(t *testing.T) {
	p := NewPersistence(t.TempDir())
	ctx := context.Background()
	repo := p.DraftRepository()

	key := "opportunity-form:opp-42"
	value := json.RawMessage(`{"name":"ACME expansion","value":25000}`)

	_, err := repo.Get(ctx, key)
	assert.True(t, persistence.IsDraftNotFound(err))

	require.NoError(t, repo.Set(ctx, key, value))

	loaded, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(loaded))

	require.NoError(t, repo.Delete(ctx, key))

	_, err = repo.Get(ctx, key)
	assert.True(t, persistence.IsDraftNotFound(err))

	// Deleting an absent draft is a no-op.
	assert.NoError(t, repo.Delete(ctx, key))
}

func TestPersistence_HealthCheck(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence(dir)
	assert.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence(dir + "/does-not-exist")
	assert.Error(t, missing.HealthCheck(context.Background()))
}
