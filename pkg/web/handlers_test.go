package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traction-hq/traction/pkg/automation"
	"github.com/traction-hq/traction/pkg/autosave"
	"github.com/traction-hq/traction/pkg/engine"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence/file"
	"github.com/traction-hq/traction/pkg/registry"
	"github.com/traction-hq/traction/pkg/web"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(p, logger)
	dispatcher := automation.NewDispatcher(logger)
	eng := engine.NewEngine(p, reg, dispatcher, logger)
	drafts := autosave.NewManager(p.DraftRepository(), logger, autosave.WithDelay(10*time.Millisecond))

	t.Cleanup(func() { _ = drafts.Close() })

	handlers := web.NewAPIHandlers(reg, eng, drafts, validator.New(validator.WithRequiredStructEnabled()))
	app := fiber.New()
	web.RegisterRoutes(app, handlers)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	return resp, payload
}

func templateRequest() web.CreateTemplateRequest {
	return web.CreateTemplateRequest{
		ID:    "tpl-web",
		Name:  "Engage Sequence",
		Stage: models.StageEngage,
		Steps: []*models.WorkflowStep{
			{ID: "outreach", Name: "Outreach", Type: models.StepTypeManual},
			{ID: "followup", Name: "Follow up", Type: models.StepTypeManual},
		},
		IsActive: true,
	}
}

func TestCreateAndGetTemplate(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/templates/", templateRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created models.WorkflowTemplate
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "tpl-web", created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	resp, body = doJSON(t, app, http.MethodGet, "/templates/tpl-web", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.WorkflowTemplate
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "Engage Sequence", fetched.Name)
}

func TestCreateTemplate_ValidationErrors(t *testing.T) {
	app := setupTestApp(t)

	missingName := templateRequest()
	missingName.Name = ""
	resp, _ := doJSON(t, app, http.MethodPost, "/templates/", missingName)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	badStage := templateRequest()
	badStage.Stage = "liftoff"
	resp, _ = doJSON(t, app, http.MethodPost, "/templates/", badStage)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTemplate_NotFound(t *testing.T) {
	app := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/templates/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecutionLifecycleOverHTTP(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/templates/", templateRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, app, http.MethodPost, "/executions/", web.StartExecutionRequest{
		WorkflowID:    "tpl-web",
		OpportunityID: "opp-1",
		ExecutedBy:    "alex",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var execution models.WorkflowExecution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)

	resp, body = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/complete", web.StepActionRequest{By: "alex"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// Completing a paused execution is an invalid transition.
	resp, _ = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/complete", web.StepActionRequest{By: "alex"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/executions/"+execution.ID+"/complete", web.StepActionRequest{By: "alex"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var done models.WorkflowExecution
	require.NoError(t, json.Unmarshal(body, &done))
	assert.Equal(t, models.ExecutionStatusCompleted, done.Status)

	resp, body = doJSON(t, app, http.MethodGet, "/executions/?active=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	assert.Equal(t, 0, listing.TotalCount)
}

func TestStartExecution_InactiveTemplateConflicts(t *testing.T) {
	app := setupTestApp(t)

	inactive := templateRequest()
	inactive.IsActive = false
	resp, _ := doJSON(t, app, http.MethodPost, "/templates/", inactive)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/executions/", web.StartExecutionRequest{
		WorkflowID:    "tpl-web",
		OpportunityID: "opp-1",
		ExecutedBy:    "alex",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDraftEndpoints(t *testing.T) {
	app := setupTestApp(t)

	draft := map[string]any{"name": "Half-finished", "stage": "engage"}

	resp, _ := doJSON(t, app, http.MethodPut, "/templates/tpl-web/draft", draft)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/templates/tpl-web/draft/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var status web.DraftStatusResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.True(t, status.HasDraft)
	assert.False(t, status.Dirty)
	assert.NotEmpty(t, status.LastSavedAt)

	resp, body = doJSON(t, app, http.MethodGet, "/templates/tpl-web/draft", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"name":"Half-finished","stage":"engage"}`, string(body))

	resp, _ = doJSON(t, app, http.MethodDelete, "/templates/tpl-web/draft", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/templates/tpl-web/draft", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
}
