package signals

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traction-hq/traction/pkg/automation"
	"github.com/traction-hq/traction/pkg/engine"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence/file"
	"github.com/traction-hq/traction/pkg/registry"
)

func newTestConsumer(t *testing.T) (*Consumer, *engine.Engine, *registry.Registry) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(p, logger)
	eng := engine.NewEngine(p, reg, automation.NewDispatcher(logger), logger)

	consumer, err := NewConsumer(nil, "", eng, logger)
	require.NoError(t, err)

	return consumer, eng, reg
}

func startExecution(t *testing.T, eng *engine.Engine, reg *registry.Registry) *models.WorkflowExecution {
	t.Helper()
	ctx := context.Background()

	_, err := reg.Register(ctx, &models.WorkflowTemplate{
		ID:    "tpl-signal",
		Name:  "Keep Sequence",
		Stage: models.StageKeep,
		Steps: []*models.WorkflowStep{
			{ID: "checkin", Name: "Check in", Type: models.StepTypeManual},
			{ID: "renewal", Name: "Renewal", Type: models.StepTypeManual},
		},
		IsActive: true,
	})
	require.NoError(t, err)

	execution, err := eng.ExecuteWorkflow(ctx, "tpl-signal", "opp-1", "alex")
	require.NoError(t, err)

	return execution
}

func TestProcess_CompleteSignalAdvancesExecution(t *testing.T) {
	consumer, eng, reg := newTestConsumer(t)
	ctx := context.Background()

	execution := startExecution(t, eng, reg)

	consumer.Process(ctx, `{"execution_id":"`+execution.ID+`","action":"complete","by":"crm"}`)

	reloaded, err := eng.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.CurrentStep)
	assert.Equal(t, models.ResultStatusCompleted, reloaded.Results[0].Status)
}

func TestProcess_FailSignalFailsExecution(t *testing.T) {
	consumer, eng, reg := newTestConsumer(t)
	ctx := context.Background()

	execution := startExecution(t, eng, reg)

	consumer.Process(ctx, `{"execution_id":"`+execution.ID+`","action":"fail","reason":"approver rejected"}`)

	reloaded, err := eng.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, reloaded.Status)
	assert.Equal(t, "approver rejected", reloaded.Results[0].Error)
}

func TestProcess_SkipSignal(t *testing.T) {
	consumer, eng, reg := newTestConsumer(t)
	ctx := context.Background()

	execution := startExecution(t, eng, reg)

	consumer.Process(ctx, `{"execution_id":"`+execution.ID+`","action":"skip","by":"crm"}`)

	reloaded, err := eng.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusSkipped, reloaded.Results[0].Status)
}

func TestProcess_InvalidPayloadsAreDropped(t *testing.T) {
	consumer, eng, reg := newTestConsumer(t)
	ctx := context.Background()

	execution := startExecution(t, eng, reg)

	// None of these reach the engine.
	consumer.Process(ctx, `not json at all`)
	consumer.Process(ctx, `{"action":"complete"}`)
	consumer.Process(ctx, `{"execution_id":"`+execution.ID+`","action":"detonate"}`)

	reloaded, err := eng.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.CurrentStep)
	assert.Equal(t, models.ResultStatusRunning, reloaded.Results[0].Status)
}

func TestProcess_StaleSignalIsDroppedQuietly(t *testing.T) {
	consumer, eng, reg := newTestConsumer(t)
	ctx := context.Background()

	execution := startExecution(t, eng, reg)

	_, err := eng.CancelExecution(ctx, execution.ID, "alex", "deal lost")
	require.NoError(t, err)

	// A signal for a finished execution must not error the consumer loop.
	consumer.Process(ctx, `{"execution_id":"`+execution.ID+`","action":"complete"}`)
	consumer.Process(ctx, `{"execution_id":"exec-missing","action":"complete"}`)

	reloaded, err := eng.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, reloaded.Status)
}
