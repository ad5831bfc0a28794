package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traction-hq/traction/pkg/automation"
	"github.com/traction-hq/traction/pkg/eventbus"
	"github.com/traction-hq/traction/pkg/events"
	"github.com/traction-hq/traction/pkg/models"
	"github.com/traction-hq/traction/pkg/persistence/file"
	"github.com/traction-hq/traction/pkg/registry"
)

// recordingPublisher collects published event types in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event.GetType())

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]events.EventType(nil), p.events...)
}

// flakyRunner fails a configured number of times before succeeding.
type flakyRunner struct {
	failures int
	calls    int
}

func (r *flakyRunner) RunStep(context.Context, *models.WorkflowExecution, *models.WorkflowStep) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("downstream unavailable")
	}

	return nil
}

type testHarness struct {
	engine    *Engine
	registry  *registry.Registry
	publisher *recordingPublisher
}

func newHarness(t *testing.T, opts ...Option) *testHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	p := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(p, logger)
	publisher := &recordingPublisher{}
	dispatcher := automation.NewDispatcher(logger)

	opts = append([]Option{WithPublisher(publisher)}, opts...)

	return &testHarness{
		engine:    NewEngine(p, reg, dispatcher, logger, opts...),
		registry:  reg,
		publisher: publisher,
	}
}

func manualTemplate(id string, stepCount int) *models.WorkflowTemplate {
	steps := make([]*models.WorkflowStep, 0, stepCount)
	names := []string{"research", "outreach", "proposal", "close"}

	for i := range stepCount {
		steps = append(steps, &models.WorkflowStep{
			ID:   names[i%len(names)],
			Name: names[i%len(names)],
			Type: models.StepTypeManual,
		})
	}

	return &models.WorkflowTemplate{
		ID:       id,
		Name:     "Engage Sequence",
		Stage:    models.StageEngage,
		Steps:    steps,
		IsActive: true,
	}
}

func TestExecuteWorkflow_HappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, manualTemplate("tpl-happy", 2))
	require.NoError(t, err)

	execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-happy", "opp-1", "alex")
	require.NoError(t, err)

	assert.Contains(t, execution.ID, executionIDPrefix)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, 0, execution.CurrentStep)

	// The ledger is created eagerly, one entry per snapshot step.
	require.Len(t, execution.Results, 2)
	assert.Equal(t, models.ResultStatusRunning, execution.Results[0].Status)
	assert.NotNil(t, execution.Results[0].StartedAt)
	assert.Equal(t, models.ResultStatusPending, execution.Results[1].Status)

	execution, err = h.engine.CompleteStep(ctx, execution.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, 1, execution.CurrentStep)
	assert.Equal(t, models.ResultStatusCompleted, execution.Results[0].Status)
	assert.Equal(t, models.ResultStatusRunning, execution.Results[1].Status)

	execution, err = h.engine.CompleteStep(ctx, execution.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.NotNil(t, execution.CompletedAt)

	for _, result := range execution.Results {
		assert.Equal(t, models.ResultStatusCompleted, result.Status)
	}

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.StageEnteredEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.ExecutionCompletedEvent,
	}, h.publisher.types())
}

func TestExecuteWorkflow_AutomatedStepsChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	template := &models.WorkflowTemplate{
		ID:    "tpl-auto",
		Name:  "Acquire Sequence",
		Stage: models.StageAcquire,
		Steps: []*models.WorkflowStep{
			{ID: "enrich", Name: "Enrich", Type: models.StepTypeAutomated},
			{ID: "review", Name: "Review", Type: models.StepTypeApproval},
			{ID: "provision", Name: "Provision", Type: models.StepTypeAutomated},
		},
		IsActive: true,
	}

	_, err := h.registry.Register(ctx, template)
	require.NoError(t, err)

	execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-auto", "opp-2", "sam")
	require.NoError(t, err)

	// The leading automated step ran synchronously; the approval holds.
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, 1, execution.CurrentStep)
	assert.Equal(t, models.ResultStatusCompleted, execution.Results[0].Status)
	assert.Equal(t, models.ResultStatusRunning, execution.Results[1].Status)

	execution, err = h.engine.CompleteStep(ctx, execution.ID, "sam")
	require.NoError(t, err)

	// Approving releases the trailing automated step and finishes the run.
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, models.ResultStatusCompleted, execution.Results[2].Status)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, manualTemplate("tpl-pause", 2))
	require.NoError(t, err)

	execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-pause", "opp-3", "kim")
	require.NoError(t, err)

	paused, err := h.engine.PauseExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	assert.Equal(t, models.ResultStatusRunning, paused.Results[0].Status)

	// No advancement while paused.
	_, err = h.engine.CompleteStep(ctx, execution.ID, "kim")
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))

	resumed, err := h.engine.ResumeExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)

	_, err = h.engine.CompleteStep(ctx, execution.ID, "kim")
	require.NoError(t, err)
}

func TestFailStep_FailsExecution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, manualTemplate("tpl-fail", 3))
	require.NoError(t, err)

	execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-fail", "opp-4", "lee")
	require.NoError(t, err)

	failed, err := h.engine.FailStep(ctx, execution.ID, "customer went dark")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
	require.NotNil(t, failed.CompletedAt)
	assert.Equal(t, models.ResultStatusFailed, failed.Results[0].Status)
	assert.Equal(t, "customer went dark", failed.Results[0].Error)

	// The untouched remainder stays pending as a record of progress.
	assert.Equal(t, models.ResultStatusPending, failed.Results[1].Status)
	assert.Equal(t, models.ResultStatusPending, failed.Results[2].Status)

	// Terminal states reject every further transition.
	_, err = h.engine.CompleteStep(ctx, execution.ID, "lee")
	assert.True(t, IsInvalidTransition(err))
	_, err = h.engine.ResumeExecution(ctx, execution.ID)
	assert.True(t, IsInvalidTransition(err))
}

func TestCancelExecution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, manualTemplate("tpl-cancel", 2))
	require.NoError(t, err)

	execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-cancel", "opp-5", "kim")
	require.NoError(t, err)

	cancelled, err := h.engine.CancelExecution(ctx, execution.ID, "kim", "deal lost")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	// The in-flight step result is left exactly as it was.
	assert.Equal(t, models.ResultStatusRunning, cancelled.Results[0].Status)

	assert.Contains(t, h.publisher.types(), events.ExecutionCancelledEvent)

	_, err = h.engine.CancelExecution(ctx, execution.ID, "kim", "again")
	assert.True(t, IsInvalidTransition(err))
}

func TestExecuteWorkflow_SnapshotShieldsInFlightRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, manualTemplate("tpl-snap", 2))
	require.NoError(t, err)

	execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-snap", "opp-6", "alex")
	require.NoError(t, err)

	// Edit the live template out from under the execution.
	edited := manualTemplate("tpl-snap", 4)
	edited.Name = "Engage Sequence v2"
	_, err = h.registry.Register(ctx, edited)
	require.NoError(t, err)

	reloaded, err := h.engine.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "Engage Sequence", reloaded.Template.Name)
	assert.Len(t, reloaded.Template.Steps, 2)
	assert.Len(t, reloaded.Results, 2)

	// The run completes against the snapshot, not the edited template.
	_, err = h.engine.CompleteStep(ctx, execution.ID, "alex")
	require.NoError(t, err)
	done, err := h.engine.CompleteStep(ctx, execution.ID, "alex")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, done.Status)
}

func TestExecuteWorkflow_RejectsInactiveTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	template := manualTemplate("tpl-inactive", 1)
	template.IsActive = false
	_, err := h.registry.Register(ctx, template)
	require.NoError(t, err)

	_, err = h.engine.ExecuteWorkflow(ctx, "tpl-inactive", "opp-7", "alex")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemplateInactive)
}

func TestSkipStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, manualTemplate("tpl-skip", 2))
	require.NoError(t, err)

	execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-skip", "opp-8", "sam")
	require.NoError(t, err)

	skipped, err := h.engine.SkipStep(ctx, execution.ID, "sam")
	require.NoError(t, err)

	assert.Equal(t, models.ResultStatusSkipped, skipped.Results[0].Status)
	assert.Equal(t, 1, skipped.CurrentStep)
	assert.Equal(t, models.ResultStatusRunning, skipped.Results[1].Status)
	assert.Contains(t, h.publisher.types(), events.StepSkippedEvent)
}

func TestAutomatedStep_RetryPolicy(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		runner := &flakyRunner{failures: 2}
		h := newHarness(t,
			WithStepRunner(runner),
			WithRetryPolicy(FixedBackoff{MaxAttempts: 3, Delay: time.Millisecond}),
		)
		ctx := context.Background()

		template := manualTemplate("tpl-retry", 1)
		template.Steps[0].Type = models.StepTypeAutomated
		_, err := h.registry.Register(ctx, template)
		require.NoError(t, err)

		execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-retry", "opp-9", "bot")
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
		assert.Equal(t, 3, runner.calls)
	})

	t.Run("no retry fails execution", func(t *testing.T) {
		runner := &flakyRunner{failures: 1}
		h := newHarness(t, WithStepRunner(runner))
		ctx := context.Background()

		template := manualTemplate("tpl-noretry", 1)
		template.Steps[0].Type = models.StepTypeAutomated
		_, err := h.registry.Register(ctx, template)
		require.NoError(t, err)

		execution, err := h.engine.ExecuteWorkflow(ctx, "tpl-noretry", "opp-10", "bot")
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
		assert.Equal(t, 1, runner.calls)
		assert.Equal(t, models.ResultStatusFailed, execution.Results[0].Status)
	})
}

func TestGetActiveExecutions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.registry.Register(ctx, manualTemplate("tpl-active", 1))
	require.NoError(t, err)

	first, err := h.engine.ExecuteWorkflow(ctx, "tpl-active", "opp-11", "alex")
	require.NoError(t, err)

	second, err := h.engine.ExecuteWorkflow(ctx, "tpl-active", "opp-12", "alex")
	require.NoError(t, err)

	_, err = h.engine.CompleteStep(ctx, first.ID, "alex")
	require.NoError(t, err)

	active, err := h.engine.GetActiveExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}
