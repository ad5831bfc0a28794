package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/traction-hq/traction/pkg/models"
)

// StepRunner performs the work of an automated step. Manual and approval
// steps never reach the runner; they complete through the engine's lifecycle
// operations.
type StepRunner interface {
	RunStep(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) error
}

// RetryPolicy decides whether a failed automated step attempt is retried and
// how long to wait first. Attempt counting starts at 1.
type RetryPolicy interface {
	ShouldRetry(attempt int, err error) (time.Duration, bool)
}

// NoRetry fails an automated step on its first error.
type NoRetry struct{}

func (NoRetry) ShouldRetry(int, error) (time.Duration, bool) { return 0, false }

// FixedBackoff retries up to MaxAttempts total attempts with a constant delay
// between them.
type FixedBackoff struct {
	MaxAttempts int
	Delay       time.Duration
}

func (p FixedBackoff) ShouldRetry(attempt int, _ error) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}

	return p.Delay, true
}

// LogStepRunner is the default runner: it marks automated steps done after
// logging them. Deployments wire a real runner to reach CRM systems.
type LogStepRunner struct {
	logger *slog.Logger
}

func NewLogStepRunner(logger *slog.Logger) *LogStepRunner {
	return &LogStepRunner{logger: logger.With("module", "step_runner")}
}

func (r *LogStepRunner) RunStep(ctx context.Context, execution *models.WorkflowExecution, step *models.WorkflowStep) error {
	r.logger.InfoContext(ctx, "Automated step executed",
		"execution_id", execution.ID,
		"step_id", step.ID,
		"step_name", step.Name,
	)

	return nil
}
