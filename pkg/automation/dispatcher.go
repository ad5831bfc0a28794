// Package automation evaluates automation rules against execution lifecycle
// events and runs their actions. Rules are best-effort side channels: action
// failures are recorded and logged, never propagated into the workflow step
// that triggered them.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/traction-hq/traction/pkg/eventbus"
	"github.com/traction-hq/traction/pkg/events"
	"github.com/traction-hq/traction/pkg/models"
)

const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeScheduled = "scheduled"
	OutcomeSkipped   = "skipped"
)

// Outcome records one action's result for diagnostics.
type Outcome struct {
	RuleID     string            `json:"rule_id"`
	ActionID   string            `json:"action_id"`
	ActionType models.ActionType `json:"action_type"`
	Status     string            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Output     map[string]any    `json:"output,omitempty"`
	At         time.Time         `json:"at"`
}

// Dispatcher matches rules to lifecycle triggers and executes their action
// sequences in declared order.
type Dispatcher struct {
	executors map[models.ActionType]Executor
	evaluator models.ConditionEvaluator
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

type Option func(*Dispatcher)

// WithEvaluator replaces the default condition evaluator.
func WithEvaluator(evaluator models.ConditionEvaluator) Option {
	return func(d *Dispatcher) { d.evaluator = evaluator }
}

// WithPublisher emits an ActionExecuted event per action outcome.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(d *Dispatcher) { d.publisher = publisher }
}

// WithExecutor registers or overrides the executor for one action type.
func WithExecutor(executor Executor) Option {
	return func(d *Dispatcher) { d.executors[executor.Type()] = executor }
}

func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		executors: make(map[models.ActionType]Executor),
		evaluator: models.SimpleConditionEvaluator{},
		logger:    logger.With("module", "automation_dispatcher"),
	}

	notifier := NewLogNotifier(logger)

	for _, executor := range []Executor{
		NewEmailExecutor(notifier),
		NewTaskExecutor(notifier),
		NewNotificationExecutor(notifier),
		NewFieldUpdateExecutor(nil),
		NewIntegrationExecutor(nil),
		NewWebhookExecutor(nil),
	} {
		d.executors[executor.Type()] = executor
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch evaluates every active rule bound to the given trigger. The call
// returns once all non-delayed actions have been issued; actions sequenced
// after a delay run asynchronously but still in order within their rule.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger models.RuleTrigger, rules []*models.AutomationRule, execCtx map[string]any) []Outcome {
	outcomes := make([]Outcome, 0)

	for _, rule := range rules {
		if !rule.IsActive || rule.Trigger != trigger {
			continue
		}

		matched, err := d.conditionsHold(rule.Conditions, execCtx)
		if err != nil {
			// An evaluator failure means not-matched, never a workflow failure.
			d.logger.WarnContext(ctx, "Condition evaluation failed, treating rule as not matched",
				"rule_id", rule.ID,
				"trigger", trigger,
				"error", err,
			)

			continue
		}

		if !matched {
			continue
		}

		outcomes = append(outcomes, d.runActions(ctx, rule, rule.Actions, execCtx)...)
	}

	return outcomes
}

func (d *Dispatcher) conditionsHold(conditions []models.Condition, execCtx map[string]any) (bool, error) {
	for _, condition := range conditions {
		held, err := d.evaluator.Evaluate(condition, execCtx)
		if err != nil {
			return false, err
		}

		if !held {
			return false, nil
		}
	}

	return true, nil
}

// runActions executes actions strictly in order. A delay action suspends the
// remainder of the sequence, not the calling workflow step: the rest is
// scheduled on a timer and the already-collected outcomes are returned.
func (d *Dispatcher) runActions(ctx context.Context, rule *models.AutomationRule, actions []*models.AutomationAction, execCtx map[string]any) []Outcome {
	outcomes := make([]Outcome, 0, len(actions))

	for i, action := range actions {
		switch action.Type {
		case models.ActionTypeDelay:
			outcome := d.scheduleRemainder(ctx, rule, action, actions[i+1:], execCtx)
			outcomes = append(outcomes, outcome)

			return outcomes
		case models.ActionTypeConditional:
			outcomes = append(outcomes, d.runConditional(ctx, rule, action, execCtx)...)
		default:
			outcomes = append(outcomes, d.runAction(ctx, rule, action, execCtx))
		}
	}

	return outcomes
}

func (d *Dispatcher) runAction(ctx context.Context, rule *models.AutomationRule, action *models.AutomationAction, execCtx map[string]any) Outcome {
	outcome := Outcome{
		RuleID:     rule.ID,
		ActionID:   action.ID,
		ActionType: action.Type,
		Status:     OutcomeSuccess,
		At:         time.Now().UTC(),
	}

	executor, ok := d.executors[action.Type]
	if !ok {
		outcome.Status = OutcomeFailed
		outcome.Error = fmt.Sprintf("no executor registered for action type %q", action.Type)
	} else {
		output, err := executor.Execute(ctx, action, execCtx)
		if err != nil {
			outcome.Status = OutcomeFailed
			outcome.Error = err.Error()

			d.logger.WarnContext(ctx, "Automation action failed",
				"rule_id", rule.ID,
				"action_id", action.ID,
				"action_type", action.Type,
				"error", err,
			)
		} else {
			outcome.Output = output
		}
	}

	d.publishOutcome(ctx, outcome, execCtx)

	return outcome
}

func (d *Dispatcher) runConditional(ctx context.Context, rule *models.AutomationRule, action *models.AutomationAction, execCtx map[string]any) []Outcome {
	params := action.Conditional
	if params == nil {
		return []Outcome{{
			RuleID:     rule.ID,
			ActionID:   action.ID,
			ActionType: action.Type,
			Status:     OutcomeFailed,
			Error:      "conditional action without parameters",
			At:         time.Now().UTC(),
		}}
	}

	held, err := d.evaluator.Evaluate(params.Condition, execCtx)
	if err != nil || !held {
		if err != nil {
			d.logger.WarnContext(ctx, "Conditional action evaluation failed, skipping branch",
				"rule_id", rule.ID,
				"action_id", action.ID,
				"error", err,
			)
		}

		return []Outcome{{
			RuleID:     rule.ID,
			ActionID:   action.ID,
			ActionType: action.Type,
			Status:     OutcomeSkipped,
			At:         time.Now().UTC(),
		}}
	}

	return d.runActions(ctx, rule, params.Actions, execCtx)
}

func (d *Dispatcher) scheduleRemainder(ctx context.Context, rule *models.AutomationRule, delay *models.AutomationAction, rest []*models.AutomationAction, execCtx map[string]any) Outcome {
	outcome := Outcome{
		RuleID:     rule.ID,
		ActionID:   delay.ID,
		ActionType: delay.Type,
		Status:     OutcomeScheduled,
		At:         time.Now().UTC(),
	}

	if delay.Delay == nil {
		outcome.Status = OutcomeFailed
		outcome.Error = "delay action without parameters"

		return outcome
	}

	wait, err := delay.Delay.Wait()
	if err != nil {
		outcome.Status = OutcomeFailed
		outcome.Error = err.Error()

		return outcome
	}

	if len(rest) == 0 {
		return outcome
	}

	// The triggering call must not be held hostage by the delay; the rest of
	// the sequence runs detached from the caller's cancellation. The remainder
	// gets its own copy of the execution context so a short delay cannot race
	// the synchronous loop still reading the caller's map.
	detached := context.WithoutCancel(ctx)
	remainderCtx := maps.Clone(execCtx)

	time.AfterFunc(wait, func() {
		d.runActions(detached, rule, rest, remainderCtx)
	})

	return outcome
}

func (d *Dispatcher) publishOutcome(ctx context.Context, outcome Outcome, execCtx map[string]any) {
	if d.publisher == nil {
		return
	}

	workflowID, _ := execCtx["workflow_id"].(string)
	executionID, _ := execCtx["execution_id"].(string)

	event := events.ActionExecuted{
		BaseEvent:   events.NewBaseEvent(events.ActionExecutedEvent, workflowID),
		ExecutionID: executionID,
		RuleID:      outcome.RuleID,
		ActionID:    outcome.ActionID,
		ActionType:  outcome.ActionType,
		Status:      outcome.Status,
		Error:       outcome.Error,
	}

	if err := d.publisher.Publish(ctx, executionID, event); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish action outcome", "error", err)
	}
}
