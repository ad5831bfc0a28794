// Package signals consumes step signals pushed by external CRM systems onto
// a Redis queue. A signal tells the engine a human-facing step finished
// outside the API: the assignee completed a task, an approver rejected, or a
// step was waived.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/xeipuuv/gojsonschema"

	"github.com/traction-hq/traction/pkg/engine"
	"github.com/traction-hq/traction/pkg/persistence"
)

const (
	// DefaultQueue is the Redis list external systems push signals onto.
	DefaultQueue = "traction:signals"

	popTimeout = 1 * time.Second
	errorPause = 1 * time.Second
)

const (
	ActionComplete = "complete"
	ActionFail     = "fail"
	ActionSkip     = "skip"
)

// signalSchema validates incoming payloads before they touch the engine.
const signalSchema = `{
	"type": "object",
	"required": ["execution_id", "action"],
	"properties": {
		"execution_id": {"type": "string", "minLength": 1},
		"action": {"type": "string", "enum": ["complete", "fail", "skip"]},
		"by": {"type": "string"},
		"reason": {"type": "string"}
	},
	"additionalProperties": true
}`

// StepSignal is one externally reported step outcome.
type StepSignal struct {
	ExecutionID string `json:"execution_id"`
	Action      string `json:"action"`
	By          string `json:"by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Consumer drains the signal queue and applies each signal as an engine
// lifecycle operation. Malformed and stale signals are logged and dropped;
// the queue never wedges on a bad message.
type Consumer struct {
	client redis.UniversalClient
	queue  string
	engine *engine.Engine
	schema *gojsonschema.Schema
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewConsumer(client redis.UniversalClient, queue string, eng *engine.Engine, logger *slog.Logger) (*Consumer, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(signalSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile signal schema: %w", err)
	}

	return &Consumer{
		client: client,
		queue:  queue,
		engine: eng,
		schema: schema,
		stopCh: make(chan struct{}),
		logger: logger.With("module", "signals_consumer", "queue", queue),
	}, nil
}

// Start begins draining the queue in the background.
func (c *Consumer) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.InfoContext(ctx, "Starting signal consumer")

	c.wg.Add(1)

	go c.consume(ctx)

	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Signal consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping signal consumer")

			return
		default:
			if err := c.poll(ctx); err != nil {
				c.logger.ErrorContext(ctx, "Error processing signal", "error", err)
				time.Sleep(errorPause)
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, popTimeout, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop signal from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	c.Process(ctx, result[1])

	return nil
}

// Process validates and applies one raw signal payload. Rejections are
// terminal for the message: there is no retry for input the sender got
// wrong.
func (c *Consumer) Process(ctx context.Context, payload string) {
	validation, err := c.schema.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		c.logger.WarnContext(ctx, "Dropping unparseable signal", "error", err)

		return
	}

	if !validation.Valid() {
		c.logger.WarnContext(ctx, "Dropping invalid signal",
			"errors", fmt.Sprintf("%v", validation.Errors()),
		)

		return
	}

	var signal StepSignal
	if err := json.Unmarshal([]byte(payload), &signal); err != nil {
		c.logger.WarnContext(ctx, "Dropping undecodable signal", "error", err)

		return
	}

	c.apply(ctx, signal)
}

func (c *Consumer) apply(ctx context.Context, signal StepSignal) {
	var err error

	switch signal.Action {
	case ActionComplete:
		_, err = c.engine.CompleteStep(ctx, signal.ExecutionID, signal.By)
	case ActionFail:
		reason := signal.Reason
		if reason == "" {
			reason = "failed by external signal"
		}

		_, err = c.engine.FailStep(ctx, signal.ExecutionID, reason)
	case ActionSkip:
		_, err = c.engine.SkipStep(ctx, signal.ExecutionID, signal.By)
	}

	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "Applied signal",
			"execution_id", signal.ExecutionID,
			"action", signal.Action,
		)
	case engine.IsInvalidTransition(err), persistence.IsExecutionNotFound(err):
		// Stale or misaddressed signals are expected; drop them quietly.
		c.logger.WarnContext(ctx, "Dropping stale signal",
			"execution_id", signal.ExecutionID,
			"action", signal.Action,
			"error", err,
		)
	default:
		c.logger.ErrorContext(ctx, "Failed to apply signal",
			"execution_id", signal.ExecutionID,
			"action", signal.Action,
			"error", err,
		)
	}
}

// Stop drains in-flight work and closes the consumer.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Stopping signal consumer")

	close(c.stopCh)
	c.wg.Wait()

	return nil
}
