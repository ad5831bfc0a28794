package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/traction-hq/traction/pkg/models"
)

// Executor runs one action variant. Implementations must be safe for
// concurrent use; delayed action remainders run off-goroutine.
type Executor interface {
	Type() models.ActionType
	Execute(ctx context.Context, action *models.AutomationAction, execCtx map[string]any) (map[string]any, error)
}

// Notifier delivers user-facing messages. The engine does not talk to mail or
// chat providers directly; deployments plug in their own transport.
type Notifier interface {
	Send(ctx context.Context, channel, subject, message string) error
}

// FieldUpdater applies field changes to the business object an execution is
// bound to.
type FieldUpdater interface {
	UpdateField(ctx context.Context, opportunityID, field string, value any) error
}

// IntegrationClient invokes an operation on a named external service.
type IntegrationClient interface {
	Invoke(ctx context.Context, service, operation string, payload map[string]any) (map[string]any, error)
}

// WithNotifier routes email, task and notification actions through the given
// transport instead of the log-only default.
func WithNotifier(notifier Notifier) Option {
	return func(d *Dispatcher) {
		for _, executor := range []Executor{
			NewEmailExecutor(notifier),
			NewTaskExecutor(notifier),
			NewNotificationExecutor(notifier),
		} {
			d.executors[executor.Type()] = executor
		}
	}
}

// WithFieldUpdater routes field_update actions to the given backend.
func WithFieldUpdater(updater FieldUpdater) Option {
	return func(d *Dispatcher) {
		d.executors[models.ActionTypeFieldUpdate] = NewFieldUpdateExecutor(updater)
	}
}

// WithIntegrationClient routes integration actions to the given client.
func WithIntegrationClient(client IntegrationClient) Option {
	return func(d *Dispatcher) {
		d.executors[models.ActionTypeIntegration] = NewIntegrationExecutor(client)
	}
}

// WithHTTPClient replaces the webhook executor's HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.executors[models.ActionTypeWebhook] = NewWebhookExecutor(client)
	}
}

// LogNotifier is the default Notifier: it records deliveries in the log and
// nothing else. Useful for development and tests.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, channel, subject, message string) error {
	n.logger.InfoContext(ctx, "Notification delivered",
		"channel", channel,
		"subject", subject,
		"message", message,
	)

	return nil
}

// EmailExecutor handles email actions.
type EmailExecutor struct {
	notifier Notifier
}

func NewEmailExecutor(notifier Notifier) *EmailExecutor {
	return &EmailExecutor{notifier: notifier}
}

func (e *EmailExecutor) Type() models.ActionType { return models.ActionTypeEmail }

func (e *EmailExecutor) Execute(ctx context.Context, action *models.AutomationAction, _ map[string]any) (map[string]any, error) {
	params := action.Email
	if params == nil {
		return nil, errors.New("email action without parameters")
	}

	if params.To == "" {
		return nil, errors.New("email action requires a recipient")
	}

	if err := e.notifier.Send(ctx, "email:"+params.To, params.Subject, params.Body); err != nil {
		return nil, fmt.Errorf("failed to send email to %s: %w", params.To, err)
	}

	return map[string]any{"to": params.To, "subject": params.Subject}, nil
}

// TaskExecutor handles task actions. Task creation is delivered as a
// notification to the assigned role's channel; the CRM picks it up from
// there.
type TaskExecutor struct {
	notifier Notifier
}

func NewTaskExecutor(notifier Notifier) *TaskExecutor {
	return &TaskExecutor{notifier: notifier}
}

func (e *TaskExecutor) Type() models.ActionType { return models.ActionTypeTask }

func (e *TaskExecutor) Execute(ctx context.Context, action *models.AutomationAction, _ map[string]any) (map[string]any, error) {
	params := action.Task
	if params == nil {
		return nil, errors.New("task action without parameters")
	}

	if params.Title == "" {
		return nil, errors.New("task action requires a title")
	}

	channel := "tasks"
	if params.AssignedRole != "" {
		channel = "tasks:" + params.AssignedRole
	}

	if err := e.notifier.Send(ctx, channel, params.Title, params.Description); err != nil {
		return nil, fmt.Errorf("failed to create task %q: %w", params.Title, err)
	}

	output := map[string]any{"title": params.Title}
	if params.DueInDays > 0 {
		output["due_at"] = time.Now().UTC().AddDate(0, 0, params.DueInDays)
	}

	return output, nil
}

// NotificationExecutor handles notification actions.
type NotificationExecutor struct {
	notifier Notifier
}

func NewNotificationExecutor(notifier Notifier) *NotificationExecutor {
	return &NotificationExecutor{notifier: notifier}
}

func (e *NotificationExecutor) Type() models.ActionType { return models.ActionTypeNotification }

func (e *NotificationExecutor) Execute(ctx context.Context, action *models.AutomationAction, _ map[string]any) (map[string]any, error) {
	params := action.Notification
	if params == nil {
		return nil, errors.New("notification action without parameters")
	}

	if err := e.notifier.Send(ctx, params.Channel, "", params.Message); err != nil {
		return nil, fmt.Errorf("failed to notify channel %s: %w", params.Channel, err)
	}

	return map[string]any{"channel": params.Channel}, nil
}

// FieldUpdateExecutor handles field_update actions. Without a configured
// backend the update is applied to the in-memory execution context only, so
// later conditions in the same dispatch observe the new value.
type FieldUpdateExecutor struct {
	updater FieldUpdater
}

func NewFieldUpdateExecutor(updater FieldUpdater) *FieldUpdateExecutor {
	return &FieldUpdateExecutor{updater: updater}
}

func (e *FieldUpdateExecutor) Type() models.ActionType { return models.ActionTypeFieldUpdate }

func (e *FieldUpdateExecutor) Execute(ctx context.Context, action *models.AutomationAction, execCtx map[string]any) (map[string]any, error) {
	params := action.FieldUpdate
	if params == nil {
		return nil, errors.New("field_update action without parameters")
	}

	if params.Field == "" {
		return nil, errors.New("field_update action requires a field name")
	}

	if e.updater != nil {
		opportunityID, _ := execCtx["opportunity_id"].(string)
		if err := e.updater.UpdateField(ctx, opportunityID, params.Field, params.Value); err != nil {
			return nil, fmt.Errorf("failed to update field %q: %w", params.Field, err)
		}
	}

	execCtx[params.Field] = params.Value

	return map[string]any{"field": params.Field, "value": params.Value}, nil
}

// IntegrationExecutor handles integration actions.
type IntegrationExecutor struct {
	client IntegrationClient
}

func NewIntegrationExecutor(client IntegrationClient) *IntegrationExecutor {
	return &IntegrationExecutor{client: client}
}

func (e *IntegrationExecutor) Type() models.ActionType { return models.ActionTypeIntegration }

func (e *IntegrationExecutor) Execute(ctx context.Context, action *models.AutomationAction, _ map[string]any) (map[string]any, error) {
	params := action.Integration
	if params == nil {
		return nil, errors.New("integration action without parameters")
	}

	if e.client == nil {
		return nil, fmt.Errorf("no integration client configured for service %q", params.Service)
	}

	result, err := e.client.Invoke(ctx, params.Service, params.Operation, params.Payload)
	if err != nil {
		return nil, fmt.Errorf("integration %s.%s failed: %w", params.Service, params.Operation, err)
	}

	return result, nil
}

const webhookTimeout = 30 * time.Second

// WebhookExecutor handles webhook actions: a JSON HTTP request to an
// arbitrary URL, with the execution context merged into the payload.
type WebhookExecutor struct {
	client *http.Client
}

func NewWebhookExecutor(client *http.Client) *WebhookExecutor {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}

	return &WebhookExecutor{client: client}
}

func (e *WebhookExecutor) Type() models.ActionType { return models.ActionTypeWebhook }

func (e *WebhookExecutor) Execute(ctx context.Context, action *models.AutomationAction, execCtx map[string]any) (map[string]any, error) {
	params := action.Webhook
	if params == nil {
		return nil, errors.New("webhook action without parameters")
	}

	if params.URL == "" {
		return nil, errors.New("webhook action requires a url")
	}

	method := params.Method
	if method == "" {
		method = http.MethodPost
	}

	payload := make(map[string]any, len(params.Payload)+len(execCtx))
	for k, v := range execCtx {
		payload[k] = v
	}

	for k, v := range params.Payload {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, params.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range params.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request to %s failed: %w", params.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	output := map[string]any{"status_code": resp.StatusCode}

	var decoded map[string]any
	if json.Unmarshal(respBody, &decoded) == nil {
		output["response"] = decoded
	}

	return output, nil
}
