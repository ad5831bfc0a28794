package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType enumerates the automation action variants.
type ActionType string

const (
	ActionTypeEmail        ActionType = "email"
	ActionTypeTask         ActionType = "task"
	ActionTypeNotification ActionType = "notification"
	ActionTypeFieldUpdate  ActionType = "field_update"
	ActionTypeIntegration  ActionType = "integration"
	ActionTypeWebhook      ActionType = "webhook"
	ActionTypeDelay        ActionType = "delay"
	ActionTypeConditional  ActionType = "conditional"
)

// AutomationAction is a tagged union: exactly one parameter struct is set,
// matching Type. On the wire it carries a "parameters" object whose shape
// depends on the type.
type AutomationAction struct {
	ID   string     `json:"id"`
	Type ActionType `json:"type" validate:"required"`

	Email        *EmailParams        `json:"-"`
	Task         *TaskParams         `json:"-"`
	Notification *NotificationParams `json:"-"`
	FieldUpdate  *FieldUpdateParams  `json:"-"`
	Integration  *IntegrationParams  `json:"-"`
	Webhook      *WebhookParams      `json:"-"`
	Delay        *DelayParams        `json:"-"`
	Conditional  *ConditionalParams  `json:"-"`
}

type EmailParams struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type TaskParams struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssignedRole string `json:"assigned_role,omitempty"`
	DueInDays    int    `json:"due_in_days,omitempty"`
}

type NotificationParams struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

type FieldUpdateParams struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type IntegrationParams struct {
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type WebhookParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload map[string]any    `json:"payload,omitempty"`
}

type DelayParams struct {
	// Duration is a Go duration string, e.g. "30s" or "5m".
	Duration string `json:"duration"`
}

// Wait parses the configured delay duration.
func (p *DelayParams) Wait() (time.Duration, error) {
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return 0, fmt.Errorf("invalid delay duration %q: %w", p.Duration, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("negative delay duration %q", p.Duration)
	}

	return d, nil
}

type ConditionalParams struct {
	Condition Condition           `json:"condition"`
	Actions   []*AutomationAction `json:"actions"`
}

type actionEnvelope struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// UnmarshalJSON dispatches the free-form "parameters" object into the typed
// variant matching the declared action type.
func (a *AutomationAction) UnmarshalJSON(data []byte) error {
	var envelope actionEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	a.ID = envelope.ID
	a.Type = envelope.Type

	raw := envelope.Parameters
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	switch envelope.Type {
	case ActionTypeEmail:
		a.Email = &EmailParams{}
		return json.Unmarshal(raw, a.Email)
	case ActionTypeTask:
		a.Task = &TaskParams{}
		return json.Unmarshal(raw, a.Task)
	case ActionTypeNotification:
		a.Notification = &NotificationParams{}
		return json.Unmarshal(raw, a.Notification)
	case ActionTypeFieldUpdate:
		a.FieldUpdate = &FieldUpdateParams{}
		return json.Unmarshal(raw, a.FieldUpdate)
	case ActionTypeIntegration:
		a.Integration = &IntegrationParams{}
		return json.Unmarshal(raw, a.Integration)
	case ActionTypeWebhook:
		a.Webhook = &WebhookParams{}
		return json.Unmarshal(raw, a.Webhook)
	case ActionTypeDelay:
		a.Delay = &DelayParams{}
		return json.Unmarshal(raw, a.Delay)
	case ActionTypeConditional:
		a.Conditional = &ConditionalParams{}
		return json.Unmarshal(raw, a.Conditional)
	default:
		return fmt.Errorf("unknown action type %q", envelope.Type)
	}
}

func (a AutomationAction) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(a.parameters())
	if err != nil {
		return nil, err
	}

	return json.Marshal(actionEnvelope{
		ID:         a.ID,
		Type:       a.Type,
		Parameters: params,
	})
}

func (a *AutomationAction) parameters() any {
	switch a.Type {
	case ActionTypeEmail:
		return a.Email
	case ActionTypeTask:
		return a.Task
	case ActionTypeNotification:
		return a.Notification
	case ActionTypeFieldUpdate:
		return a.FieldUpdate
	case ActionTypeIntegration:
		return a.Integration
	case ActionTypeWebhook:
		return a.Webhook
	case ActionTypeDelay:
		return a.Delay
	case ActionTypeConditional:
		return a.Conditional
	default:
		return nil
	}
}

func (a *AutomationAction) clone() *AutomationAction {
	if a == nil {
		return nil
	}

	data, err := json.Marshal(a)
	if err != nil {
		copied := *a

		return &copied
	}

	var copied AutomationAction
	if err := json.Unmarshal(data, &copied); err != nil {
		fallback := *a

		return &fallback
	}

	return &copied
}
