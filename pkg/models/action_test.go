package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomationAction_UnmarshalDispatch(t *testing.T) {
	payload := `{
		"id": "act-1",
		"type": "webhook",
		"parameters": {
			"url": "https://hooks.example.com/deals",
			"method": "POST",
			"headers": {"X-Source": "traction"}
		}
	}`

	var action AutomationAction
	require.NoError(t, json.Unmarshal([]byte(payload), &action))

	assert.Equal(t, ActionTypeWebhook, action.Type)
	require.NotNil(t, action.Webhook)
	assert.Equal(t, "https://hooks.example.com/deals", action.Webhook.URL)
	assert.Nil(t, action.Email)
}

func TestAutomationAction_UnknownTypeRejected(t *testing.T) {
	var action AutomationAction

	err := json.Unmarshal([]byte(`{"id":"a","type":"teleport","parameters":{}}`), &action)
	assert.Error(t, err)
}

func TestAutomationAction_MarshalRoundTrip(t *testing.T) {
	action := AutomationAction{
		ID:    "act-delay",
		Type:  ActionTypeDelay,
		Delay: &DelayParams{Duration: "45s"},
	}

	data, err := json.Marshal(action)
	require.NoError(t, err)

	var decoded AutomationAction
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Delay)

	wait, err := decoded.Delay.Wait()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, wait)
}

func TestDelayParams_Wait_Invalid(t *testing.T) {
	_, err := (&DelayParams{Duration: "soon"}).Wait()
	assert.Error(t, err)

	_, err = (&DelayParams{Duration: "-5s"}).Wait()
	assert.Error(t, err)
}

func TestTemplateSnapshot_Isolation(t *testing.T) {
	template := &WorkflowTemplate{
		ID:    "tpl-1",
		Name:  "Prospect Intake",
		Stage: StageProspect,
		Steps: []*WorkflowStep{
			{ID: "step-1", Name: "Qualify", Type: StepTypeAutomated},
			{ID: "step-2", Name: "Review", Type: StepTypeManual, Dependencies: []string{"step-1"}},
		},
		AutomationRules: []*AutomationRule{
			{
				ID:      "rule-1",
				Trigger: TriggerStepCompleted,
				Actions: []*AutomationAction{
					{ID: "a1", Type: ActionTypeNotification, Notification: &NotificationParams{Channel: "sales", Message: "step done"}},
				},
				IsActive: true,
			},
		},
		IsActive: true,
	}

	snapshot := template.Snapshot()

	template.Steps[0].Name = "Renamed"
	template.Steps = template.Steps[:1]
	template.AutomationRules[0].Actions[0].Notification.Message = "mutated"

	assert.Len(t, snapshot.Steps, 2)
	assert.Equal(t, "Qualify", snapshot.Steps[0].Name)
	assert.Equal(t, "step done", snapshot.AutomationRules[0].Actions[0].Notification.Message)
}
