package replicator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/sundew/pkg/models"
)

func TestStateMachineStep_Prompting(t *testing.T) {
	step := (&StateMachineStep{}).Prompting("Enter the API URL:")
	assert.True(t, step.NeedsInput)
	assert.False(t, step.Complete)
	assert.Equal(t, "Enter the API URL:", step.Prompt)
	assert.False(t, step.PromptIsSecret)
}

func TestStateMachineStep_SecretPrompt(t *testing.T) {
	step := (&StateMachineStep{}).SecretPrompt("Paste the webhook secret:")
	assert.True(t, step.NeedsInput)
	assert.True(t, step.PromptIsSecret)
	assert.Equal(t, "Paste the webhook secret:", step.Prompt)
}

func TestStateMachineStep_CollectingField(t *testing.T) {
	si := &models.ServiceIntegration{OpaqueID: "svi_ab12cd34"}
	step := (&StateMachineStep{}).SecretPrompt("Paste the webhook secret:").CollectingField(si, "webhook_secret")

	assert.Equal(t, "webhook_secret", step.FieldName)
	assert.Equal(t, "/v1/service_integrations/svi_ab12cd34/transition/webhook_secret", step.PostToURL)
}

func TestStateMachineStep_CompletedClearsPromptState(t *testing.T) {
	si := &models.ServiceIntegration{OpaqueID: "svi_ab12cd34"}
	step := (&StateMachineStep{}).SecretPrompt("Paste the webhook secret:").CollectingField(si, "webhook_secret")
	step.Output = "Point the provider at https://example.com/api/v1/webhooks/svi_ab12cd34"

	step.Completed()

	assert.True(t, step.Complete)
	assert.False(t, step.NeedsInput)
	assert.Empty(t, step.Prompt)
	assert.False(t, step.PromptIsSecret)
	assert.Empty(t, step.PostToURL)
	assert.Empty(t, step.FieldName)
	assert.Equal(t, "Point the provider at https://example.com/api/v1/webhooks/svi_ab12cd34", step.Output)
}
