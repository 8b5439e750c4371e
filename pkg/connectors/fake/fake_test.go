package fake

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sundew/pkg/models"
)

func TestDescriptor(t *testing.T) {
	connector := New()
	descriptor := connector.Descriptor()
	assert.Equal(t, ServiceName, descriptor.Name)
	assert.True(t, descriptor.SupportsWebhooks)
	assert.True(t, descriptor.SupportsBackfill)
	assert.Empty(t, descriptor.DependencyName)

	connector.Dependency = "ledger_account_v1"
	assert.Equal(t, "ledger_account_v1", connector.Descriptor().DependencyName)
}

func TestUpdateGuardToggle(t *testing.T) {
	connector := New()
	require.NotNil(t, connector.UpdateGuard())
	assert.Equal(t, "at", connector.UpdateGuard().Column)

	connector.Guarded = false
	assert.Nil(t, connector.UpdateGuard())
}

func TestNewVerifier(t *testing.T) {
	connector := New()
	verifier := connector.NewVerifier(&models.ServiceIntegration{WebhookSecret: "fake-secret-1"})

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(SecretHeader, "fake-secret-1")
	assert.True(t, verifier.Verify(r, nil))

	r.Header.Set(SecretHeader, "wrong")
	assert.False(t, verifier.Verify(r, nil))
}

func TestCreateStateMachine(t *testing.T) {
	connector := New()

	t.Run("prompts for secret first", func(t *testing.T) {
		si := &models.ServiceIntegration{OpaqueID: "svi_fake1"}
		step := connector.CalculateCreateStateMachine(si)
		assert.True(t, step.NeedsInput)
		assert.True(t, step.PromptIsSecret)
		assert.Equal(t, "webhook_secret", step.FieldName)
		assert.Equal(t, "/v1/service_integrations/svi_fake1/transition/webhook_secret", step.PostToURL)
	})

	t.Run("complete once secret is set", func(t *testing.T) {
		si := &models.ServiceIntegration{OpaqueID: "svi_fake1", WebhookSecret: "fake-secret-1"}
		step := connector.CalculateCreateStateMachine(si)
		assert.True(t, step.Complete)
		assert.False(t, step.NeedsInput)
		assert.NotEmpty(t, step.Output)
	})
}

func TestBackfillStateMachine(t *testing.T) {
	connector := New()

	si := &models.ServiceIntegration{OpaqueID: "svi_fake1"}
	step := connector.CalculateBackfillStateMachine(si)
	assert.True(t, step.NeedsInput)
	assert.Equal(t, "backfill_key", step.FieldName)

	si.BackfillKey = "key"
	step = connector.CalculateBackfillStateMachine(si)
	assert.True(t, step.Complete)
}

func TestFetchBackfillPage(t *testing.T) {
	connector := New()
	connector.BackfillPages = [][]map[string]any{
		{{"my_id": "r1"}, {"my_id": "r2"}},
		{{"my_id": "r3"}},
	}
	si := &models.ServiceIntegration{}

	items, next, err := connector.FetchBackfillPage(si, "")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "1", next)

	items, next, err = connector.FetchBackfillPage(si, next)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Empty(t, next)

	t.Run("past the end", func(t *testing.T) {
		items, next, err := connector.FetchBackfillPage(si, "9")
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Empty(t, next)
	})

	t.Run("bad token", func(t *testing.T) {
		_, _, err := connector.FetchBackfillPage(si, "not-a-number")
		assert.Error(t, err)
	})

	t.Run("stubbed fetch error", func(t *testing.T) {
		connector.FetchErr = func(token string) error { return errors.New("boom") }
		_, _, err := connector.FetchBackfillPage(si, "")
		assert.EqualError(t, err, "boom")
	})
}
