package bankitem

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sundew/pkg/httpclient"
	"github.com/Ramsey-B/sundew/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newConnector() *Connector {
	return New(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()))
}

func TestNormalizeFieldValue(t *testing.T) {
	connector := newConnector()

	tests := []struct {
		name  string
		field string
		value string
		want  string
	}{
		{name: "sandbox shorthand", field: "api_url", value: "sandbox", want: "https://sandbox.bankapi.com"},
		{name: "shorthand is case insensitive", field: "api_url", value: "Production", want: "https://production.bankapi.com"},
		{name: "shorthand tolerates whitespace", field: "api_url", value: "  development ", want: "https://development.bankapi.com"},
		{name: "full URL kept", field: "api_url", value: "https://custom.bankapi.com", want: "https://custom.bankapi.com"},
		{name: "trailing slash stripped", field: "api_url", value: "https://custom.bankapi.com/", want: "https://custom.bankapi.com"},
		{name: "other fields untouched", field: "webhook_secret", value: " sandbox ", want: " sandbox "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, connector.NormalizeFieldValue(tt.field, tt.value))
		})
	}
}

func TestCreateStateMachine_ChainOrder(t *testing.T) {
	connector := newConnector()
	si := &models.ServiceIntegration{OpaqueID: "svi_item1"}

	step := connector.CalculateCreateStateMachine(si)
	assert.Equal(t, "webhook_secret", step.FieldName)

	si.WebhookSecret = "secret"
	step = connector.CalculateCreateStateMachine(si)
	assert.Equal(t, "api_url", step.FieldName)
	assert.False(t, step.PromptIsSecret)

	si.APIURL = "https://sandbox.bankapi.com"
	step = connector.CalculateCreateStateMachine(si)
	assert.Equal(t, "backfill_key", step.FieldName)

	si.BackfillKey = "client-id"
	step = connector.CalculateCreateStateMachine(si)
	assert.Equal(t, "backfill_secret", step.FieldName)

	si.BackfillSecret = "client-secret"
	step = connector.CalculateCreateStateMachine(si)
	assert.True(t, step.Complete)
	assert.Contains(t, step.Output, "/v1/webhooks/svi_item1")
}

func TestFetchEnrichment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/items/item_1", r.URL.Path)
		require.Equal(t, "client-id", r.Header.Get("Client-Id"))
		require.Equal(t, "client-secret", r.Header.Get("Client-Secret"))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"institution_id":   "ins_42",
			"institution_name": "First Example Bank",
			"status":           "healthy",
		}))
	}))
	defer server.Close()

	connector := newConnector()
	si := &models.ServiceIntegration{
		APIURL:         server.URL,
		BackfillKey:    "client-id",
		BackfillSecret: "client-secret",
	}

	item, err := connector.FetchEnrichment(si, map[string]any{"item_id": "item_1"})
	require.NoError(t, err)
	assert.Equal(t, "ins_42", item["institution_id"])
	assert.Equal(t, "healthy", item["status"])
}

func TestFetchEnrichment_MissingItemID(t *testing.T) {
	connector := newConnector()

	_, err := connector.FetchEnrichment(&models.ServiceIntegration{}, map[string]any{"webhook_type": "ITEM"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no item_id")
}

func TestFetchEnrichment_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	connector := newConnector()
	si := &models.ServiceIntegration{APIURL: server.URL}

	_, err := connector.FetchEnrichment(si, map[string]any{"item_id": "item_missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 404")
}

func TestNoUpdateGuard(t *testing.T) {
	assert.Nil(t, newConnector().UpdateGuard())
}
