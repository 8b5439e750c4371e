package ledgeraccount

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
	"github.com/Ramsey-B/sundew/pkg/replicator"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newConnector() *Connector {
	return New(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()))
}

func TestDescriptor(t *testing.T) {
	descriptor := newConnector().Descriptor()
	assert.Equal(t, ServiceName, descriptor.Name)
	assert.True(t, descriptor.SupportsWebhooks)
	assert.True(t, descriptor.SupportsBackfill)
}

func TestRemoteKeyFromIDField(t *testing.T) {
	col := newConnector().RemoteKeyColumn()
	assert.Equal(t, "account_id", col.Name)
	assert.Equal(t, []string{"id"}, col.Path)
	assert.True(t, col.Required)

	value, err := col.ComputeValue(map[string]any{"id": "acct_1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", value)
}

func TestUpdateGuardOnUpdatedAt(t *testing.T) {
	guard := newConnector().UpdateGuard()
	require.NotNil(t, guard)
	assert.Equal(t, "updated_at", guard.Column)
}

func TestCreateStateMachine(t *testing.T) {
	connector := newConnector()

	si := &models.ServiceIntegration{OpaqueID: "svi_ledger1"}
	step := connector.CalculateCreateStateMachine(si)
	assert.True(t, step.NeedsInput)
	assert.True(t, step.PromptIsSecret)
	assert.Equal(t, "webhook_secret", step.FieldName)

	si.WebhookSecret = "whsec_abc"
	step = connector.CalculateCreateStateMachine(si)
	assert.True(t, step.Complete)
	assert.Contains(t, step.Output, "/v1/webhooks/svi_ledger1")
}

func TestBackfillStateMachine_CollectsURLThenKey(t *testing.T) {
	connector := newConnector()
	si := &models.ServiceIntegration{OpaqueID: "svi_ledger1"}

	step := connector.CalculateBackfillStateMachine(si)
	assert.Equal(t, "api_url", step.FieldName)
	assert.False(t, step.PromptIsSecret)

	si.APIURL = "https://api.ledger.example.com"
	step = connector.CalculateBackfillStateMachine(si)
	assert.Equal(t, "backfill_key", step.FieldName)
	assert.True(t, step.PromptIsSecret)

	si.BackfillKey = "key_abc"
	step = connector.CalculateBackfillStateMachine(si)
	assert.True(t, step.Complete)
}

func TestFetchBackfillPage(t *testing.T) {
	var gotAuth string
	var gotCursor string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotCursor = r.URL.Query().Get("cursor")

		page := map[string]any{
			"accounts":    []map[string]any{{"id": "acct_1"}, {"id": "acct_2"}},
			"next_cursor": "page2",
		}
		if gotCursor == "page2" {
			page = map[string]any{
				"accounts":    []map[string]any{{"id": "acct_3"}},
				"next_cursor": "",
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
	defer server.Close()

	connector := newConnector()
	si := &models.ServiceIntegration{APIURL: server.URL, BackfillKey: "key_abc"}

	items, next, err := connector.FetchBackfillPage(si, "")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "page2", next)
	assert.Equal(t, "Bearer key_abc", gotAuth)
	assert.Empty(t, gotCursor)

	items, next, err = connector.FetchBackfillPage(si, next)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Empty(t, next)
	assert.Equal(t, "page2", gotCursor)
}

func TestFetchBackfillPage_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	connector := newConnector()
	si := &models.ServiceIntegration{APIURL: server.URL, BackfillKey: "revoked"}

	_, _, err := connector.FetchBackfillPage(si, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 403")
}

func TestVerifierIsHMAC(t *testing.T) {
	verifier := newConnector().NewVerifier(&models.ServiceIntegration{WebhookSecret: "whsec_abc"})
	_, ok := verifier.(replicator.HMACSHA256Verifier)
	assert.True(t, ok)
}
