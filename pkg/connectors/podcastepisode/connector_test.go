package podcastepisode

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

func TestRemoteKeyUnderDataEnvelope(t *testing.T) {
	col := newConnector().RemoteKeyColumn()
	assert.Equal(t, []string{"data", "id"}, col.Path)

	value, err := col.ComputeValue(map[string]any{
		"data": map[string]any{"id": "ep_1"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ep_1", value)
}

func TestBackfillStateMachine_URLThenAPIKey(t *testing.T) {
	connector := newConnector()
	si := &models.ServiceIntegration{OpaqueID: "svi_pod1"}

	step := connector.CalculateBackfillStateMachine(si)
	assert.Equal(t, "api_url", step.FieldName)

	si.APIURL = "https://api.podcasts.example.com"
	step = connector.CalculateBackfillStateMachine(si)
	assert.Equal(t, "backfill_secret", step.FieldName)

	si.BackfillSecret = "api-key"
	step = connector.CalculateBackfillStateMachine(si)
	assert.True(t, step.Complete)
}

func TestFetchBackfillPage_NumberedPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/episodes", r.URL.Path)
		require.Equal(t, "api-key", r.Header.Get("X-Api-Key"))

		page := r.URL.Query().Get("pagination[page]")
		response := map[string]any{
			"data": []map[string]any{{"id": "ep_1"}, {"id": "ep_2"}},
			"meta": map[string]any{"currentPage": 1, "totalPages": 2},
		}
		if page == "2" {
			response = map[string]any{
				"data": []map[string]any{{"id": "ep_3"}},
				"meta": map[string]any{"currentPage": 2, "totalPages": 2},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	defer server.Close()

	connector := newConnector()
	si := &models.ServiceIntegration{APIURL: server.URL, BackfillSecret: "api-key"}

	items, next, err := connector.FetchBackfillPage(si, "")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "2", next)

	items, next, err = connector.FetchBackfillPage(si, next)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Empty(t, next)
}

func TestFetchBackfillPage_BadToken(t *testing.T) {
	connector := newConnector()
	_, _, err := connector.FetchBackfillPage(&models.ServiceIntegration{APIURL: "https://unused"}, "three")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `bad pagination token "three"`)
}
