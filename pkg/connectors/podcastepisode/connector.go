// Package podcastepisode replicates podcast episode resources from a
// Transistor-style hosting API. Webhooks wrap the episode under a "data" key;
// backfill returns bare episode records, so backfill items are rewrapped
// before upsert to keep one payload shape in the mirror table.
package podcastepisode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Ramsey-B/sundew/pkg/httpclient"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
)

const (
	// ServiceName is the registered connector name
	ServiceName = "podcast_episode_v1"

	// SecretHeader carries the shared webhook secret
	SecretHeader = "X-Podcast-Secret"
)

// Connector implements the podcast episode replication strategy
type Connector struct {
	client *httpclient.Client
}

// New creates the podcast episode connector
func New(client *httpclient.Client) *Connector {
	return &Connector{client: client}
}

func (c *Connector) Descriptor() replicator.Descriptor {
	return replicator.Descriptor{
		Name:             ServiceName,
		ResourceName:     "Podcast Episode",
		SupportsWebhooks: true,
		SupportsBackfill: true,
	}
}

func (c *Connector) RemoteKeyColumn() replicator.Column {
	return replicator.Column{
		Name:     "episode_id",
		Type:     replicator.TypeText,
		Path:     []string{"data", "id"},
		Required: true,
	}
}

func (c *Connector) DenormalizedColumns() []replicator.Column {
	return []replicator.Column{
		{Name: "title", Type: replicator.TypeText, Path: []string{"data", "attributes", "title"}},
		{Name: "show_id", Type: replicator.TypeText, Path: []string{"data", "relationships", "show", "data", "id"}, Index: true},
		{Name: "episode_status", Type: replicator.TypeText, Path: []string{"data", "attributes", "status"}, Index: true},
		{Name: "published_at", Type: replicator.TypeTimestamp, Path: []string{"data", "attributes", "published_at"}},
		{Name: "duration_seconds", Type: replicator.TypeInteger, Path: []string{"data", "attributes", "duration"}},
		{Name: "episode_updated_at", Type: replicator.TypeTimestamp, Path: []string{"data", "attributes", "updated_at"}, Defaulter: replicator.DefaultNow, Index: true},
	}
}

func (c *Connector) UpdateGuard() *replicator.UpdateGuard {
	return &replicator.UpdateGuard{Column: "episode_updated_at"}
}

func (c *Connector) NewVerifier(si *models.ServiceIntegration) replicator.Verifier {
	return replicator.SecretHeaderVerifier{
		Header: SecretHeader,
		Secret: si.WebhookSecret,
	}
}

func (c *Connector) CalculateCreateStateMachine(si *models.ServiceIntegration) *replicator.StateMachineStep {
	step := &replicator.StateMachineStep{}
	if si.WebhookSecret == "" {
		return step.SecretPrompt("Paste the webhook secret from your podcast host settings:").
			CollectingField(si, "webhook_secret")
	}
	step.Output = fmt.Sprintf("Episode replication is live. Register /v1/webhooks/%s as your webhook endpoint.", si.OpaqueID)
	return step.Completed()
}

func (c *Connector) CalculateBackfillStateMachine(si *models.ServiceIntegration) *replicator.StateMachineStep {
	step := &replicator.StateMachineStep{}
	switch {
	case si.APIURL == "":
		return step.Prompting("Enter the podcast host API base URL:").
			CollectingField(si, "api_url")
	case si.BackfillSecret == "":
		return step.SecretPrompt("Paste your podcast host API key:").
			CollectingField(si, "backfill_secret")
	}
	step.Output = "Backfill is configured. Episodes will be imported shortly."
	return step.Completed()
}

// episodesPage matches the list endpoint's envelope. Pagination is page
// numbered rather than cursor based, so the token is the next page number.
type episodesPage struct {
	Data []map[string]any `json:"data"`
	Meta struct {
		CurrentPage int `json:"currentPage"`
		TotalPages  int `json:"totalPages"`
	} `json:"meta"`
}

// FetchBackfillPage pulls one numbered page of episodes.
func (c *Connector) FetchBackfillPage(si *models.ServiceIntegration, token string) ([]map[string]any, string, error) {
	page := 1
	if token != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil {
			return nil, "", fmt.Errorf("bad pagination token %q: %w", token, err)
		}
		page = parsed
	}

	endpoint := fmt.Sprintf("%s/v1/episodes?pagination[page]=%d", si.APIURL, page)
	resp, err := c.client.Get(context.Background(), endpoint, map[string]string{
		"X-Api-Key": si.BackfillSecret,
	})
	if err != nil {
		return nil, "", err
	}
	if !resp.IsSuccess() {
		return nil, "", fmt.Errorf("episodes list returned %d", resp.StatusCode)
	}

	var result episodesPage
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, "", fmt.Errorf("failed to decode episodes page: %w", err)
	}

	next := ""
	if result.Meta.CurrentPage < result.Meta.TotalPages {
		next = strconv.Itoa(result.Meta.CurrentPage + 1)
	}
	return result.Data, next, nil
}

// UpsertBackfillPayload rewraps a bare episode record into the webhook's
// envelope shape before the standard upsert path runs.
func (c *Connector) UpsertBackfillPayload(e *replicator.Engine, item map[string]any) (bool, error) {
	raw, err := json.Marshal(map[string]any{"data": item})
	if err != nil {
		return false, fmt.Errorf("failed to marshal backfill episode: %w", err)
	}
	return e.UpsertWebhook(context.Background(), raw)
}
