// Package bankitem replicates bank item resources from a Plaid-style
// aggregator. Webhooks carry only the item id and event type, so the full
// item record is fetched from the aggregator API as an enrichment before the
// row is written.
package bankitem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Ramsey-B/sundew/pkg/extractor"
	"github.com/Ramsey-B/sundew/pkg/httpclient"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
)

const (
	// ServiceName is the registered connector name
	ServiceName = "bank_item_v1"

	// SecretHeader carries the shared webhook secret
	SecretHeader = "X-Webhook-Secret"
)

// environment shorthands accepted for api_url
var environmentURLs = map[string]string{
	"sandbox":     "https://sandbox.bankapi.com",
	"development": "https://development.bankapi.com",
	"production":  "https://production.bankapi.com",
}

// Connector implements the bank item replication strategy
type Connector struct {
	client *httpclient.Client
}

// New creates the bank item connector
func New(client *httpclient.Client) *Connector {
	return &Connector{client: client}
}

func (c *Connector) Descriptor() replicator.Descriptor {
	return replicator.Descriptor{
		Name:             ServiceName,
		ResourceName:     "Bank Item",
		SupportsWebhooks: true,
		SupportsBackfill: false,
	}
}

func (c *Connector) RemoteKeyColumn() replicator.Column {
	return replicator.Column{
		Name:     "item_id",
		Type:     replicator.TypeText,
		Required: true,
	}
}

func (c *Connector) DenormalizedColumns() []replicator.Column {
	return []replicator.Column{
		{Name: "webhook_type", Type: replicator.TypeText, Index: true},
		{Name: "webhook_code", Type: replicator.TypeText},
		{Name: "institution_id", Type: replicator.TypeText, FromEnrichment: true, Index: true},
		{Name: "institution_name", Type: replicator.TypeText, FromEnrichment: true},
		{Name: "available_products", Type: replicator.TypeObject, FromEnrichment: true},
		{Name: "item_status", Type: replicator.TypeText, Path: []string{"status"}, FromEnrichment: true},
		{Name: "row_updated_at", Type: replicator.TypeTimestamp, Defaulter: replicator.DefaultNow},
	}
}

// UpdateGuard is nil: item webhooks carry no reliable ordering field, so the
// latest write wins.
func (c *Connector) UpdateGuard() *replicator.UpdateGuard {
	return nil
}

func (c *Connector) NewVerifier(si *models.ServiceIntegration) replicator.Verifier {
	return replicator.SecretHeaderVerifier{
		Header: SecretHeader,
		Secret: si.WebhookSecret,
	}
}

// NormalizeFieldValue maps environment shorthands to full base URLs and strips
// trailing slashes before api_url is persisted.
func (c *Connector) NormalizeFieldValue(field, value string) string {
	if field != "api_url" {
		return value
	}
	trimmed := strings.TrimSpace(value)
	if mapped, ok := environmentURLs[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	return strings.TrimRight(trimmed, "/")
}

// CalculateCreateStateMachine walks the item's onboarding chain. Each field
// collected advances the machine one step; the chain is a pure function of
// integration state.
func (c *Connector) CalculateCreateStateMachine(si *models.ServiceIntegration) *replicator.StateMachineStep {
	step := &replicator.StateMachineStep{}
	switch {
	case si.WebhookSecret == "":
		return step.SecretPrompt("Paste the webhook secret shared with the aggregator:").
			CollectingField(si, "webhook_secret")
	case si.APIURL == "":
		return step.Prompting("Enter the aggregator environment (sandbox, development, production) or a full API URL:").
			CollectingField(si, "api_url")
	case si.BackfillKey == "":
		return step.SecretPrompt("Paste your aggregator client id:").
			CollectingField(si, "backfill_key")
	case si.BackfillSecret == "":
		return step.SecretPrompt("Paste your aggregator client secret:").
			CollectingField(si, "backfill_secret")
	}
	step.Output = fmt.Sprintf("Item replication is live. Send webhooks to /v1/webhooks/%s.", si.OpaqueID)
	return step.Completed()
}

// CalculateBackfillStateMachine reuses the create chain: items cannot be
// backfilled in bulk, but the same credentials drive enrichment fetches.
func (c *Connector) CalculateBackfillStateMachine(si *models.ServiceIntegration) *replicator.StateMachineStep {
	return c.CalculateCreateStateMachine(si)
}

// FetchEnrichment retrieves the full item record named by the webhook. The
// webhook body only identifies the item; the typed columns come from here.
func (c *Connector) FetchEnrichment(si *models.ServiceIntegration, body map[string]any) (map[string]any, error) {
	itemID, ok := extractor.LookupString(body, "item_id")
	if !ok || itemID == "" {
		return nil, fmt.Errorf("webhook body has no item_id")
	}

	resp, err := c.client.Get(context.Background(), si.APIURL+"/items/"+itemID, map[string]string{
		"Client-Id":     si.BackfillKey,
		"Client-Secret": si.BackfillSecret,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("item fetch returned %d", resp.StatusCode)
	}

	var item map[string]any
	if err := json.Unmarshal(resp.Body, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return item, nil
}
