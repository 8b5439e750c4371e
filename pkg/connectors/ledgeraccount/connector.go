// Package ledgeraccount replicates ledger account resources from an
// Increase-style banking API. Accounts arrive both as signed webhooks and
// through cursor-paginated backfill.
package ledgeraccount

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Ramsey-B/sundew/pkg/httpclient"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
)

const (
	// ServiceName is the registered connector name
	ServiceName = "ledger_account_v1"

	// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body
	SignatureHeader = "X-Ledger-Signature"
)

// Connector implements the ledger account replication strategy
type Connector struct {
	client *httpclient.Client
}

// New creates the ledger account connector
func New(client *httpclient.Client) *Connector {
	return &Connector{client: client}
}

func (c *Connector) Descriptor() replicator.Descriptor {
	return replicator.Descriptor{
		Name:             ServiceName,
		ResourceName:     "Ledger Account",
		SupportsWebhooks: true,
		SupportsBackfill: true,
	}
}

func (c *Connector) RemoteKeyColumn() replicator.Column {
	return replicator.Column{
		Name:     "account_id",
		Type:     replicator.TypeText,
		Path:     []string{"id"},
		Required: true,
	}
}

func (c *Connector) DenormalizedColumns() []replicator.Column {
	return []replicator.Column{
		{Name: "name", Type: replicator.TypeText},
		{Name: "currency", Type: replicator.TypeText, Index: true},
		{Name: "status", Type: replicator.TypeText, Index: true},
		{Name: "balance", Type: replicator.TypeBigint},
		{Name: "account_created_at", Type: replicator.TypeTimestamp, Path: []string{"created_at"}},
		{Name: "updated_at", Type: replicator.TypeTimestamp, Defaulter: replicator.DefaultNow, Index: true},
	}
}

// UpdateGuard keeps a replayed or out-of-order webhook from clobbering newer
// data. A conflicting write only lands when its updated_at is strictly newer.
func (c *Connector) UpdateGuard() *replicator.UpdateGuard {
	return &replicator.UpdateGuard{Column: "updated_at"}
}

func (c *Connector) NewVerifier(si *models.ServiceIntegration) replicator.Verifier {
	return replicator.HMACSHA256Verifier{
		Header: SignatureHeader,
		Secret: si.WebhookSecret,
	}
}

func (c *Connector) CalculateCreateStateMachine(si *models.ServiceIntegration) *replicator.StateMachineStep {
	step := &replicator.StateMachineStep{}
	if si.WebhookSecret == "" {
		return step.SecretPrompt("Paste the webhook signing secret from your ledger dashboard:").
			CollectingField(si, "webhook_secret")
	}
	step.Output = fmt.Sprintf("Point your ledger webhook at /v1/webhooks/%s. Payloads are verified with the signing secret you provided.", si.OpaqueID)
	return step.Completed()
}

func (c *Connector) CalculateBackfillStateMachine(si *models.ServiceIntegration) *replicator.StateMachineStep {
	step := &replicator.StateMachineStep{}
	if si.APIURL == "" {
		return step.Prompting("Enter the ledger API base URL:").
			CollectingField(si, "api_url")
	}
	if si.BackfillKey == "" {
		return step.SecretPrompt("Paste your ledger API key:").
			CollectingField(si, "backfill_key")
	}
	step.Output = "Backfill is configured. Accounts will be imported shortly."
	return step.Completed()
}

// accountsPage matches the list endpoint's envelope
type accountsPage struct {
	Accounts   []map[string]any `json:"accounts"`
	NextCursor string           `json:"next_cursor"`
}

// FetchBackfillPage pulls one cursor page of accounts from the list endpoint.
func (c *Connector) FetchBackfillPage(si *models.ServiceIntegration, token string) ([]map[string]any, string, error) {
	endpoint := si.APIURL + "/accounts"
	if token != "" {
		endpoint += "?cursor=" + url.QueryEscape(token)
	}

	resp, err := c.client.Get(context.Background(), endpoint, map[string]string{
		"Authorization": "Bearer " + si.BackfillKey,
	})
	if err != nil {
		return nil, "", err
	}
	if !resp.IsSuccess() {
		return nil, "", fmt.Errorf("ledger accounts list returned %d", resp.StatusCode)
	}

	var page accountsPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, "", fmt.Errorf("failed to decode accounts page: %w", err)
	}
	return page.Accounts, page.NextCursor, nil
}
