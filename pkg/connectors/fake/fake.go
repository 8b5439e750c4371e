// Package fake provides a minimal in-memory connector used by tests and local
// development. It has no external API: backfill pages come from a slice set on
// the connector.
package fake

import (
	"strconv"

	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
)

const (
	// ServiceName is the registered connector name
	ServiceName = "fake_v1"

	// SecretHeader carries the shared webhook secret
	SecretHeader = "X-Fake-Secret"
)

// Connector is configurable per test: toggle the update guard and stub the
// backfill pages.
type Connector struct {
	// Guarded enables the at update guard when true
	Guarded bool

	// BackfillPages is returned page by page from FetchBackfillPage. A nil
	// error function means every fetch succeeds.
	BackfillPages [][]map[string]any

	// FetchErr, when set, is called before each page fetch; a non-nil return
	// fails that fetch.
	FetchErr func(token string) error

	// Dependency, when set, is reported in the descriptor
	Dependency string
}

// New creates a fake connector with the guard enabled
func New() *Connector {
	return &Connector{Guarded: true}
}

func (c *Connector) Descriptor() replicator.Descriptor {
	return replicator.Descriptor{
		Name:             ServiceName,
		ResourceName:     "Fake",
		SupportsWebhooks: true,
		SupportsBackfill: true,
		DependencyName:   c.Dependency,
	}
}

func (c *Connector) RemoteKeyColumn() replicator.Column {
	return replicator.Column{
		Name:     "my_id",
		Type:     replicator.TypeText,
		Required: true,
	}
}

func (c *Connector) DenormalizedColumns() []replicator.Column {
	return []replicator.Column{
		{Name: "at", Type: replicator.TypeTimestamp, Index: true},
	}
}

func (c *Connector) UpdateGuard() *replicator.UpdateGuard {
	if !c.Guarded {
		return nil
	}
	return &replicator.UpdateGuard{Column: "at"}
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
		return step.SecretPrompt("Paste the fake webhook secret:").
			CollectingField(si, "webhook_secret")
	}
	step.Output = "Fake integration is ready."
	return step.Completed()
}

func (c *Connector) CalculateBackfillStateMachine(si *models.ServiceIntegration) *replicator.StateMachineStep {
	step := &replicator.StateMachineStep{}
	if si.BackfillKey == "" {
		return step.SecretPrompt("Paste the fake backfill key:").
			CollectingField(si, "backfill_key")
	}
	step.Output = "Fake backfill is ready."
	return step.Completed()
}

// FetchBackfillPage serves the stubbed pages in order. The token is the index
// of the page to serve.
func (c *Connector) FetchBackfillPage(si *models.ServiceIntegration, token string) ([]map[string]any, string, error) {
	if c.FetchErr != nil {
		if err := c.FetchErr(token); err != nil {
			return nil, "", err
		}
	}

	index := 0
	if token != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil {
			return nil, "", err
		}
		index = parsed
	}
	if index >= len(c.BackfillPages) {
		return nil, "", nil
	}

	next := ""
	if index+1 < len(c.BackfillPages) {
		next = strconv.Itoa(index + 1)
	}
	return c.BackfillPages[index], next, nil
}
