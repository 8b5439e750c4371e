package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// RowEventPublisher receives a notification for every committed row change.
// The Kafka producer implements this; subscription dispatch and sync-target
// dirtiness both hang off the published events.
type RowEventPublisher interface {
	PublishRowChange(ctx context.Context, event models.RowChangeEvent) error
}

// DependentLister finds the integrations that declared a dependency on a
// given integration, for upsert fan-out.
type DependentLister interface {
	ListDependents(ctx context.Context, serviceIntegrationID string) ([]models.ServiceIntegration, error)
}

// IntegrationFieldWriter persists one configuration field set through the
// onboarding protocol.
type IntegrationFieldWriter interface {
	SetField(ctx context.Context, serviceIntegrationID, field, value string) error
}

// Enricher is implemented by connectors whose columns need a secondary fetch
// beyond the webhook body.
type Enricher interface {
	FetchEnrichment(si *models.ServiceIntegration, body map[string]any) (map[string]any, error)
}

// Params carries the collaborators an Engine is built from.
type Params struct {
	Registry     *Registry
	Integration  *models.ServiceIntegration
	Organization *models.Organization
	Store        RowStore
	Publisher    RowEventPublisher
	Dependents   DependentLister
	FieldWriter  IntegrationFieldWriter
	Logger       ectologger.Logger

	// MaxBackfillAttempts bounds retries per page fetch. Zero means the
	// default of 3.
	MaxBackfillAttempts int
	// BackfillBaseBackoff scales the wait between retries; the delay is
	// attempt * BackfillBaseBackoff. Zero means 1s.
	BackfillBaseBackoff time.Duration
}

// Engine drives the replication contract for one integration instance. All
// connector-specific behavior comes from the Connector the registry resolved
// for the integration's service name.
type Engine struct {
	connector    Connector
	registry     *Registry
	integration  *models.ServiceIntegration
	organization *models.Organization
	store        RowStore
	publisher    RowEventPublisher
	dependents   DependentLister
	fieldWriter  IntegrationFieldWriter
	logger       ectologger.Logger

	maxBackfillAttempts int
	backfillBaseBackoff time.Duration
}

func New(params Params) (*Engine, error) {
	connector, err := params.Registry.Lookup(params.Integration.ServiceName)
	if err != nil {
		return nil, err
	}
	if params.MaxBackfillAttempts <= 0 {
		params.MaxBackfillAttempts = 3
	}
	if params.BackfillBaseBackoff <= 0 {
		params.BackfillBaseBackoff = time.Second
	}
	return &Engine{
		connector:           connector,
		registry:            params.Registry,
		integration:         params.Integration,
		organization:        params.Organization,
		store:               params.Store,
		publisher:           params.Publisher,
		dependents:          params.Dependents,
		fieldWriter:         params.FieldWriter,
		logger:              params.Logger,
		maxBackfillAttempts: params.MaxBackfillAttempts,
		backfillBaseBackoff: params.BackfillBaseBackoff,
	}, nil
}

// Connector exposes the resolved connector, mostly for handlers that need
// descriptor metadata.
func (e *Engine) Connector() Connector {
	return e.connector
}

// Integration returns the integration this engine is bound to.
func (e *Engine) Integration() *models.ServiceIntegration {
	return e.integration
}

func (e *Engine) tableSpec() TableSpec {
	return TableSpec{
		Table:        e.integration.TableName,
		RemoteKey:    e.connector.RemoteKeyColumn(),
		Denormalized: e.connector.DenormalizedColumns(),
	}
}

// CreateTable creates the mirror table and its indexes in the organization's
// database. Not idempotent: callers must tolerate "already exists" themselves
// if they may call twice.
func (e *Engine) CreateTable(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "replicator.Engine.CreateTable")
	defer span.End()

	if err := e.store.CreateTable(ctx, e.organization, e.tableSpec()); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": e.integration.TableName}).Error("Failed to create mirror table")
		return err
	}
	e.logger.WithContext(ctx).WithFields(map[string]any{"table": e.integration.TableName, "service": e.integration.ServiceName}).Info("Created mirror table")
	return nil
}

// WebhookResponse authenticates an inbound webhook request. It never returns
// an error; a failed verification is a 401 response. Verification runs on the
// raw body bytes before any parsing.
func (e *Engine) WebhookResponse(r *http.Request, rawBody []byte) WebhookResponse {
	verifier := e.connector.NewVerifier(e.integration)
	if verifier.Verify(r, rawBody) {
		return WebhookOK()
	}
	return WebhookUnauthorized()
}

// UpsertWebhook writes one raw webhook payload to the mirror table. On a
// committed change it fans out to dependent integrations and publishes a row
// change event. A guard rejection returns (false, nil).
func (e *Engine) UpsertWebhook(ctx context.Context, rawBody []byte) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "replicator.Engine.UpsertWebhook")
	defer span.End()

	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return false, errors.Wrap(err, "unmarshal webhook body")
	}

	row, err := e.prepareRow(rawBody, body)
	if err != nil {
		return false, err
	}

	outcome, err := e.store.Upsert(ctx, e.organization, e.tableSpec(), row, e.connector.UpdateGuard())
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": e.integration.TableName}).Error("Failed to upsert row")
		return false, err
	}
	if !outcome.Changed {
		e.logger.WithContext(ctx).WithFields(map[string]any{"table": e.integration.TableName}).Debug("Upsert was a no-op")
		return false, nil
	}

	if err := e.fanOutToDependents(ctx, rawBody); err != nil {
		return true, err
	}
	e.publishRowChange(ctx, body, outcome.Inserted)
	return true, nil
}

// prepareRow computes the full mirror row: raw payload, remote key, and every
// denormalized column.
func (e *Engine) prepareRow(rawBody []byte, body map[string]any) (Row, error) {
	var enrichment map[string]any
	if enricher, ok := e.connector.(Enricher); ok {
		fetched, err := enricher.FetchEnrichment(e.integration, body)
		if err != nil {
			return nil, errors.Wrap(err, "fetch enrichment")
		}
		enrichment = fetched
	}

	row := Row{"data": json.RawMessage(rawBody)}

	remoteKey := e.connector.RemoteKeyColumn()
	keyValue, err := remoteKey.ComputeValue(body, enrichment)
	if err != nil {
		return nil, err
	}
	if keyValue == nil {
		return nil, fmt.Errorf("column %s: remote key missing from payload", remoteKey.Name)
	}
	row[remoteKey.Name] = keyValue

	for _, col := range e.connector.DenormalizedColumns() {
		value, err := col.ComputeValue(body, enrichment)
		if err != nil {
			return nil, err
		}
		row[col.Name] = value
	}
	return row, nil
}

func (e *Engine) fanOutToDependents(ctx context.Context, rawBody []byte) error {
	if e.dependents == nil {
		return nil
	}
	dependents, err := e.dependents.ListDependents(ctx, e.integration.ID)
	if err != nil {
		return err
	}
	for i := range dependents {
		dependent, err := e.forIntegration(&dependents[i])
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"dependent": dependents[i].ServiceName}).Error("Failed to build dependent engine")
			return err
		}
		if _, err := dependent.UpsertWebhook(ctx, rawBody); err != nil {
			return errors.Wrapf(err, "dependent %s", dependents[i].ServiceName)
		}
	}
	return nil
}

func (e *Engine) publishRowChange(ctx context.Context, body map[string]any, inserted bool) {
	if e.publisher == nil {
		return
	}
	event := models.RowChangeEvent{
		OrganizationID:       e.organization.ID,
		ServiceIntegrationID: e.integration.ID,
		ServiceName:          e.integration.ServiceName,
		TableName:            e.integration.TableName,
		Inserted:             inserted,
		Row:                  body,
		Timestamp:            time.Now().UTC(),
	}
	// Delivery is at-least-once downstream; a publish failure is logged and
	// dropped rather than failing the committed upsert.
	if err := e.publisher.PublishRowChange(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": e.integration.TableName}).Error("Failed to publish row change event")
	}
}

// forIntegration builds a sibling engine bound to another integration in the
// same organization, sharing every collaborator.
func (e *Engine) forIntegration(si *models.ServiceIntegration) (*Engine, error) {
	return New(Params{
		Registry:            e.registry,
		Integration:         si,
		Organization:        e.organization,
		Store:               e.store,
		Publisher:           e.publisher,
		Dependents:          e.dependents,
		FieldWriter:         e.fieldWriter,
		Logger:              e.logger,
		MaxBackfillAttempts: e.maxBackfillAttempts,
		BackfillBaseBackoff: e.backfillBaseBackoff,
	})
}

// UpsertBackfillPayload writes one backfill item. By default the webhook and
// backfill payload shapes are assumed identical; connectors override through
// the BackfillUpserter interface when they differ.
func (e *Engine) UpsertBackfillPayload(ctx context.Context, item map[string]any) (bool, error) {
	if upserter, ok := e.connector.(BackfillUpserter); ok {
		return upserter.UpsertBackfillPayload(e, item)
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return false, errors.Wrap(err, "marshal backfill item")
	}
	return e.UpsertWebhook(ctx, raw)
}

// Backfill pulls every page from the connector's backfill source and upserts
// each item. Page fetches are retried with backoff up to the configured
// bound; after the final failure the error propagates and the loop aborts.
// Progress from earlier pages is already committed, so re-invoking resumes
// naturally.
func (e *Engine) Backfill(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "replicator.Engine.Backfill")
	defer span.End()

	if e.integration.BackfillKey == "" && e.integration.BackfillSecret == "" {
		return ErrCredentialsMissing
	}
	source, ok := e.connector.(BackfillSource)
	if !ok {
		return fmt.Errorf("connector %s does not support backfill", e.integration.ServiceName)
	}

	token := ""
	for {
		items, nextToken, err := e.fetchPageWithRetry(ctx, source, token)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := e.UpsertBackfillPayload(ctx, item); err != nil {
				return err
			}
		}
		if nextToken == "" {
			return nil
		}
		token = nextToken
	}
}

func (e *Engine) fetchPageWithRetry(ctx context.Context, source BackfillSource, token string) ([]map[string]any, string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxBackfillAttempts; attempt++ {
		items, nextToken, err := source.FetchBackfillPage(e.integration, token)
		if err == nil {
			return items, nextToken, nil
		}
		lastErr = err
		if attempt >= e.maxBackfillAttempts {
			break
		}
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"attempt": attempt, "service": e.integration.ServiceName}).Warn("Backfill page fetch failed, retrying")
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(time.Duration(attempt) * e.backfillBaseBackoff):
		}
	}
	return nil, "", errors.Wrapf(lastErr, "backfill page fetch failed after %d attempts", e.maxBackfillAttempts)
}

// CalculateCreateStateMachine returns the next onboarding step for webhook
// setup given current integration state.
func (e *Engine) CalculateCreateStateMachine() *StateMachineStep {
	return e.connector.CalculateCreateStateMachine(e.integration)
}

// CalculateBackfillStateMachine returns the next onboarding step for backfill
// credential setup.
func (e *Engine) CalculateBackfillStateMachine() *StateMachineStep {
	return e.connector.CalculateBackfillStateMachine(e.integration)
}

// ProcessStateChange persists one configuration field and returns the
// recalculated create state machine. Connectors can normalize the value first
// through the FieldNormalizer interface.
func (e *Engine) ProcessStateChange(ctx context.Context, field, value string) (*StateMachineStep, error) {
	ctx, span := tracing.StartSpan(ctx, "replicator.Engine.ProcessStateChange")
	defer span.End()

	if normalizer, ok := e.connector.(FieldNormalizer); ok {
		value = normalizer.NormalizeFieldValue(field, value)
	}

	if err := e.applyField(field, value); err != nil {
		return nil, err
	}
	if err := e.fieldWriter.SetField(ctx, e.integration.ID, field, value); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"field": field}).Error("Failed to persist state change")
		return nil, err
	}
	return e.CalculateCreateStateMachine(), nil
}

func (e *Engine) applyField(field, value string) error {
	switch field {
	case "webhook_secret":
		e.integration.WebhookSecret = value
	case "api_url":
		e.integration.APIURL = value
	case "backfill_key":
		e.integration.BackfillKey = value
	case "backfill_secret":
		e.integration.BackfillSecret = value
	default:
		return fmt.Errorf("unknown state machine field %q", field)
	}
	return nil
}
