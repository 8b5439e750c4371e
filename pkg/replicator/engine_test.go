package replicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sundew/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// baseConnector implements Connector and nothing else
type baseConnector struct {
	name  string
	guard *UpdateGuard
}

func (c *baseConnector) Descriptor() Descriptor {
	return Descriptor{Name: c.name, ResourceName: c.name, SupportsWebhooks: true}
}

func (c *baseConnector) RemoteKeyColumn() Column {
	return Column{Name: "my_id", Type: TypeText, Required: true}
}

func (c *baseConnector) DenormalizedColumns() []Column {
	return []Column{{Name: "at", Type: TypeTimestamp}}
}

func (c *baseConnector) UpdateGuard() *UpdateGuard {
	return c.guard
}

func (c *baseConnector) NewVerifier(si *models.ServiceIntegration) Verifier {
	return SecretHeaderVerifier{Header: "X-Test-Secret", Secret: si.WebhookSecret}
}

func (c *baseConnector) CalculateCreateStateMachine(si *models.ServiceIntegration) *StateMachineStep {
	step := &StateMachineStep{}
	if si.WebhookSecret == "" {
		return step.SecretPrompt("Paste the webhook secret:").CollectingField(si, "webhook_secret")
	}
	return step.Completed()
}

func (c *baseConnector) CalculateBackfillStateMachine(si *models.ServiceIntegration) *StateMachineStep {
	step := &StateMachineStep{}
	if si.BackfillKey == "" {
		return step.SecretPrompt("Paste the backfill key:").CollectingField(si, "backfill_key")
	}
	return step.Completed()
}

// backfillConnector adds a stubbed paginated backfill source
type backfillConnector struct {
	baseConnector
	pages      [][]map[string]any
	fetchErr   func(token string) error
	fetchCalls int
}

func (c *backfillConnector) FetchBackfillPage(si *models.ServiceIntegration, token string) ([]map[string]any, string, error) {
	c.fetchCalls++
	if c.fetchErr != nil {
		if err := c.fetchErr(token); err != nil {
			return nil, "", err
		}
	}
	index := 0
	if token != "" {
		fmt.Sscanf(token, "%d", &index)
	}
	if index >= len(c.pages) {
		return nil, "", nil
	}
	next := ""
	if index+1 < len(c.pages) {
		next = fmt.Sprintf("%d", index+1)
	}
	return c.pages[index], next, nil
}

// enrichedConnector resolves one column from a secondary payload
type enrichedConnector struct {
	baseConnector
	enrichment map[string]any
}

func (c *enrichedConnector) DenormalizedColumns() []Column {
	return []Column{
		{Name: "at", Type: TypeTimestamp},
		{Name: "region", Type: TypeText, FromEnrichment: true},
	}
}

func (c *enrichedConnector) FetchEnrichment(si *models.ServiceIntegration, body map[string]any) (map[string]any, error) {
	return c.enrichment, nil
}

// normalizingConnector canonicalizes api_url values
type normalizingConnector struct {
	baseConnector
}

func (c *normalizingConnector) NormalizeFieldValue(field, value string) string {
	if field == "api_url" && value == "sandbox" {
		return "https://sandbox.example.com"
	}
	return value
}

// wrappingConnector rewraps bare backfill items into the webhook shape
type wrappingConnector struct {
	backfillConnector
}

func (c *wrappingConnector) UpsertBackfillPayload(e *Engine, item map[string]any) (bool, error) {
	raw, err := json.Marshal(map[string]any{"my_id": item["id"], "at": item["at"]})
	if err != nil {
		return false, err
	}
	return e.UpsertWebhook(context.Background(), raw)
}

// memoryStore is an in-memory RowStore with the same guard semantics as the
// Postgres store: conflicting writes only land when the guard column value is
// strictly greater than the stored one.
type memoryStore struct {
	tables  map[string]map[string]Row
	created []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tables: map[string]map[string]Row{}}
}

func (m *memoryStore) CreateTable(ctx context.Context, org *models.Organization, spec TableSpec) error {
	m.created = append(m.created, spec.Table)
	if _, ok := m.tables[spec.Table]; !ok {
		m.tables[spec.Table] = map[string]Row{}
	}
	return nil
}

func (m *memoryStore) Upsert(ctx context.Context, org *models.Organization, spec TableSpec, row Row, guard *UpdateGuard) (UpsertOutcome, error) {
	table, ok := m.tables[spec.Table]
	if !ok {
		table = map[string]Row{}
		m.tables[spec.Table] = table
	}
	key := fmt.Sprintf("%v", row[spec.RemoteKey.Name])
	existing, ok := table[key]
	if !ok {
		table[key] = row
		return UpsertOutcome{Inserted: true, Changed: true}, nil
	}
	if guard != nil && !guardLess(existing[guard.Column], row[guard.Column]) {
		return UpsertOutcome{}, nil
	}
	table[key] = row
	return UpsertOutcome{Changed: true}, nil
}

func guardLess(stored, incoming any) bool {
	switch s := stored.(type) {
	case string:
		i, ok := incoming.(string)
		return ok && s < i
	case float64:
		i, ok := incoming.(float64)
		return ok && s < i
	case time.Time:
		i, ok := incoming.(time.Time)
		return ok && s.Before(i)
	default:
		return false
	}
}

type capturePublisher struct {
	events []models.RowChangeEvent
}

func (p *capturePublisher) PublishRowChange(ctx context.Context, event models.RowChangeEvent) error {
	p.events = append(p.events, event)
	return nil
}

type stubDependents struct {
	items []models.ServiceIntegration
}

func (d *stubDependents) ListDependents(ctx context.Context, serviceIntegrationID string) ([]models.ServiceIntegration, error) {
	return d.items, nil
}

type captureFieldWriter struct {
	fields map[string]string
}

func (w *captureFieldWriter) SetField(ctx context.Context, serviceIntegrationID, field, value string) error {
	if w.fields == nil {
		w.fields = map[string]string{}
	}
	w.fields[field] = value
	return nil
}

type engineFixture struct {
	engine    *Engine
	store     *memoryStore
	publisher *capturePublisher
	writer    *captureFieldWriter
	si        *models.ServiceIntegration
}

func newEngineFixture(t *testing.T, connector Connector, si *models.ServiceIntegration, dependents DependentLister) *engineFixture {
	t.Helper()

	registry := NewRegistry()
	registry.Register(connector)

	store := newMemoryStore()
	publisher := &capturePublisher{}
	writer := &captureFieldWriter{}

	engine, err := New(Params{
		Registry:            registry,
		Integration:         si,
		Organization:        &models.Organization{ID: "org-1"},
		Store:               store,
		Publisher:           publisher,
		Dependents:          dependents,
		FieldWriter:         writer,
		Logger:              testLogger(),
		MaxBackfillAttempts: 3,
		BackfillBaseBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	return &engineFixture{engine: engine, store: store, publisher: publisher, writer: writer, si: si}
}

func testIntegration(service string) *models.ServiceIntegration {
	return &models.ServiceIntegration{
		ID:            "si-1",
		OpaqueID:      "svi_test1",
		ServiceName:   service,
		TableName:     service + "_abc123",
		WebhookSecret: "hunter2hunter2",
	}
}

func TestNew_UnknownService(t *testing.T) {
	registry := NewRegistry()
	_, err := New(Params{
		Registry:    registry,
		Integration: testIntegration("nope_v1"),
		Logger:      testLogger(),
	})
	require.Error(t, err)

	var invalid *InvalidServiceError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "nope_v1", invalid.Name)
}

func TestUpsertWebhook_InsertPublishesEvent(t *testing.T) {
	si := testIntegration("alpha_v1")
	f := newEngineFixture(t, &baseConnector{name: "alpha_v1"}, si, nil)

	changed, err := f.engine.UpsertWebhook(context.Background(), []byte(`{"my_id":"r1","at":"2026-01-02T00:00:00Z"}`))
	require.NoError(t, err)
	assert.True(t, changed)

	row := f.store.tables[si.TableName]["r1"]
	require.NotNil(t, row)
	assert.Equal(t, "r1", row["my_id"])
	assert.Equal(t, "2026-01-02T00:00:00Z", row["at"])
	assert.NotNil(t, row["data"])

	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0]
	assert.Equal(t, "org-1", event.OrganizationID)
	assert.Equal(t, si.ID, event.ServiceIntegrationID)
	assert.Equal(t, si.TableName, event.TableName)
	assert.True(t, event.Inserted)
}

func TestUpsertWebhook_GuardRejectsStaleAndEqual(t *testing.T) {
	si := testIntegration("alpha_v1")
	connector := &baseConnector{name: "alpha_v1", guard: &UpdateGuard{Column: "at"}}
	f := newEngineFixture(t, connector, si, nil)

	changed, err := f.engine.UpsertWebhook(context.Background(), []byte(`{"my_id":"r1","at":"2026-01-02T00:00:00Z"}`))
	require.NoError(t, err)
	require.True(t, changed)

	t.Run("identical replay is a no-op", func(t *testing.T) {
		changed, err := f.engine.UpsertWebhook(context.Background(), []byte(`{"my_id":"r1","at":"2026-01-02T00:00:00Z"}`))
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("older payload is a no-op", func(t *testing.T) {
		changed, err := f.engine.UpsertWebhook(context.Background(), []byte(`{"my_id":"r1","at":"2026-01-01T00:00:00Z"}`))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, "2026-01-02T00:00:00Z", f.store.tables[si.TableName]["r1"]["at"])
	})

	t.Run("newer payload wins", func(t *testing.T) {
		changed, err := f.engine.UpsertWebhook(context.Background(), []byte(`{"my_id":"r1","at":"2026-01-03T00:00:00Z"}`))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "2026-01-03T00:00:00Z", f.store.tables[si.TableName]["r1"]["at"])
	})

	// only the two committed writes published events
	assert.Len(t, f.publisher.events, 2)
}

func TestUpsertWebhook_MissingRemoteKey(t *testing.T) {
	si := testIntegration("alpha_v1")
	f := newEngineFixture(t, &baseConnector{name: "alpha_v1"}, si, nil)

	_, err := f.engine.UpsertWebhook(context.Background(), []byte(`{"at":"2026-01-02T00:00:00Z"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote key missing")
}

func TestUpsertWebhook_InvalidJSON(t *testing.T) {
	si := testIntegration("alpha_v1")
	f := newEngineFixture(t, &baseConnector{name: "alpha_v1"}, si, nil)

	_, err := f.engine.UpsertWebhook(context.Background(), []byte(`{not json`))
	require.Error(t, err)
}

func TestUpsertWebhook_FanOutToDependents(t *testing.T) {
	parent := testIntegration("alpha_v1")
	dependent := models.ServiceIntegration{
		ID:          "si-2",
		OpaqueID:    "svi_dep1",
		ServiceName: "beta_v1",
		TableName:   "beta_v1_def456",
	}

	registry := NewRegistry()
	registry.Register(&baseConnector{name: "alpha_v1"})
	registry.Register(&baseConnector{name: "beta_v1"})

	store := newMemoryStore()
	publisher := &capturePublisher{}
	engine, err := New(Params{
		Registry:     registry,
		Integration:  parent,
		Organization: &models.Organization{ID: "org-1"},
		Store:        store,
		Publisher:    publisher,
		Dependents:   &stubDependents{items: []models.ServiceIntegration{dependent}},
		Logger:       testLogger(),
	})
	require.NoError(t, err)

	changed, err := engine.UpsertWebhook(context.Background(), []byte(`{"my_id":"r1","at":"2026-01-02T00:00:00Z"}`))
	require.NoError(t, err)
	assert.True(t, changed)

	assert.NotNil(t, store.tables[parent.TableName]["r1"])
	assert.NotNil(t, store.tables[dependent.TableName]["r1"])

	// one event per committed row: the dependent's then the parent's
	require.Len(t, publisher.events, 2)
	assert.Equal(t, dependent.ID, publisher.events[0].ServiceIntegrationID)
	assert.Equal(t, parent.ID, publisher.events[1].ServiceIntegrationID)
}

func TestUpsertWebhook_EnrichmentColumn(t *testing.T) {
	si := testIntegration("alpha_v1")
	connector := &enrichedConnector{
		baseConnector: baseConnector{name: "alpha_v1"},
		enrichment:    map[string]any{"region": "us-east-1"},
	}
	f := newEngineFixture(t, connector, si, nil)

	changed, err := f.engine.UpsertWebhook(context.Background(), []byte(`{"my_id":"r1","at":"2026-01-02T00:00:00Z"}`))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "us-east-1", f.store.tables[si.TableName]["r1"]["region"])
}

func TestCreateTable(t *testing.T) {
	si := testIntegration("alpha_v1")
	f := newEngineFixture(t, &baseConnector{name: "alpha_v1"}, si, nil)

	require.NoError(t, f.engine.CreateTable(context.Background()))
	assert.Equal(t, []string{si.TableName}, f.store.created)
}

func TestBackfill_CredentialsMissing(t *testing.T) {
	si := testIntegration("alpha_v1")
	si.BackfillKey = ""
	si.BackfillSecret = ""
	connector := &backfillConnector{baseConnector: baseConnector{name: "alpha_v1"}}
	f := newEngineFixture(t, connector, si, nil)

	err := f.engine.Backfill(context.Background())
	require.ErrorIs(t, err, ErrCredentialsMissing)
}

func TestBackfill_NotSupported(t *testing.T) {
	si := testIntegration("alpha_v1")
	si.BackfillKey = "key"
	f := newEngineFixture(t, &baseConnector{name: "alpha_v1"}, si, nil)

	err := f.engine.Backfill(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support backfill")
}

func TestBackfill_UpsertsEveryPage(t *testing.T) {
	si := testIntegration("alpha_v1")
	si.BackfillKey = "key"
	connector := &backfillConnector{
		baseConnector: baseConnector{name: "alpha_v1"},
		pages: [][]map[string]any{
			{
				{"my_id": "r1", "at": "2026-01-01T00:00:00Z"},
				{"my_id": "r2", "at": "2026-01-01T00:00:00Z"},
			},
			{
				{"my_id": "r3", "at": "2026-01-01T00:00:00Z"},
			},
		},
	}
	f := newEngineFixture(t, connector, si, nil)

	require.NoError(t, f.engine.Backfill(context.Background()))
	assert.Len(t, f.store.tables[si.TableName], 3)
	assert.Equal(t, 2, connector.fetchCalls)
}

func TestBackfill_RetriesThenGivesUp(t *testing.T) {
	si := testIntegration("alpha_v1")
	si.BackfillKey = "key"
	connector := &backfillConnector{
		baseConnector: baseConnector{name: "alpha_v1"},
		fetchErr:      func(token string) error { return errors.New("remote api down") },
	}
	f := newEngineFixture(t, connector, si, nil)

	err := f.engine.Backfill(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, connector.fetchCalls)
}

func TestBackfill_RecoversFromTransientFailure(t *testing.T) {
	si := testIntegration("alpha_v1")
	si.BackfillKey = "key"
	failures := 1
	connector := &backfillConnector{
		baseConnector: baseConnector{name: "alpha_v1"},
		pages: [][]map[string]any{
			{{"my_id": "r1", "at": "2026-01-01T00:00:00Z"}},
		},
	}
	connector.fetchErr = func(token string) error {
		if failures > 0 {
			failures--
			return errors.New("transient")
		}
		return nil
	}
	f := newEngineFixture(t, connector, si, nil)

	require.NoError(t, f.engine.Backfill(context.Background()))
	assert.Len(t, f.store.tables[si.TableName], 1)
}

func TestUpsertBackfillPayload_CustomUpserter(t *testing.T) {
	si := testIntegration("alpha_v1")
	si.BackfillKey = "key"
	connector := &wrappingConnector{
		backfillConnector: backfillConnector{
			baseConnector: baseConnector{name: "alpha_v1"},
			pages: [][]map[string]any{
				{{"id": "r1", "at": "2026-01-01T00:00:00Z"}},
			},
		},
	}
	f := newEngineFixture(t, connector, si, nil)

	require.NoError(t, f.engine.Backfill(context.Background()))
	row := f.store.tables[si.TableName]["r1"]
	require.NotNil(t, row)
	assert.Equal(t, "r1", row["my_id"])
}

func TestProcessStateChange_PersistsAndAdvances(t *testing.T) {
	si := testIntegration("alpha_v1")
	si.WebhookSecret = ""
	f := newEngineFixture(t, &baseConnector{name: "alpha_v1"}, si, nil)

	step := f.engine.CalculateCreateStateMachine()
	require.True(t, step.NeedsInput)
	assert.Equal(t, "webhook_secret", step.FieldName)

	next, err := f.engine.ProcessStateChange(context.Background(), "webhook_secret", "s3cret-s3cret")
	require.NoError(t, err)
	assert.True(t, next.Complete)
	assert.Equal(t, "s3cret-s3cret", si.WebhookSecret)
	assert.Equal(t, "s3cret-s3cret", f.writer.fields["webhook_secret"])
}

func TestProcessStateChange_NormalizesValue(t *testing.T) {
	si := testIntegration("alpha_v1")
	f := newEngineFixture(t, &normalizingConnector{baseConnector{name: "alpha_v1"}}, si, nil)

	_, err := f.engine.ProcessStateChange(context.Background(), "api_url", "sandbox")
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.example.com", si.APIURL)
	assert.Equal(t, "https://sandbox.example.com", f.writer.fields["api_url"])
}

func TestProcessStateChange_UnknownField(t *testing.T) {
	si := testIntegration("alpha_v1")
	f := newEngineFixture(t, &baseConnector{name: "alpha_v1"}, si, nil)

	_, err := f.engine.ProcessStateChange(context.Background(), "favorite_color", "blue")
	require.Error(t, err)
	assert.Nil(t, f.writer.fields)
}
