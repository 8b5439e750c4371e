package replicator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Ramsey-B/sundew/pkg/models"
)

// Descriptor is the immutable registration metadata for a connector. Name
// doubles as the integration's service_name. DependencyName, when set, means
// an integration of this connector cannot be created until an integration of
// the named connector exists to link against.
type Descriptor struct {
	Name             string
	ResourceName     string
	SupportsWebhooks bool
	SupportsBackfill bool
	DependencyName   string
}

// Connector supplies the per-service pieces the engine is parameterized by.
// Implementations are stateless; one value serves every integration of the
// service.
type Connector interface {
	Descriptor() Descriptor

	// RemoteKeyColumn is the externally stable unique identifier used as the
	// upsert conflict key. UNIQUE NOT NULL on the mirror table.
	RemoteKeyColumn() Column

	// DenormalizedColumns are the typed fields extracted alongside the raw
	// payload. The engine creates an index for each column with Index set.
	DenormalizedColumns() []Column

	// UpdateGuard names the column guarding conflict overwrites, or nil to
	// always overwrite.
	UpdateGuard() *UpdateGuard

	// NewVerifier builds the webhook authentication strategy for one
	// integration's credentials.
	NewVerifier(si *models.ServiceIntegration) Verifier

	CalculateCreateStateMachine(si *models.ServiceIntegration) *StateMachineStep
	CalculateBackfillStateMachine(si *models.ServiceIntegration) *StateMachineStep
}

// BackfillSource is implemented by connectors that support paginated pull
// imports. FetchBackfillPage takes an opaque pagination token ("" for the
// first page) and returns the page plus the next token ("" when exhausted).
type BackfillSource interface {
	FetchBackfillPage(si *models.ServiceIntegration, token string) (items []map[string]any, nextToken string, err error)
}

// BackfillUpserter is implemented by connectors whose backfill payload shape
// differs from their webhook payload shape.
type BackfillUpserter interface {
	UpsertBackfillPayload(e *Engine, item map[string]any) (bool, error)
}

// FieldNormalizer is implemented by connectors that rewrite an incoming
// configuration value before it is persisted, like mapping a free-text
// environment name to a canonical base URL.
type FieldNormalizer interface {
	NormalizeFieldValue(field, value string) string
}

// Registry is the process-wide name to connector mapping, populated once at
// startup and passed by reference into request handlers.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Connector{}}
}

// Register adds a connector. Registering the same name twice is a programming
// error and panics.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Descriptor().Name
	if _, exists := r.byName[name]; exists {
		panic(fmt.Sprintf("connector %q registered twice", name))
	}
	r.byName[name] = c
}

// Lookup returns the connector for a service name.
func (r *Registry) Lookup(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	if !ok {
		return nil, &InvalidServiceError{Name: name}
	}
	return c, nil
}

// Descriptors returns the registered descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
