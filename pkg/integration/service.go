// Package integration coordinates service integration lifecycle: creation
// with dependency checks and mirror table setup, inbound webhook handling,
// onboarding state transitions, and backfill runs.
package integration

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sundew/internal/repositories/organization"
	"github.com/Ramsey-B/sundew/internal/repositories/serviceintegration"
	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/idempotency"
	"github.com/Ramsey-B/sundew/pkg/metrics"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/replicator"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// backfillSuppression is how long a completed backfill trigger suppresses
// re-triggers for the same integration.
const backfillSuppression = 5 * time.Minute

// Service wires the replicator engine to persistence and messaging
type Service struct {
	registry     *replicator.Registry
	orgs         *organization.Repository
	integrations *serviceintegration.Repository
	store        replicator.RowStore
	publisher    replicator.RowEventPublisher
	idem         *idempotency.Idempotency
	locker       *database.AdvisoryLocker
	logger       ectologger.Logger

	maxBackfillAttempts int
	backfillBaseBackoff time.Duration
}

// Params carries the collaborators a Service is built from
type Params struct {
	Registry            *replicator.Registry
	Organizations       *organization.Repository
	Integrations        *serviceintegration.Repository
	Store               replicator.RowStore
	Publisher           replicator.RowEventPublisher
	Idempotency         *idempotency.Idempotency
	Locker              *database.AdvisoryLocker
	Logger              ectologger.Logger
	MaxBackfillAttempts int
	BackfillBaseBackoff time.Duration
}

// NewService creates an integration service
func NewService(params Params) *Service {
	return &Service{
		registry:            params.Registry,
		orgs:                params.Organizations,
		integrations:        params.Integrations,
		store:               params.Store,
		publisher:           params.Publisher,
		idem:                params.Idempotency,
		locker:              params.Locker,
		logger:              params.Logger,
		maxBackfillAttempts: params.MaxBackfillAttempts,
		backfillBaseBackoff: params.BackfillBaseBackoff,
	}
}

// IntegrationResponse pairs an integration with its onboarding state
type IntegrationResponse struct {
	Integration  models.ServiceIntegration   `json:"integration"`
	CreateStep   *replicator.StateMachineStep `json:"create_step"`
	BackfillStep *replicator.StateMachineStep `json:"backfill_step"`
}

func (s *Service) engineFor(si *models.ServiceIntegration, org *models.Organization) (*replicator.Engine, error) {
	return replicator.New(replicator.Params{
		Registry:            s.registry,
		Integration:         si,
		Organization:        org,
		Store:               s.store,
		Publisher:           s.publisher,
		Dependents:          s.integrations,
		FieldWriter:         s.integrations,
		Logger:              s.logger,
		MaxBackfillAttempts: s.maxBackfillAttempts,
		BackfillBaseBackoff: s.backfillBaseBackoff,
	})
}

// Create validates the service name and its dependency, persists the
// integration, and creates its mirror table in the organization's database.
func (s *Service) Create(ctx context.Context, organizationID string, req models.CreateServiceIntegrationRequest) (*IntegrationResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Service.Create")
	defer span.End()

	connector, err := s.registry.Lookup(req.ServiceName)
	if err != nil {
		var invalid *replicator.InvalidServiceError
		if errors.As(err, &invalid) {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown service %q", req.ServiceName)
		}
		return nil, err
	}

	descriptor := connector.Descriptor()
	if descriptor.DependencyName != "" {
		if req.DependsOnID == nil || *req.DependsOnID == "" {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "service %s requires a %s integration to depend on", descriptor.Name, descriptor.DependencyName)
		}
		parent, err := s.integrations.Get(ctx, organizationID, *req.DependsOnID)
		if err != nil {
			return nil, err
		}
		if parent.ServiceName != descriptor.DependencyName {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "service %s must depend on a %s integration, got %s", descriptor.Name, descriptor.DependencyName, parent.ServiceName)
		}
	}

	org, err := s.orgs.Get(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	si, err := s.integrations.Create(ctx, organizationID, req)
	if err != nil {
		return nil, err
	}

	engine, err := s.engineFor(si, org)
	if err != nil {
		return nil, err
	}
	if err := engine.CreateTable(ctx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create mirror table")
	}

	return &IntegrationResponse{
		Integration:  *si,
		CreateStep:   engine.CalculateCreateStateMachine(),
		BackfillStep: engine.CalculateBackfillStateMachine(),
	}, nil
}

// Get returns an integration with its onboarding state
func (s *Service) Get(ctx context.Context, organizationID, id string) (*IntegrationResponse, error) {
	si, err := s.integrations.Get(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	org, err := s.orgs.Get(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(si, org)
	if err != nil {
		return nil, err
	}
	return &IntegrationResponse{
		Integration:  *si,
		CreateStep:   engine.CalculateCreateStateMachine(),
		BackfillStep: engine.CalculateBackfillStateMachine(),
	}, nil
}

// WebhookResult is the authentication outcome plus the engine needed to
// process the accepted payload after the response is written.
type WebhookResult struct {
	Response replicator.WebhookResponse
	Engine   *replicator.Engine
}

// HandleWebhook authenticates one inbound webhook addressed by opaque id.
// The caller writes Response immediately; on a 202 it then hands the raw body
// to ProcessWebhook so ingestion never blocks the sender.
func (s *Service) HandleWebhook(ctx context.Context, opaqueID string, r *http.Request, rawBody []byte) (*WebhookResult, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Service.HandleWebhook")
	defer span.End()

	si, err := s.integrations.GetByOpaqueID(ctx, opaqueID)
	if err != nil {
		return nil, err
	}
	org, err := s.orgs.Get(ctx, si.OrganizationID)
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(si, org)
	if err != nil {
		return nil, err
	}

	response := engine.WebhookResponse(r, rawBody)
	if response.Status == http.StatusUnauthorized {
		metrics.RecordWebhook(si.ServiceName, "rejected")
	} else {
		metrics.RecordWebhook(si.ServiceName, "accepted")
	}
	return &WebhookResult{Response: response, Engine: engine}, nil
}

// ProcessWebhook upserts an accepted webhook payload
func (s *Service) ProcessWebhook(ctx context.Context, engine *replicator.Engine, rawBody []byte) {
	changed, err := engine.UpsertWebhook(ctx, rawBody)
	serviceName := engine.Integration().ServiceName
	switch {
	case err != nil:
		metrics.RecordRowUpsert(serviceName, "error")
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"service": serviceName}).Error("Failed to process webhook payload")
	case changed:
		metrics.RecordRowUpsert(serviceName, "changed")
	default:
		metrics.RecordRowUpsert(serviceName, "noop")
	}
}

// Transition applies one onboarding field and returns the next step
func (s *Service) Transition(ctx context.Context, organizationID, opaqueID, field, value string) (*replicator.StateMachineStep, error) {
	ctx, span := tracing.StartSpan(ctx, "integration.Service.Transition")
	defer span.End()

	si, err := s.integrations.GetByOpaqueID(ctx, opaqueID)
	if err != nil {
		return nil, err
	}
	if si.OrganizationID != organizationID {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "service integration %s not found", opaqueID)
	}
	org, err := s.orgs.Get(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(si, org)
	if err != nil {
		return nil, err
	}
	return engine.ProcessStateChange(ctx, field, value)
}

// Backfill runs a full backfill for an integration. An advisory lock keyed by
// the integration collapses concurrent triggers, and a completed run
// suppresses re-triggers for a few minutes through the idempotency guard.
func (s *Service) Backfill(ctx context.Context, organizationID, opaqueID string) error {
	ctx, span := tracing.StartSpan(ctx, "integration.Service.Backfill")
	defer span.End()

	si, err := s.integrations.GetByOpaqueID(ctx, opaqueID)
	if err != nil {
		return err
	}
	if si.OrganizationID != organizationID {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "service integration %s not found", opaqueID)
	}
	org, err := s.orgs.Get(ctx, organizationID)
	if err != nil {
		return err
	}
	engine, err := s.engineFor(si, org)
	if err != nil {
		return err
	}

	err = s.locker.WithLock(ctx, backfillLockKey(si.ID), func(ctx context.Context) error {
		result, err := s.idem.Every(backfillSuppression).Execute(ctx, "backfill:"+si.ID, func(ctx context.Context) (any, error) {
			start := time.Now()
			if err := engine.Backfill(ctx); err != nil {
				metrics.RecordBackfillPage(si.ServiceName, "failed")
				return nil, err
			}
			metrics.BackfillDuration.WithLabelValues(si.ServiceName).Observe(time.Since(start).Seconds())
			return nil, s.integrations.MarkBackfilled(ctx, si.ID)
		})
		if err != nil {
			return err
		}
		if result.Executed {
			metrics.RecordIdempotentRun("executed")
		} else {
			metrics.RecordIdempotentRun("suppressed")
		}
		return nil
	})

	switch {
	case errors.Is(err, database.ErrLockNotAcquired):
		return httperror.NewHTTPError(http.StatusConflict, "a backfill is already running for this integration")
	case errors.Is(err, replicator.ErrCredentialsMissing):
		return httperror.NewHTTPError(http.StatusConflict, "backfill credentials are not configured yet")
	}
	return err
}

// backfillLockKey folds an integration id into the backfill lock keyspace
func backfillLockKey(integrationID string) int32 {
	h := fnv.New32a()
	h.Write([]byte(integrationID))
	return int32(h.Sum32())
}
