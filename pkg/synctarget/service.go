// Package synctarget schedules and runs periodic exports of replicated tables
// to customer-owned destinations. A target is either a postgres:// database or
// an https:// endpoint; the scheduler enqueues due targets onto a Redis stream
// and the runner executes them under an advisory lock.
package synctarget

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sundew/internal/repositories/synctarget"
	"github.com/Ramsey-B/sundew/pkg/models"
	"github.com/Ramsey-B/sundew/pkg/tracing"
)

// allowedSchemes are the connection URL protocols a target may use. Anything
// else is rejected at create and update time.
var allowedSchemes = map[string]bool{
	"postgres":   true,
	"postgresql": true,
	"https":      true,
}

// Service validates and persists sync targets
type Service struct {
	repo      *synctarget.Repository
	periodMin time.Duration
	periodMax time.Duration
	pageSize  int
	logger    ectologger.Logger
}

// NewService creates a sync target service. periodMin and periodMax bound the
// accepted sync period; pageSize is the default page size for new targets.
func NewService(repo *synctarget.Repository, periodMin, periodMax time.Duration, pageSize int, logger ectologger.Logger) *Service {
	return &Service{
		repo:      repo,
		periodMin: periodMin,
		periodMax: periodMax,
		pageSize:  pageSize,
		logger:    logger,
	}
}

func (s *Service) validateConnectionURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "connection_url is not a valid URL")
	}
	if !allowedSchemes[parsed.Scheme] {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "connection_url protocol %q is not supported; use postgres:// or https://", parsed.Scheme)
	}
	return nil
}

func (s *Service) validatePeriod(seconds int) error {
	period := time.Duration(seconds) * time.Second
	if period < s.periodMin || period > s.periodMax {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "period_seconds must be between %d and %d", int(s.periodMin.Seconds()), int(s.periodMax.Seconds()))
	}
	return nil
}

// Create validates and persists a new sync target
func (s *Service) Create(ctx context.Context, organizationID string, req models.CreateSyncTargetRequest) (*models.SyncTarget, error) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Service.Create")
	defer span.End()

	if err := s.validateConnectionURL(req.ConnectionURL); err != nil {
		return nil, err
	}
	if err := s.validatePeriod(req.PeriodSeconds); err != nil {
		return nil, err
	}
	if req.PageSize <= 0 {
		req.PageSize = s.pageSize
	}
	if req.Schema == "" {
		req.Schema = "public"
	}

	return s.repo.Create(ctx, organizationID, req)
}

// Get retrieves a sync target scoped to an organization
func (s *Service) Get(ctx context.Context, organizationID, id string) (*models.SyncTarget, error) {
	target, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if target == nil || target.OrganizationID != organizationID {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "sync target %s not found", id)
	}
	return target, nil
}

// List retrieves an organization's sync targets
func (s *Service) List(ctx context.Context, organizationID string, page, pageSize int) (*models.SyncTargetListResponse, error) {
	return s.repo.List(ctx, organizationID, page, pageSize)
}

// Update validates and applies a partial update
func (s *Service) Update(ctx context.Context, organizationID, id string, req models.UpdateSyncTargetRequest) (*models.SyncTarget, error) {
	ctx, span := tracing.StartSpan(ctx, "synctarget.Service.Update")
	defer span.End()

	if req.ConnectionURL != nil {
		if err := s.validateConnectionURL(*req.ConnectionURL); err != nil {
			return nil, err
		}
	}
	if req.PeriodSeconds != nil {
		if err := s.validatePeriod(*req.PeriodSeconds); err != nil {
			return nil, err
		}
	}

	return s.repo.Update(ctx, organizationID, id, req)
}

// Delete soft deletes a sync target
func (s *Service) Delete(ctx context.Context, organizationID, id string) error {
	return s.repo.SoftDelete(ctx, organizationID, id)
}
