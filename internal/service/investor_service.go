package service

import (
	"context"
	"strings"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// InvestorService manages investor onboarding and credit-limit maintenance.
type InvestorService struct {
	investors InvestorStore
	audit     *AuditService
	log       *logger.Logger
}

// NewInvestorService creates a new InvestorService.
func NewInvestorService(investors InvestorStore, audit *AuditService, log *logger.Logger) *InvestorService {
	return &InvestorService{investors: investors, audit: audit, log: log}
}

// CreateInvestorRequest onboards a new capital provider. Amounts are AED fils.
type CreateInvestorRequest struct {
	Name          string   `json:"name"`
	CreditLimit   int64    `json:"credit_limit"`
	DecidedPctMin *float64 `json:"decided_pct_min,omitempty"`
	DecidedPctMax *float64 `json:"decided_pct_max,omitempty"`
	Actor         Actor    `json:"actor"`
}

// Create validates and persists a new investor.
func (s *InvestorService) Create(ctx context.Context, req *CreateInvestorRequest) (*repository.Investor, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name", "investor name is required")
	}
	if req.CreditLimit < 0 {
		return nil, apperrors.InvalidInput("credit_limit", "cannot be negative")
	}
	if err := validatePercentageRange(req.DecidedPctMin, req.DecidedPctMax); err != nil {
		return nil, err
	}

	investor := &repository.Investor{
		Name:          name,
		CreditLimit:   req.CreditLimit,
		DecidedPctMin: req.DecidedPctMin,
		DecidedPctMax: req.DecidedPctMax,
		Status:        "active",
	}
	if err := s.investors.Create(ctx, investor); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("investor_id", investor.ID).
		Str("investor_no", investor.InvestorNo).
		Int64("credit_limit", investor.CreditLimit).
		Msg("Investor created")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryInvestor,
		Action:       "investor_created",
		ActorKind:    req.Actor.Kind,
		ActorID:      req.Actor.ID,
		TargetEntity: investor.ID,
		Metadata: map[string]any{
			"investor_no":  investor.InvestorNo,
			"credit_limit": investor.CreditLimit,
		},
	})
	return investor, nil
}

// Get retrieves an investor.
func (s *InvestorService) Get(ctx context.Context, id string) (*repository.Investor, error) {
	return s.investors.GetByID(ctx, id)
}

// List retrieves investors, optionally filtered by status.
func (s *InvestorService) List(ctx context.Context, status *string) ([]*repository.Investor, error) {
	return s.investors.List(ctx, status)
}

// UpdateCreditLimit changes an investor's committed capital. The new limit
// must cover the currently utilized amount.
func (s *InvestorService) UpdateCreditLimit(ctx context.Context, id string, newLimit int64, actor Actor) (*repository.Investor, error) {
	if newLimit < 0 {
		return nil, apperrors.InvalidInput("credit_limit", "cannot be negative")
	}

	investor, err := s.investors.UpdateCreditLimit(ctx, id, newLimit)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("investor_id", id).
		Int64("credit_limit", newLimit).
		Msg("Credit limit updated")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryInvestor,
		Action:       "credit_limit_updated",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: id,
		Metadata:     map[string]any{"credit_limit": newLimit},
	})
	return investor, nil
}

// Delete removes an investor with no deployed capital.
func (s *InvestorService) Delete(ctx context.Context, id string, actor Actor) error {
	if err := s.investors.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info().Str("investor_id", id).Msg("Investor deleted")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryInvestor,
		Action:       "investor_deleted",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: id,
	})
	return nil
}

func validatePercentageRange(min, max *float64) error {
	if min == nil && max == nil {
		return nil
	}
	if min == nil || max == nil {
		return apperrors.InvalidInput("decided_pct_range", "both bounds are required when a range is set")
	}
	if *min < 0 || *max > 100 {
		return apperrors.InvalidInput("decided_pct_range", "bounds must lie within [0, 100]")
	}
	if *min > *max {
		return apperrors.InvalidInput("decided_pct_range", "lower bound exceeds upper bound")
	}
	return nil
}
