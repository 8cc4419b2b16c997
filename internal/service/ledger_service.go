package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// percentageTolerance is how far the percentage sum may drift from 100.
var percentageTolerance = decimal.NewFromFloat(0.01)

// amountToleranceFils is one currency-rounding unit (1 fil).
const amountToleranceFils = 1

// LedgerService owns each investor's credit utilization and the split of a
// commitment's funding across investors.
type LedgerService struct {
	investors   InvestorStore
	commitments CommitmentStore
	audit       *AuditService
	events      EventPublisher
	log         *logger.Logger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	investors InvestorStore,
	commitments CommitmentStore,
	audit *AuditService,
	events EventPublisher,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		investors:   investors,
		commitments: commitments,
		audit:       audit,
		events:      events,
		log:         log,
	}
}

// Reserve commits capital against one investor's credit line.
func (s *LedgerService) Reserve(ctx context.Context, investorID string, amount int64, actor Actor) (*repository.Investor, error) {
	if amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}

	investor, err := s.investors.Reserve(ctx, investorID, amount)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("investor_id", investorID).
		Int64("amount", amount).
		Int64("utilized_amount", investor.UtilizedAmount).
		Msg("Capital reserved")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryLedger,
		Action:       "capital_reserved",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: investorID,
		Metadata: map[string]any{
			"amount":          amount,
			"utilized_amount": investor.UtilizedAmount,
		},
	})
	return investor, nil
}

// Release returns capital to one investor's available credit. Releasing more
// than is utilized is an invariant violation, surfaced loudly and
// audit-logged at critical severity.
func (s *LedgerService) Release(ctx context.Context, investorID string, amount int64, actor Actor) (*repository.Investor, error) {
	if amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}

	investor, err := s.investors.Release(ctx, investorID, amount)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeInvariantViolation) {
			s.audit.Record(ctx, &repository.AuditEntry{
				Category:     CategoryLedger,
				Action:       "release_invariant_violation",
				ActorKind:    actor.Kind,
				ActorID:      actor.ID,
				TargetEntity: investorID,
				Severity:     repository.SeverityCritical,
				Metadata:     map[string]any{"amount": amount, "error": err.Error()},
			})
		}
		return nil, err
	}

	s.log.Info().
		Str("investor_id", investorID).
		Int64("amount", amount).
		Int64("utilized_amount", investor.UtilizedAmount).
		Msg("Capital released")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryLedger,
		Action:       "capital_released",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: investorID,
		Metadata: map[string]any{
			"amount":          amount,
			"utilized_amount": investor.UtilizedAmount,
		},
	})
	return investor, nil
}

// RemainingCredit returns the investor along with the capital they can still
// deploy.
func (s *LedgerService) RemainingCredit(ctx context.Context, investorID string) (*repository.Investor, int64, error) {
	investor, err := s.investors.GetByID(ctx, investorID)
	if err != nil {
		return nil, 0, err
	}
	return investor, investor.RemainingCredit(), nil
}

// AllocationInput is one investor's share in a RecordAllocation request.
type AllocationInput struct {
	InvestorID string  `json:"investor_id"`
	Amount     int64   `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// RecordAllocation validates and records the funding split of a commitment.
// Percentages must sum to 100 within 0.01 and amounts to the commitment total
// within one fil; an investor with a declared percentage range must stay
// inside it.
func (s *LedgerService) RecordAllocation(ctx context.Context, commitmentID string, inputs []AllocationInput, actor Actor) ([]*repository.Allocation, error) {
	if len(inputs) == 0 {
		return nil, apperrors.InvalidInput("allocations", "at least one allocation is required")
	}

	commitment, err := s.commitments.GetByID(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	if err := validateAllocationSums(inputs, commitment.TotalAmount); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		if seen[in.InvestorID] {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation,
				"investor %s appears in more than one allocation", in.InvestorID)
		}
		seen[in.InvestorID] = true
		ids = append(ids, in.InvestorID)
	}

	investors, err := s.investors.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, in := range inputs {
		investor, ok := investors[in.InvestorID]
		if !ok {
			return nil, apperrors.NotFound("investor", in.InvestorID)
		}
		if investor.DecidedPctMin != nil && investor.DecidedPctMax != nil {
			if in.Percentage < *investor.DecidedPctMin || in.Percentage > *investor.DecidedPctMax {
				return nil, apperrors.Newf(apperrors.ErrCodeOutOfRange,
					"percentage %.2f for investor %s is outside the declared range [%.2f, %.2f]",
					in.Percentage, investor.InvestorNo, *investor.DecidedPctMin, *investor.DecidedPctMax)
			}
		}
	}

	allocations := make([]*repository.Allocation, 0, len(inputs))
	for _, in := range inputs {
		allocations = append(allocations, &repository.Allocation{
			InvestorID: in.InvestorID,
			Amount:     in.Amount,
			Percentage: in.Percentage,
		})
	}

	if err := s.commitments.ReplaceAllocations(ctx, commitmentID, allocations); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("commitment_id", commitmentID).
		Int("investors", len(allocations)).
		Msg("Allocation recorded")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryLedger,
		Action:       "allocation_recorded",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: commitmentID,
		Metadata:     map[string]any{"investors": len(allocations)},
	})
	return allocations, nil
}

// ReserveAllocations commits the capital of every allocation of an approved
// commitment, all-or-nothing.
func (s *LedgerService) ReserveAllocations(ctx context.Context, commitmentID string, actor Actor) ([]*repository.Allocation, error) {
	allocations, err := s.commitments.ReserveAllocations(ctx, commitmentID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("commitment_id", commitmentID).
		Int("investors", len(allocations)).
		Msg("Allocation funds reserved")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryLedger,
		Action:       "funds_reserved",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: commitmentID,
		Metadata:     map[string]any{"investors": len(allocations)},
	})
	if s.events != nil {
		s.events.PublishCapitalEvent(ctx, "funds_reserved", commitmentID,
			string(actor.Kind), actor.ID, nil)
	}
	return allocations, nil
}

// validateAllocationSums checks the two reconciliation invariants on a split.
func validateAllocationSums(inputs []AllocationInput, totalAmount int64) error {
	pctSum := decimal.Zero
	var amountSum int64

	for _, in := range inputs {
		if in.Amount <= 0 {
			return apperrors.InvalidInput("amount", "allocation amounts must be positive")
		}
		if in.Percentage <= 0 || in.Percentage > 100 {
			return apperrors.InvalidInput("percentage", "must be within (0, 100]")
		}
		pctSum = pctSum.Add(decimal.NewFromFloat(in.Percentage))
		amountSum += in.Amount
	}

	hundred := decimal.NewFromInt(100)
	if pctSum.Sub(hundred).Abs().GreaterThan(percentageTolerance) {
		return apperrors.Newf(apperrors.ErrCodeValidation,
			"allocation percentages sum to %s, expected 100", pctSum.String())
	}

	diff := amountSum - totalAmount
	if diff < -amountToleranceFils || diff > amountToleranceFils {
		return apperrors.Newf(apperrors.ErrCodeValidation,
			"allocation amounts sum to %d, expected %d", amountSum, totalAmount)
	}
	return nil
}
