package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// SettlementService computes and records profit distribution when a funded
// asset is sold, returning the invested capital to each investor's available
// credit.
type SettlementService struct {
	commitments CommitmentStore
	settlements SettlementStore
	audit       *AuditService
	events      EventPublisher
	log         *logger.Logger
}

// NewSettlementService creates a new SettlementService.
func NewSettlementService(
	commitments CommitmentStore,
	settlements SettlementStore,
	audit *AuditService,
	events EventPublisher,
	log *logger.Logger,
) *SettlementService {
	return &SettlementService{
		commitments: commitments,
		settlements: settlements,
		audit:       audit,
		events:      events,
		log:         log,
	}
}

// Settle computes the breakdown for a sold asset and persists it. Selling is
// a capital-committing action like buying, so the caller must present a
// dual-approved sale commitment; the breakdown write, all capital releases,
// and consuming the sale commitment commit in one transaction.
func (s *SettlementService) Settle(ctx context.Context, commitmentID, saleCommitmentID string, sellingPrice int64, actor Actor) (*repository.Settlement, error) {
	if sellingPrice < 0 {
		return nil, apperrors.InvalidInput("selling_price", "cannot be negative")
	}
	if saleCommitmentID == "" {
		return nil, apperrors.InvalidInput("sale_commitment_id", "is required")
	}

	commitment, err := s.commitments.GetByID(ctx, commitmentID)
	if err != nil {
		return nil, err
	}
	if commitment.Kind != repository.KindPurchase {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s is not an asset purchase", commitment.CommitmentNo)
	}

	sale, err := s.commitments.GetByID(ctx, saleCommitmentID)
	if err != nil {
		return nil, err
	}
	if sale.Kind != repository.KindSale {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s is not a sale", sale.CommitmentNo)
	}
	if sale.ApprovalStatus != repository.ApprovalApproved {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"sale commitment %s is not approved", sale.CommitmentNo)
	}
	if sale.SettledAt != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"sale commitment %s is already consumed by a settlement", sale.CommitmentNo)
	}

	if err := s.checkLedgerConsistency(ctx, commitment, actor); err != nil {
		return nil, err
	}

	profit := sellingPrice - commitment.PurchasePrice
	lines := computeSettlementLines(profit, commitment.Allocations)

	settlement := &repository.Settlement{
		CommitmentID:     commitment.ID,
		SaleCommitmentID: sale.ID,
		SellingPrice:     sellingPrice,
		PurchasePrice:    commitment.PurchasePrice,
		TotalProfit:      profit,
		Lines:            lines,
	}
	if actor.ID != "" {
		settlement.CreatedBy = &actor.ID
	}

	if err := s.settlements.CreateWithRelease(ctx, settlement); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("settlement_id", settlement.ID).
		Str("settlement_no", settlement.SettlementNo).
		Str("commitment_no", commitment.CommitmentNo).
		Int64("selling_price", sellingPrice).
		Int64("total_profit", profit).
		Msg("Settlement recorded")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategorySettlement,
		Action:       "settlement_recorded",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: settlement.ID,
		Metadata: map[string]any{
			"settlement_no":      settlement.SettlementNo,
			"commitment_no":      commitment.CommitmentNo,
			"sale_commitment_no": sale.CommitmentNo,
			"selling_price":      sellingPrice,
			"total_profit":       profit,
		},
	})
	if s.events != nil {
		s.events.PublishCapitalEvent(ctx, "settlement_recorded", settlement.ID,
			string(actor.Kind), actor.ID, map[string]any{"total_profit": profit})
	}
	return settlement, nil
}

// Get retrieves a settlement breakdown.
func (s *SettlementService) Get(ctx context.Context, id string) (*repository.Settlement, error) {
	return s.settlements.GetByID(ctx, id)
}

// GetByCommitment retrieves the settlement recorded for a commitment.
func (s *SettlementService) GetByCommitment(ctx context.Context, commitmentID string) (*repository.Settlement, error) {
	return s.settlements.GetByCommitmentID(ctx, commitmentID)
}

// checkLedgerConsistency verifies the recorded allocations reconcile with the
// commitment total. A mismatch means upstream data corruption, not user
// error, so it is audit-logged at critical severity.
func (s *SettlementService) checkLedgerConsistency(ctx context.Context, c *repository.Commitment, actor Actor) error {
	var err *apperrors.Error
	if len(c.Allocations) == 0 {
		err = apperrors.Newf(apperrors.ErrCodeInconsistentLedger,
			"commitment %s has no recorded allocations", c.CommitmentNo)
	} else {
		var sum int64
		for _, a := range c.Allocations {
			sum += a.Amount
		}
		diff := sum - c.TotalAmount
		if diff < -amountToleranceFils || diff > amountToleranceFils {
			err = apperrors.Newf(apperrors.ErrCodeInconsistentLedger,
				"allocations of commitment %s sum to %d, expected %d", c.CommitmentNo, sum, c.TotalAmount)
		}
	}
	if err == nil {
		return nil
	}

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategorySettlement,
		Action:       "ledger_inconsistency_detected",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: c.ID,
		Severity:     repository.SeverityCritical,
		Metadata:     map[string]any{"error": err.Message},
	})
	return err
}

// computeSettlementLines splits profit across allocations, rounding each
// share to whole fils. Any rounding residual is assigned to the largest
// allocation (ties broken by smallest investor id), so the rounded shares
// always sum to the profit exactly regardless of processing order.
func computeSettlementLines(profit int64, allocations []*repository.Allocation) []*repository.SettlementLine {
	lines := make([]*repository.SettlementLine, 0, len(allocations))

	hundred := decimal.NewFromInt(100)
	profitDec := decimal.NewFromInt(profit)

	var roundedSum int64
	largest := -1
	for i, a := range allocations {
		share := profitDec.
			Mul(decimal.NewFromFloat(a.Percentage)).
			Div(hundred).
			Round(0).
			IntPart()
		roundedSum += share

		lines = append(lines, &repository.SettlementLine{
			InvestorID:           a.InvestorID,
			InvestmentAmount:     a.Amount,
			InvestmentPercentage: a.Percentage,
			ProfitAmount:         share,
			ProfitPercentage:     a.Percentage,
			TotalPayout:          a.Amount + share,
		})

		if largest < 0 ||
			a.Amount > allocations[largest].Amount ||
			(a.Amount == allocations[largest].Amount && a.InvestorID < allocations[largest].InvestorID) {
			largest = i
		}
	}

	if residual := profit - roundedSum; residual != 0 && largest >= 0 {
		lines[largest].ProfitAmount += residual
		lines[largest].TotalPayout += residual
	}
	return lines
}
