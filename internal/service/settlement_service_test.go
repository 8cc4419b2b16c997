package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

func TestComputeSettlementLines(t *testing.T) {
	tests := []struct {
		name        string
		profit      int64
		allocations []*repository.Allocation
		wantShares  map[string]int64 // investor id -> profit amount
	}{
		{
			name:   "70/30 split of 10000 profit",
			profit: 1000000, // AED 10,000 in fils
			allocations: []*repository.Allocation{
				{InvestorID: "inv-1", Amount: 4060000, Percentage: 70},
				{InvestorID: "inv-2", Amount: 1740000, Percentage: 30},
			},
			wantShares: map[string]int64{"inv-1": 700000, "inv-2": 300000},
		},
		{
			name:   "residual fil goes to largest allocation",
			profit: 1,
			allocations: []*repository.Allocation{
				{InvestorID: "inv-1", Amount: 6000, Percentage: 50},
				{InvestorID: "inv-2", Amount: 4000, Percentage: 50},
			},
			// each rounds to 1, residual -1 lands on inv-1
			wantShares: map[string]int64{"inv-1": 0, "inv-2": 1},
		},
		{
			name:   "equal allocations break tie by smaller investor id",
			profit: 3,
			allocations: []*repository.Allocation{
				{InvestorID: "inv-2", Amount: 5000, Percentage: 50},
				{InvestorID: "inv-1", Amount: 5000, Percentage: 50},
			},
			// 1.5 each rounds to 2+2, residual -1 lands on inv-1
			wantShares: map[string]int64{"inv-1": 1, "inv-2": 2},
		},
		{
			name:   "negative profit splits as losses",
			profit: -100000,
			allocations: []*repository.Allocation{
				{InvestorID: "inv-1", Amount: 7500, Percentage: 75},
				{InvestorID: "inv-2", Amount: 2500, Percentage: 25},
			},
			wantShares: map[string]int64{"inv-1": -75000, "inv-2": -25000},
		},
		{
			name:   "three-way uneven split reconciles exactly",
			profit: 100,
			allocations: []*repository.Allocation{
				{InvestorID: "inv-1", Amount: 3333, Percentage: 33.33},
				{InvestorID: "inv-2", Amount: 3333, Percentage: 33.33},
				{InvestorID: "inv-3", Amount: 3334, Percentage: 33.34},
			},
			wantShares: map[string]int64{"inv-1": 33, "inv-2": 33, "inv-3": 34},
		},
		{
			name:   "zero profit yields zero shares",
			profit: 0,
			allocations: []*repository.Allocation{
				{InvestorID: "inv-1", Amount: 5000, Percentage: 50},
				{InvestorID: "inv-2", Amount: 5000, Percentage: 50},
			},
			wantShares: map[string]int64{"inv-1": 0, "inv-2": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := computeSettlementLines(tt.profit, tt.allocations)
			require.Len(t, lines, len(tt.allocations))

			var sum int64
			for _, line := range lines {
				assert.Equal(t, tt.wantShares[line.InvestorID], line.ProfitAmount,
					"profit share for %s", line.InvestorID)
				assert.Equal(t, line.InvestmentAmount+line.ProfitAmount, line.TotalPayout,
					"payout for %s", line.InvestorID)
				sum += line.ProfitAmount
			}
			assert.Equal(t, tt.profit, sum, "rounded shares must sum to profit exactly")
		})
	}
}

func TestComputeSettlementLinesOrderIndependent(t *testing.T) {
	allocations := []*repository.Allocation{
		{InvestorID: "inv-1", Amount: 100001, Percentage: 33.33},
		{InvestorID: "inv-2", Amount: 100001, Percentage: 33.33},
		{InvestorID: "inv-3", Amount: 100004, Percentage: 33.34},
	}
	reversed := []*repository.Allocation{allocations[2], allocations[1], allocations[0]}

	byInvestor := func(lines []*repository.SettlementLine) map[string]int64 {
		out := make(map[string]int64, len(lines))
		for _, l := range lines {
			out[l.InvestorID] = l.ProfitAmount
		}
		return out
	}

	first := computeSettlementLines(1000001, allocations)
	second := computeSettlementLines(1000001, reversed)
	assert.Equal(t, byInvestor(first), byInvestor(second))
}

func newSettlementFixture(t *testing.T) (*SettlementService, *fakeInvestorStore, *fakeCommitmentStore, *fakeSettlementStore, *fakeAuditStore) {
	t.Helper()
	investors := newFakeInvestorStore()
	commitments := newFakeCommitmentStore(investors)
	settlements := newFakeSettlementStore(investors, commitments)
	audit, auditStore := newTestAudit()
	svc := NewSettlementService(commitments, settlements, audit, nil, testLogger())
	return svc, investors, commitments, settlements, auditStore
}

// approvedSale adds a dual-approved sale commitment ready to back a
// settlement.
func approvedSale(commitments *fakeCommitmentStore, amount int64) *repository.Commitment {
	now := time.Now()
	return commitments.add(&repository.Commitment{
		Kind:           repository.KindSale,
		TotalAmount:    amount,
		ApprovalStatus: repository.ApprovalApproved,
		ApprovedAt:     &now,
	})
}

func reservedCommitment(investors *fakeInvestorStore, commitments *fakeCommitmentStore) *repository.Commitment {
	a := investors.add(&repository.Investor{CreditLimit: 10000000})
	b := investors.add(&repository.Investor{CreditLimit: 10000000})
	a.UtilizedAmount = 4060000
	b.UtilizedAmount = 1740000

	now := time.Now()
	return commitments.add(&repository.Commitment{
		Kind:            repository.KindPurchase,
		TotalAmount:     5800000,
		PurchasePrice:   5800000,
		ApprovalStatus:  repository.ApprovalApproved,
		ApprovedAt:      &now,
		FundsReservedAt: &now,
		Allocations: []*repository.Allocation{
			{InvestorID: a.ID, Amount: 4060000, Percentage: 70},
			{InvestorID: b.ID, Amount: 1740000, Percentage: 30},
		},
	})
}

func TestSettleDistributesProfitAndReleasesCapital(t *testing.T) {
	svc, investors, commitments, _, audit := newSettlementFixture(t)
	c := reservedCommitment(investors, commitments)
	sale := approvedSale(commitments, 6800000)

	settlement, err := svc.Settle(context.Background(), c.ID, sale.ID, 6800000, Actor{Kind: repository.ActorManager, ID: "mgr-1"})
	require.NoError(t, err)

	assert.Equal(t, sale.ID, settlement.SaleCommitmentID)
	assert.Equal(t, int64(1000000), settlement.TotalProfit)
	require.Len(t, settlement.Lines, 2)
	assert.Equal(t, int64(700000), settlement.Lines[0].ProfitAmount)
	assert.Equal(t, int64(300000), settlement.Lines[1].ProfitAmount)
	assert.Equal(t, int64(4760000), settlement.Lines[0].TotalPayout)
	assert.Equal(t, int64(2040000), settlement.Lines[1].TotalPayout)

	// capital returned to both investors
	for _, inv := range investors.investors {
		assert.Zero(t, inv.UtilizedAmount, "investor %s should have capital released", inv.InvestorNo)
	}
	assert.NotNil(t, commitments.commitments[c.ID].SettledAt)
	assert.NotNil(t, commitments.commitments[sale.ID].SettledAt, "sale commitment should be consumed")
	assert.True(t, audit.hasAction("settlement_recorded"))
}

func TestSettleNegativeProfitSplitsLoss(t *testing.T) {
	svc, investors, commitments, _, _ := newSettlementFixture(t)
	c := reservedCommitment(investors, commitments)
	sale := approvedSale(commitments, 5700000)

	settlement, err := svc.Settle(context.Background(), c.ID, sale.ID, 5700000, Actor{Kind: repository.ActorAdmin, ID: "adm-1"})
	require.NoError(t, err)

	assert.Equal(t, int64(-100000), settlement.TotalProfit)
	assert.Equal(t, int64(-70000), settlement.Lines[0].ProfitAmount)
	assert.Equal(t, int64(-30000), settlement.Lines[1].ProfitAmount)
}

func TestSettleRejectsNegativeSellingPrice(t *testing.T) {
	svc, investors, commitments, _, _ := newSettlementFixture(t)
	c := reservedCommitment(investors, commitments)
	sale := approvedSale(commitments, 100)

	_, err := svc.Settle(context.Background(), c.ID, sale.ID, -1, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestSettleRejectsSaleCommitmentAsAsset(t *testing.T) {
	svc, _, commitments, _, _ := newSettlementFixture(t)
	c := commitments.add(&repository.Commitment{Kind: repository.KindSale, TotalAmount: 100})
	sale := approvedSale(commitments, 200)

	_, err := svc.Settle(context.Background(), c.ID, sale.ID, 200, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
}

func TestSettleRequiresApprovedSaleCommitment(t *testing.T) {
	svc, investors, commitments, _, _ := newSettlementFixture(t)
	c := reservedCommitment(investors, commitments)

	// no sale commitment at all
	_, err := svc.Settle(context.Background(), c.ID, "", 6800000, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	// sale recorded but only one group has signed off
	pending := commitments.add(&repository.Commitment{
		Kind:           repository.KindSale,
		TotalAmount:    6800000,
		ApprovalStatus: repository.ApprovalPending,
	})
	_, err = svc.Settle(context.Background(), c.ID, pending.ID, 6800000, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))

	// a purchase commitment cannot stand in for the sale approval
	purchase := commitments.add(&repository.Commitment{
		Kind:           repository.KindPurchase,
		TotalAmount:    6800000,
		ApprovalStatus: repository.ApprovalApproved,
	})
	_, err = svc.Settle(context.Background(), c.ID, purchase.ID, 6800000, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))

	// nothing released while the sale gate holds
	var utilized int64
	for _, inv := range investors.investors {
		utilized += inv.UtilizedAmount
	}
	assert.Equal(t, int64(5800000), utilized)
}

func TestSettleConsumesSaleCommitmentOnce(t *testing.T) {
	svc, investors, commitments, _, _ := newSettlementFixture(t)
	first := reservedCommitment(investors, commitments)
	second := reservedCommitment(investors, commitments)
	sale := approvedSale(commitments, 6800000)

	_, err := svc.Settle(context.Background(), first.ID, sale.ID, 6800000, Actor{})
	require.NoError(t, err)

	_, err = svc.Settle(context.Background(), second.ID, sale.ID, 6800000, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
}

func TestSettleRejectsSecondSettlement(t *testing.T) {
	svc, investors, commitments, _, _ := newSettlementFixture(t)
	c := reservedCommitment(investors, commitments)
	sale := approvedSale(commitments, 6800000)

	_, err := svc.Settle(context.Background(), c.ID, sale.ID, 6800000, Actor{})
	require.NoError(t, err)

	resale := approvedSale(commitments, 6800000)
	_, err = svc.Settle(context.Background(), c.ID, resale.ID, 6800000, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConflict))
}

func TestSettleDetectsInconsistentLedger(t *testing.T) {
	svc, investors, commitments, _, audit := newSettlementFixture(t)
	c := reservedCommitment(investors, commitments)
	sale := approvedSale(commitments, 6800000)
	c.Allocations[0].Amount += 500 // drift beyond tolerance

	_, err := svc.Settle(context.Background(), c.ID, sale.ID, 6800000, Actor{Kind: repository.ActorAdmin, ID: "adm-1"})
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeInconsistentLedger))
	assert.True(t, audit.hasAction("ledger_inconsistency_detected"))

	// nothing released on failure
	var utilized int64
	for _, inv := range investors.investors {
		utilized += inv.UtilizedAmount
	}
	assert.Equal(t, int64(5800000), utilized)
}

func TestSettleRejectsWithoutAllocations(t *testing.T) {
	svc, _, commitments, _, _ := newSettlementFixture(t)
	now := time.Now()
	c := commitments.add(&repository.Commitment{
		Kind:            repository.KindPurchase,
		TotalAmount:     100,
		PurchasePrice:   100,
		ApprovalStatus:  repository.ApprovalApproved,
		FundsReservedAt: &now,
	})
	sale := approvedSale(commitments, 200)

	_, err := svc.Settle(context.Background(), c.ID, sale.ID, 200, Actor{})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInconsistentLedger))
}
