package service

import (
	"context"
	"fmt"
	"time"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// In-memory fakes implementing the store interfaces with the same semantics
// the SQL repositories enforce, so service behavior can be tested without a
// database.

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Environment: "test"})
}

// ── audit ─────────────────────────────────────────────────────────────────────

type fakeAuditStore struct {
	entries []*repository.AuditEntry
	nextSeq int64
	failing bool
}

func (s *fakeAuditStore) Append(_ context.Context, entry *repository.AuditEntry) error {
	if s.failing {
		return apperrors.New(apperrors.ErrCodeInternal, "audit store unavailable")
	}
	s.nextSeq++
	entry.SequenceID = s.nextSeq
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) List(_ context.Context, filter repository.AuditFilter) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range s.entries {
		if filter.Category != nil && e.Category != *filter.Category {
			continue
		}
		if filter.Severity != nil && e.Severity != *filter.Severity {
			continue
		}
		if filter.TargetEntity != nil && e.TargetEntity != *filter.TargetEntity {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeAuditStore) lastAction() string {
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[len(s.entries)-1].Action
}

func (s *fakeAuditStore) hasAction(action string) bool {
	for _, e := range s.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

func newTestAudit() (*AuditService, *fakeAuditStore) {
	store := &fakeAuditStore{}
	return NewAuditService(store, nil, testLogger()), store
}

// ── investors ─────────────────────────────────────────────────────────────────

type fakeInvestorStore struct {
	investors map[string]*repository.Investor
	nextNo    int
}

func newFakeInvestorStore() *fakeInvestorStore {
	return &fakeInvestorStore{investors: make(map[string]*repository.Investor)}
}

func (s *fakeInvestorStore) add(inv *repository.Investor) *repository.Investor {
	s.nextNo++
	if inv.ID == "" {
		inv.ID = fmt.Sprintf("inv-%d", s.nextNo)
	}
	if inv.InvestorNo == "" {
		inv.InvestorNo = fmt.Sprintf("INV-%06d", s.nextNo)
	}
	if inv.Status == "" {
		inv.Status = "active"
	}
	s.investors[inv.ID] = inv
	return inv
}

func (s *fakeInvestorStore) Create(_ context.Context, investor *repository.Investor) error {
	s.add(investor)
	return nil
}

func (s *fakeInvestorStore) GetByID(_ context.Context, id string) (*repository.Investor, error) {
	inv, ok := s.investors[id]
	if !ok {
		return nil, apperrors.NotFound("investor", id)
	}
	return inv, nil
}

func (s *fakeInvestorStore) GetByIDs(_ context.Context, ids []string) (map[string]*repository.Investor, error) {
	out := make(map[string]*repository.Investor, len(ids))
	for _, id := range ids {
		if inv, ok := s.investors[id]; ok {
			out[id] = inv
		}
	}
	return out, nil
}

func (s *fakeInvestorStore) List(_ context.Context, status *string) ([]*repository.Investor, error) {
	var out []*repository.Investor
	for _, inv := range s.investors {
		if status != nil && inv.Status != *status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *fakeInvestorStore) UpdateCreditLimit(_ context.Context, id string, newLimit int64) (*repository.Investor, error) {
	inv, ok := s.investors[id]
	if !ok {
		return nil, apperrors.NotFound("investor", id)
	}
	if inv.UtilizedAmount > newLimit {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"new credit limit %d is below utilized amount %d", newLimit, inv.UtilizedAmount)
	}
	inv.CreditLimit = newLimit
	return inv, nil
}

func (s *fakeInvestorStore) Reserve(_ context.Context, investorID string, amount int64) (*repository.Investor, error) {
	inv, ok := s.investors[investorID]
	if !ok {
		return nil, apperrors.NotFound("investor", investorID)
	}
	if inv.UtilizedAmount+amount > inv.CreditLimit {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientCredit,
			"investor %s has insufficient credit: requested %d, remaining %d",
			inv.InvestorNo, amount, inv.RemainingCredit())
	}
	inv.UtilizedAmount += amount
	return inv, nil
}

func (s *fakeInvestorStore) Release(_ context.Context, investorID string, amount int64) (*repository.Investor, error) {
	inv, ok := s.investors[investorID]
	if !ok {
		return nil, apperrors.NotFound("investor", investorID)
	}
	if amount > inv.UtilizedAmount {
		// mirror the repository's drift clamp: a sub-fil overshoot zeroes
		// the balance, anything larger is a hard fault
		if amount-inv.UtilizedAmount <= 1 {
			inv.UtilizedAmount = 0
			return inv, nil
		}
		return nil, apperrors.Newf(apperrors.ErrCodeInvariantViolation,
			"release of %d exceeds utilized amount %d for investor %s",
			amount, inv.UtilizedAmount, inv.InvestorNo)
	}
	inv.UtilizedAmount -= amount
	return inv, nil
}

func (s *fakeInvestorStore) Delete(_ context.Context, id string) error {
	inv, ok := s.investors[id]
	if !ok {
		return apperrors.NotFound("investor", id)
	}
	if inv.UtilizedAmount != 0 {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"investor %s still has %d utilized", inv.InvestorNo, inv.UtilizedAmount)
	}
	delete(s.investors, id)
	return nil
}

// ── commitments ───────────────────────────────────────────────────────────────

type fakeCommitmentStore struct {
	commitments map[string]*repository.Commitment
	investors   *fakeInvestorStore
	nextNo      int
}

func newFakeCommitmentStore(investors *fakeInvestorStore) *fakeCommitmentStore {
	return &fakeCommitmentStore{
		commitments: make(map[string]*repository.Commitment),
		investors:   investors,
	}
}

func (s *fakeCommitmentStore) add(c *repository.Commitment) *repository.Commitment {
	s.nextNo++
	if c.ID == "" {
		c.ID = fmt.Sprintf("cm-%d", s.nextNo)
	}
	if c.CommitmentNo == "" {
		c.CommitmentNo = fmt.Sprintf("CM-%06d", s.nextNo)
	}
	if c.ApprovalStatus == "" {
		c.ApprovalStatus = repository.ApprovalNotSubmitted
	}
	s.commitments[c.ID] = c
	return c
}

func (s *fakeCommitmentStore) Create(_ context.Context, c *repository.Commitment) error {
	s.add(c)
	return nil
}

func (s *fakeCommitmentStore) GetByID(_ context.Context, id string) (*repository.Commitment, error) {
	c, ok := s.commitments[id]
	if !ok {
		return nil, apperrors.NotFound("commitment", id)
	}
	return c, nil
}

func (s *fakeCommitmentStore) List(_ context.Context, kind, status *string, limit, offset int) ([]*repository.Commitment, int64, error) {
	var out []*repository.Commitment
	for _, c := range s.commitments {
		if kind != nil && c.Kind != *kind {
			continue
		}
		if status != nil && c.ApprovalStatus != *status {
			continue
		}
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

func (s *fakeCommitmentStore) Submit(_ context.Context, id string) error {
	c, ok := s.commitments[id]
	if !ok {
		return apperrors.NotFound("commitment", id)
	}
	if c.ApprovalStatus != repository.ApprovalNotSubmitted {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s is already %s", c.CommitmentNo, c.ApprovalStatus)
	}
	c.ApprovalStatus = repository.ApprovalPending
	return nil
}

func (s *fakeCommitmentStore) AppendApproval(_ context.Context, commitmentID, adminID, groupName string, comment *string) (*repository.Approval, string, error) {
	c, ok := s.commitments[commitmentID]
	if !ok {
		return nil, "", apperrors.NotFound("commitment", commitmentID)
	}
	if c.ApprovalStatus == repository.ApprovalApproved {
		return nil, "", apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s is already approved", c.CommitmentNo)
	}
	for _, a := range c.Approvals {
		if a.AdminID == adminID {
			return nil, "", apperrors.Newf(apperrors.ErrCodeConflict,
				"admin has already approved commitment %s", c.CommitmentNo)
		}
	}

	approval := &repository.Approval{
		ID:           fmt.Sprintf("appr-%d", len(c.Approvals)+1),
		CommitmentID: commitmentID,
		ActorKind:    repository.ActorAdmin,
		AdminID:      adminID,
		GroupName:    groupName,
		Comment:      comment,
		ApprovedAt:   time.Now(),
	}
	c.Approvals = append(c.Approvals, approval)

	groups := make(map[string]bool)
	for _, a := range c.Approvals {
		groups[a.GroupName] = true
	}
	if len(groups) >= 2 {
		c.ApprovalStatus = repository.ApprovalApproved
		now := time.Now()
		c.ApprovedAt = &now
	} else {
		c.ApprovalStatus = repository.ApprovalPending
	}
	return approval, c.ApprovalStatus, nil
}

func (s *fakeCommitmentStore) ReplaceAllocations(_ context.Context, commitmentID string, allocations []*repository.Allocation) error {
	c, ok := s.commitments[commitmentID]
	if !ok {
		return apperrors.NotFound("commitment", commitmentID)
	}
	if c.FundsReservedAt != nil {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"funds are already reserved for commitment %s", c.CommitmentNo)
	}
	for _, a := range allocations {
		a.CommitmentID = commitmentID
	}
	c.Allocations = allocations
	return nil
}

func (s *fakeCommitmentStore) ReserveAllocations(ctx context.Context, commitmentID string) ([]*repository.Allocation, error) {
	c, ok := s.commitments[commitmentID]
	if !ok {
		return nil, apperrors.NotFound("commitment", commitmentID)
	}
	if c.ApprovalStatus != repository.ApprovalApproved {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s is not approved", c.CommitmentNo)
	}
	if c.FundsReservedAt != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"funds are already reserved for commitment %s", c.CommitmentNo)
	}
	// mirror the transactional repository: nothing commits unless every
	// reservation fits
	for _, a := range c.Allocations {
		inv, ok := s.investors.investors[a.InvestorID]
		if !ok {
			return nil, apperrors.NotFound("investor", a.InvestorID)
		}
		if inv.UtilizedAmount+a.Amount > inv.CreditLimit {
			return nil, apperrors.Newf(apperrors.ErrCodeInsufficientCredit,
				"investor %s has insufficient credit: requested %d, remaining %d",
				inv.InvestorNo, a.Amount, inv.RemainingCredit())
		}
	}
	for _, a := range c.Allocations {
		if _, err := s.investors.Reserve(ctx, a.InvestorID, a.Amount); err != nil {
			return nil, err
		}
	}
	now := time.Now()
	c.FundsReservedAt = &now
	return c.Allocations, nil
}

// ── groups ────────────────────────────────────────────────────────────────────

type fakeGroupResolver struct {
	membership map[string]string // admin id -> group name
}

func (r *fakeGroupResolver) ResolveMemberGroup(_ context.Context, adminID string) (string, error) {
	group, ok := r.membership[adminID]
	if !ok {
		return "", apperrors.NotFound("group membership", adminID)
	}
	return group, nil
}

// ── settlements ───────────────────────────────────────────────────────────────

type fakeSettlementStore struct {
	settlements map[string]*repository.Settlement
	investors   *fakeInvestorStore
	commitments *fakeCommitmentStore
	nextNo      int
}

func newFakeSettlementStore(investors *fakeInvestorStore, commitments *fakeCommitmentStore) *fakeSettlementStore {
	return &fakeSettlementStore{
		settlements: make(map[string]*repository.Settlement),
		investors:   investors,
		commitments: commitments,
	}
}

func (s *fakeSettlementStore) CreateWithRelease(ctx context.Context, settlement *repository.Settlement) error {
	c, ok := s.commitments.commitments[settlement.CommitmentID]
	if !ok {
		return apperrors.NotFound("commitment", settlement.CommitmentID)
	}
	if c.SettledAt != nil {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s is already settled", c.CommitmentNo)
	}
	if c.FundsReservedAt == nil {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"funds were never reserved for commitment %s", c.CommitmentNo)
	}
	sale, ok := s.commitments.commitments[settlement.SaleCommitmentID]
	if !ok {
		return apperrors.NotFound("sale commitment", settlement.SaleCommitmentID)
	}
	if sale.Kind != repository.KindSale {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s is not a sale", sale.CommitmentNo)
	}
	if sale.ApprovalStatus != repository.ApprovalApproved {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"sale commitment %s is not approved", sale.CommitmentNo)
	}
	if sale.SettledAt != nil {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"sale commitment %s is already consumed by a settlement", sale.CommitmentNo)
	}
	for _, line := range settlement.Lines {
		if _, err := s.investors.Release(ctx, line.InvestorID, line.InvestmentAmount); err != nil {
			return err
		}
	}
	s.nextNo++
	settlement.ID = fmt.Sprintf("st-%d", s.nextNo)
	settlement.SettlementNo = fmt.Sprintf("ST-%06d", s.nextNo)
	now := time.Now()
	c.SettledAt = &now
	sale.SettledAt = &now
	s.settlements[settlement.ID] = settlement
	return nil
}

func (s *fakeSettlementStore) GetByID(_ context.Context, id string) (*repository.Settlement, error) {
	st, ok := s.settlements[id]
	if !ok {
		return nil, apperrors.NotFound("settlement", id)
	}
	return st, nil
}

func (s *fakeSettlementStore) GetByCommitmentID(_ context.Context, commitmentID string) (*repository.Settlement, error) {
	for _, st := range s.settlements {
		if st.CommitmentID == commitmentID {
			return st, nil
		}
	}
	return nil, apperrors.NotFound("settlement for commitment", commitmentID)
}
