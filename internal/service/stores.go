package service

import (
	"context"

	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// Store interfaces are defined here, on the consumer side, so services can be
// exercised against in-memory fakes. The concrete implementations live in
// internal/repository.

// Actor identifies who performed an operation.
type Actor struct {
	Kind repository.ActorKind `json:"actor_kind"`
	ID   string               `json:"actor_id"`
}

// AdminDirectory resolves admin ids referenced by group membership.
type AdminDirectory interface {
	Create(ctx context.Context, admin *repository.Admin) error
	GetByID(ctx context.Context, id string) (*repository.Admin, error)
	List(ctx context.Context) ([]*repository.Admin, error)
	MissingIDs(ctx context.Context, ids []string) ([]string, error)
}

// GroupStore persists the approval-group pair.
type GroupStore interface {
	Count(ctx context.Context) (int, error)
	CreateDefaults(ctx context.Context) error
	GetGroups(ctx context.Context) ([]*repository.ApprovalGroup, error)
	ReplaceGroups(ctx context.Context, groups [2]*repository.ApprovalGroup) error
	ResolveMemberGroup(ctx context.Context, adminID string) (string, error)
}

// InvestorStore persists investors and their credit ledger.
type InvestorStore interface {
	Create(ctx context.Context, investor *repository.Investor) error
	GetByID(ctx context.Context, id string) (*repository.Investor, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*repository.Investor, error)
	List(ctx context.Context, status *string) ([]*repository.Investor, error)
	UpdateCreditLimit(ctx context.Context, id string, newLimit int64) (*repository.Investor, error)
	Reserve(ctx context.Context, investorID string, amount int64) (*repository.Investor, error)
	Release(ctx context.Context, investorID string, amount int64) (*repository.Investor, error)
	Delete(ctx context.Context, id string) error
}

// CommitmentStore persists commitments, allocations and approvals.
type CommitmentStore interface {
	Create(ctx context.Context, c *repository.Commitment) error
	GetByID(ctx context.Context, id string) (*repository.Commitment, error)
	List(ctx context.Context, kind, status *string, limit, offset int) ([]*repository.Commitment, int64, error)
	Submit(ctx context.Context, id string) error
	AppendApproval(ctx context.Context, commitmentID, adminID, groupName string, comment *string) (*repository.Approval, string, error)
	ReplaceAllocations(ctx context.Context, commitmentID string, allocations []*repository.Allocation) error
	ReserveAllocations(ctx context.Context, commitmentID string) ([]*repository.Allocation, error)
}

// SettlementStore persists immutable settlement breakdowns.
type SettlementStore interface {
	CreateWithRelease(ctx context.Context, s *repository.Settlement) error
	GetByID(ctx context.Context, id string) (*repository.Settlement, error)
	GetByCommitmentID(ctx context.Context, commitmentID string) (*repository.Settlement, error)
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	List(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditEntry, error)
}

// EventPublisher emits best-effort events for the notification and audit-sink
// collaborators. Implementations never return errors to the caller.
type EventPublisher interface {
	PublishCapitalEvent(ctx context.Context, eventType, targetEntity, actorKind, actorID string, payload map[string]any)
}
