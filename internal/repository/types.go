package repository

import (
	"time"

	"github.com/google/uuid"
)

// validID reports whether s can be a primary key. Malformed ids are treated
// as not-found up front rather than surfacing as Postgres cast errors.
func validID(s string) bool {
	return uuid.Validate(s) == nil
}

// ── Actor tagging ─────────────────────────────────────────────────────────────

// ActorKind tags who performed an action. Lookups switch on the kind
// explicitly instead of resolving a reference by collection.
type ActorKind string

const (
	ActorAdmin    ActorKind = "admin"
	ActorManager  ActorKind = "manager"
	ActorInvestor ActorKind = "investor"
)

// ── Approval state machine ────────────────────────────────────────────────────

const (
	ApprovalNotSubmitted = "not_submitted"
	ApprovalPending      = "pending"
	ApprovalApproved     = "approved"
)

// Commitment kinds.
const (
	KindPurchase = "purchase"
	KindSale     = "sale"
)

// Audit severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ── Domain types ──────────────────────────────────────────────────────────────

// Admin is a back-office user who can belong to one approval group.
type Admin struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Investor is a capital provider with a committed credit limit. Amounts are
// AED fils (minor units). utilized_amount never exceeds credit_limit.
type Investor struct {
	ID             string    `json:"id"`
	InvestorNo     string    `json:"investor_no"`
	Name           string    `json:"name"`
	CreditLimit    int64     `json:"credit_limit"`
	UtilizedAmount int64     `json:"utilized_amount"`
	DecidedPctMin  *float64  `json:"decided_pct_min,omitempty"`
	DecidedPctMax  *float64  `json:"decided_pct_max,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RemainingCredit is the capital an investor can still deploy.
func (i *Investor) RemainingCredit() int64 {
	return i.CreditLimit - i.UtilizedAmount
}

// GroupMember is one admin inside an approval group.
type GroupMember struct {
	AdminID string    `json:"admin_id"`
	AddedAt time.Time `json:"added_at"`
}

// ApprovalGroup is one of exactly two disjoint approver pools.
type ApprovalGroup struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Position  int           `json:"position"`
	Members   []GroupMember `json:"members"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Allocation is one investor's share of a commitment's funding.
type Allocation struct {
	ID           string    `json:"id"`
	CommitmentID string    `json:"commitment_id"`
	InvestorID   string    `json:"investor_id"`
	Amount       int64     `json:"amount"`
	Percentage   float64   `json:"percentage"`
	CreatedAt    time.Time `json:"created_at"`
}

// Approval is one admin's recorded approval on a commitment.
type Approval struct {
	ID           string    `json:"id"`
	CommitmentID string    `json:"commitment_id"`
	ActorKind    ActorKind `json:"actor_kind"`
	AdminID      string    `json:"admin_id"`
	GroupName    string    `json:"group_name"`
	Comment      *string   `json:"comment,omitempty"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// Commitment is a capital-committing action (a purchase being funded or a
// sale being finalized) gated by dual-group approval.
type Commitment struct {
	ID               string        `json:"id"`
	CommitmentNo     string        `json:"commitment_no"`
	Kind             string        `json:"kind"`
	AssetDescription *string       `json:"asset_description,omitempty"`
	TotalAmount      int64         `json:"total_amount"`
	PurchasePrice    int64         `json:"purchase_price"`
	ApprovalStatus   string        `json:"approval_status"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	FundsReservedAt  *time.Time    `json:"funds_reserved_at,omitempty"`
	SettledAt        *time.Time    `json:"settled_at,omitempty"`
	CreatedBy        *string       `json:"created_by,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Allocations      []*Allocation `json:"allocations"`
	Approvals        []*Approval   `json:"approvals"`
}

// SettlementLine is one investor's payout within a settlement.
type SettlementLine struct {
	ID                   string  `json:"id"`
	SettlementID         string  `json:"settlement_id"`
	InvestorID           string  `json:"investor_id"`
	InvestmentAmount     int64   `json:"investment_amount"`
	InvestmentPercentage float64 `json:"investment_percentage"`
	ProfitAmount         int64   `json:"profit_amount"`
	ProfitPercentage     float64 `json:"profit_percentage"`
	TotalPayout          int64   `json:"total_payout"`
}

// Settlement records the profit distribution for a sold asset. Immutable once
// written.
type Settlement struct {
	ID               string            `json:"id"`
	SettlementNo     string            `json:"settlement_no"`
	CommitmentID     string            `json:"commitment_id"`
	SaleCommitmentID string            `json:"sale_commitment_id"`
	SellingPrice     int64             `json:"selling_price"`
	PurchasePrice    int64             `json:"purchase_price"`
	TotalProfit      int64             `json:"total_profit"`
	CreatedBy        *string           `json:"created_by,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	Lines            []*SettlementLine `json:"lines"`
}

// AuditEntry is one immutable record in the audit log.
type AuditEntry struct {
	SequenceID   int64          `json:"sequence_id"`
	Category     string         `json:"category"`
	Action       string         `json:"action"`
	ActorKind    ActorKind      `json:"actor_kind"`
	ActorID      string         `json:"actor_id"`
	TargetEntity string         `json:"target_entity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Severity     string         `json:"severity"`
	CreatedAt    time.Time      `json:"created_at"`
}
