package service

import (
	"context"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// CommitmentService manages the lifecycle of capital commitments up to the
// point where the approval and ledger machinery takes over.
type CommitmentService struct {
	commitments CommitmentStore
	audit       *AuditService
	log         *logger.Logger
}

// NewCommitmentService creates a new CommitmentService.
func NewCommitmentService(commitments CommitmentStore, audit *AuditService, log *logger.Logger) *CommitmentService {
	return &CommitmentService{commitments: commitments, audit: audit, log: log}
}

// CreateCommitmentRequest describes a new capital-committing action.
// Amounts are AED fils.
type CreateCommitmentRequest struct {
	Kind             string  `json:"kind"`
	AssetDescription *string `json:"asset_description,omitempty"`
	TotalAmount      int64   `json:"total_amount"`
	PurchasePrice    int64   `json:"purchase_price"`
	Actor            Actor   `json:"actor"`
}

// Create validates and persists a new commitment in state not_submitted.
func (s *CommitmentService) Create(ctx context.Context, req *CreateCommitmentRequest) (*repository.Commitment, error) {
	if req.Kind != repository.KindPurchase && req.Kind != repository.KindSale {
		return nil, apperrors.InvalidInput("kind", "must be 'purchase' or 'sale'")
	}
	if req.TotalAmount <= 0 {
		return nil, apperrors.InvalidInput("total_amount", "must be positive")
	}
	if req.PurchasePrice < 0 {
		return nil, apperrors.InvalidInput("purchase_price", "cannot be negative")
	}

	c := &repository.Commitment{
		Kind:             req.Kind,
		AssetDescription: req.AssetDescription,
		TotalAmount:      req.TotalAmount,
		PurchasePrice:    req.PurchasePrice,
	}
	// A purchase funded without a separately stated vehicle price is priced
	// at its total funding.
	if c.Kind == repository.KindPurchase && c.PurchasePrice == 0 {
		c.PurchasePrice = c.TotalAmount
	}
	if req.Actor.ID != "" {
		c.CreatedBy = &req.Actor.ID
	}

	if err := s.commitments.Create(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("commitment_id", c.ID).
		Str("commitment_no", c.CommitmentNo).
		Str("kind", c.Kind).
		Int64("total_amount", c.TotalAmount).
		Msg("Commitment created")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryCommitment,
		Action:       "commitment_created",
		ActorKind:    req.Actor.Kind,
		ActorID:      req.Actor.ID,
		TargetEntity: c.ID,
		Metadata: map[string]any{
			"commitment_no": c.CommitmentNo,
			"kind":          c.Kind,
			"total_amount":  c.TotalAmount,
		},
	})
	return c, nil
}

// Get retrieves a commitment with allocations and approvals.
func (s *CommitmentService) Get(ctx context.Context, id string) (*repository.Commitment, error) {
	return s.commitments.GetByID(ctx, id)
}

// List retrieves commitments with optional filters.
func (s *CommitmentService) List(ctx context.Context, kind, status *string, page, pageSize int) ([]*repository.Commitment, int64, error) {
	offset := (page - 1) * pageSize
	return s.commitments.List(ctx, kind, status, pageSize, offset)
}
