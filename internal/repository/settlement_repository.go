package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/database"
)

// SettlementRepository persists immutable settlement breakdowns. Writing a
// breakdown and releasing the invested capital happen in one transaction.
type SettlementRepository struct {
	db        *database.DB
	sequences *SequenceRepository
}

// NewSettlementRepository creates a new SettlementRepository.
func NewSettlementRepository(db *database.DB, sequences *SequenceRepository) *SettlementRepository {
	return &SettlementRepository{db: db, sequences: sequences}
}

// lockedCommitment is the slice of commitment state the settlement
// transaction decides on.
type lockedCommitment struct {
	commitmentNo string
	kind         string
	status       string
	reserved     bool
	settled      bool
}

// CreateWithRelease persists the settlement with its lines, releases each
// investor's invested capital, and marks both the purchase and the sale
// commitment settled. No release happens unless the whole breakdown commits.
func (r *SettlementRepository) CreateWithRelease(ctx context.Context, s *Settlement) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// Both rows lock in one ordered statement so concurrent settlements
		// cannot deadlock on each other.
		lockQuery := `
			SELECT id, commitment_no, kind, approval_status,
			       funds_reserved_at IS NOT NULL, settled_at IS NOT NULL
			FROM commitments
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`
		rows, err := tx.Query(ctx, lockQuery, []string{s.CommitmentID, s.SaleCommitmentID})
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to lock commitments")
		}
		locked := make(map[string]*lockedCommitment, 2)
		for rows.Next() {
			var id string
			c := &lockedCommitment{}
			if err := rows.Scan(&id, &c.commitmentNo, &c.kind, &c.status, &c.reserved, &c.settled); err != nil {
				rows.Close()
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan commitment")
			}
			locked[id] = c
		}
		rows.Close()

		purchase, ok := locked[s.CommitmentID]
		if !ok {
			return apperrors.NotFound("commitment", s.CommitmentID)
		}
		sale, ok := locked[s.SaleCommitmentID]
		if !ok {
			return apperrors.NotFound("sale commitment", s.SaleCommitmentID)
		}

		if purchase.settled {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"commitment %s is already settled", purchase.commitmentNo)
		}
		if !purchase.reserved {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"commitment %s has no reserved funds to settle", purchase.commitmentNo)
		}
		if sale.kind != KindSale {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"commitment %s is not a sale", sale.commitmentNo)
		}
		if sale.status != ApprovalApproved {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"sale commitment %s is not approved", sale.commitmentNo)
		}
		if sale.settled {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"sale commitment %s is already consumed by a settlement", sale.commitmentNo)
		}

		settlementNo, err := r.sequences.NextDisplayIDIn(ctx, tx, SeqSettlement)
		if err != nil {
			return err
		}
		s.SettlementNo = settlementNo

		insertQuery := `
			INSERT INTO settlements (settlement_no, commitment_id, sale_commitment_id, selling_price, purchase_price, total_profit, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at
		`
		err = tx.QueryRow(ctx, insertQuery,
			s.SettlementNo,
			s.CommitmentID,
			s.SaleCommitmentID,
			s.SellingPrice,
			s.PurchasePrice,
			s.TotalProfit,
			s.CreatedBy,
		).Scan(&s.ID, &s.CreatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create settlement")
		}

		lineQuery := `
			INSERT INTO settlement_lines
			    (settlement_id, investor_id,
			     investment_amount, investment_percentage,
			     profit_amount, profit_percentage, total_payout)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`
		for _, line := range s.Lines {
			line.SettlementID = s.ID
			err := tx.QueryRow(ctx, lineQuery,
				line.SettlementID,
				line.InvestorID,
				line.InvestmentAmount,
				line.InvestmentPercentage,
				line.ProfitAmount,
				line.ProfitPercentage,
				line.TotalPayout,
			).Scan(&line.ID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create settlement line")
			}
		}

		// Capital returns to available credit regardless of profit or loss.
		// Deterministic ordering matches ReserveAllocations.
		lines := make([]*SettlementLine, len(s.Lines))
		copy(lines, s.Lines)
		sort.Slice(lines, func(i, j int) bool {
			return lines[i].InvestorID < lines[j].InvestorID
		})
		for _, line := range lines {
			if _, err := releaseFunds(ctx, tx, line.InvestorID, line.InvestmentAmount); err != nil {
				return err
			}
		}

		markQuery := `
			UPDATE commitments
			SET settled_at = NOW(),
			    updated_at = NOW()
			WHERE id = ANY($1)
		`
		if _, err := tx.Exec(ctx, markQuery, []string{s.CommitmentID, s.SaleCommitmentID}); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark commitments settled")
		}
		return nil
	})
}

// GetByID retrieves a settlement with its lines.
func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*Settlement, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("settlement", id)
	}
	query := `
		SELECT id, settlement_no, commitment_id, sale_commitment_id,
		       selling_price, purchase_price, total_profit,
		       created_by, created_at
		FROM settlements
		WHERE id = $1
	`

	s := &Settlement{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.SettlementNo,
		&s.CommitmentID,
		&s.SaleCommitmentID,
		&s.SellingPrice,
		&s.PurchasePrice,
		&s.TotalProfit,
		&s.CreatedBy,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("settlement", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get settlement")
	}

	if s.Lines, err = r.getLines(ctx, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByCommitmentID retrieves the settlement for a commitment, if any.
func (r *SettlementRepository) GetByCommitmentID(ctx context.Context, commitmentID string) (*Settlement, error) {
	if !validID(commitmentID) {
		return nil, apperrors.NotFound("settlement for commitment", commitmentID)
	}
	query := `SELECT id FROM settlements WHERE commitment_id = $1`

	var id string
	err := r.db.QueryRow(ctx, query, commitmentID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("settlement for commitment", commitmentID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get settlement")
	}
	return r.GetByID(ctx, id)
}

func (r *SettlementRepository) getLines(ctx context.Context, settlementID string) ([]*SettlementLine, error) {
	query := `
		SELECT id, settlement_id, investor_id,
		       investment_amount, investment_percentage,
		       profit_amount, profit_percentage, total_payout
		FROM settlement_lines
		WHERE settlement_id = $1
		ORDER BY investment_amount DESC, investor_id ASC
	`

	rows, err := r.db.Query(ctx, query, settlementID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get settlement lines")
	}
	defer rows.Close()

	lines := make([]*SettlementLine, 0)
	for rows.Next() {
		line := &SettlementLine{}
		err := rows.Scan(
			&line.ID,
			&line.SettlementID,
			&line.InvestorID,
			&line.InvestmentAmount,
			&line.InvestmentPercentage,
			&line.ProfitAmount,
			&line.ProfitPercentage,
			&line.TotalPayout,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan settlement line")
		}
		lines = append(lines, line)
	}
	return lines, nil
}
