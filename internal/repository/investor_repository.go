package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/database"
)

// querier is satisfied by both *database.DB and pgx.Tx, so the conditional
// reserve/release statements can run standalone or inside a larger
// transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// releaseDriftEpsilon is the maximum over-release (in fils) attributed to
// external rounding drift and clamped to zero. Anything larger is a contract
// violation.
const releaseDriftEpsilon = 1

// InvestorRepository handles investor and credit-ledger data operations.
type InvestorRepository struct {
	db        *database.DB
	sequences *SequenceRepository
}

// NewInvestorRepository creates a new InvestorRepository.
func NewInvestorRepository(db *database.DB, sequences *SequenceRepository) *InvestorRepository {
	return &InvestorRepository{db: db, sequences: sequences}
}

// Create inserts a new investor with a generated display id.
func (r *InvestorRepository) Create(ctx context.Context, investor *Investor) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		investorNo, err := r.sequences.NextDisplayIDIn(ctx, tx, SeqInvestor)
		if err != nil {
			return err
		}
		investor.InvestorNo = investorNo

		query := `
			INSERT INTO investors (investor_no, name, credit_limit, decided_pct_min, decided_pct_max, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, utilized_amount, created_at, updated_at
		`

		err = tx.QueryRow(ctx, query,
			investor.InvestorNo,
			investor.Name,
			investor.CreditLimit,
			investor.DecidedPctMin,
			investor.DecidedPctMax,
			investor.Status,
		).Scan(&investor.ID, &investor.UtilizedAmount, &investor.CreatedAt, &investor.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create investor")
		}
		return nil
	})
}

// GetByID retrieves an investor by primary key.
func (r *InvestorRepository) GetByID(ctx context.Context, id string) (*Investor, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("investor", id)
	}
	query := `
		SELECT id, investor_no, name, credit_limit, utilized_amount,
		       decided_pct_min, decided_pct_max, status,
		       created_at, updated_at
		FROM investors
		WHERE id = $1
	`

	investor, err := scanInvestor(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("investor", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get investor")
	}
	return investor, nil
}

// GetByIDs retrieves multiple investors keyed by id. Malformed ids are
// skipped, so they simply come back absent.
func (r *InvestorRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*Investor, error) {
	wellFormed := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			wellFormed = append(wellFormed, id)
		}
	}

	query := `
		SELECT id, investor_no, name, credit_limit, utilized_amount,
		       decided_pct_min, decided_pct_max, status,
		       created_at, updated_at
		FROM investors
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, wellFormed)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get investors")
	}
	defer rows.Close()

	investors := make(map[string]*Investor, len(ids))
	for rows.Next() {
		investor, err := scanInvestor(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan investor")
		}
		investors[investor.ID] = investor
	}
	return investors, nil
}

// List returns investors, optionally filtered by status.
func (r *InvestorRepository) List(ctx context.Context, status *string) ([]*Investor, error) {
	query := `
		SELECT id, investor_no, name, credit_limit, utilized_amount,
		       decided_pct_min, decided_pct_max, status,
		       created_at, updated_at
		FROM investors
	`
	args := []any{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY investor_no ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list investors")
	}
	defer rows.Close()

	investors := make([]*Investor, 0)
	for rows.Next() {
		investor, err := scanInvestor(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan investor")
		}
		investors = append(investors, investor)
	}
	return investors, nil
}

// UpdateCreditLimit changes an investor's credit limit. The new limit must
// cover the currently utilized amount; the check and the write are a single
// conditional statement.
func (r *InvestorRepository) UpdateCreditLimit(ctx context.Context, id string, newLimit int64) (*Investor, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("investor", id)
	}
	query := `
		UPDATE investors
		SET credit_limit = $2,
		    updated_at   = NOW()
		WHERE id = $1 AND utilized_amount <= $2
		RETURNING id, investor_no, name, credit_limit, utilized_amount,
		          decided_pct_min, decided_pct_max, status,
		          created_at, updated_at
	`

	investor, err := scanInvestor(r.db.QueryRow(ctx, query, id, newLimit))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing investor from a limit below utilization.
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"credit limit %d is below utilized amount %d", newLimit, current.UtilizedAmount)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update credit limit")
	}
	return investor, nil
}

// Reserve atomically commits capital against an investor's credit line.
// The capacity check and the increment are a single conditional UPDATE, so
// two concurrent reserves can never overcommit past the limit.
func (r *InvestorRepository) Reserve(ctx context.Context, investorID string, amount int64) (*Investor, error) {
	return reserveFunds(ctx, r.db, investorID, amount)
}

// Release atomically returns capital to an investor's available credit.
func (r *InvestorRepository) Release(ctx context.Context, investorID string, amount int64) (*Investor, error) {
	return releaseFunds(ctx, r.db, investorID, amount)
}

// Delete removes an investor. Investors with deployed capital cannot be
// deleted; the guard is part of the DELETE statement.
func (r *InvestorRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return apperrors.NotFound("investor", id)
	}
	query := `DELETE FROM investors WHERE id = $1 AND utilized_amount = 0`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete investor")
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return apperrors.New(apperrors.ErrCodeConflict,
			"cannot delete investor with deployed capital")
	}
	return nil
}

// ── shared conditional updates ────────────────────────────────────────────────

func reserveFunds(ctx context.Context, q querier, investorID string, amount int64) (*Investor, error) {
	if !validID(investorID) {
		return nil, apperrors.NotFound("investor", investorID)
	}
	query := `
		UPDATE investors
		SET utilized_amount = utilized_amount + $2,
		    updated_at      = NOW()
		WHERE id = $1 AND utilized_amount + $2 <= credit_limit
		RETURNING id, investor_no, name, credit_limit, utilized_amount,
		          decided_pct_min, decided_pct_max, status,
		          created_at, updated_at
	`

	investor, err := scanInvestor(q.QueryRow(ctx, query, investorID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		current, lookupErr := lookupInvestor(ctx, q, investorID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientCredit,
			"reserve of %d exceeds remaining credit %d for investor %s",
			amount, current.RemainingCredit(), current.InvestorNo)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to reserve capital")
	}
	return investor, nil
}

func releaseFunds(ctx context.Context, q querier, investorID string, amount int64) (*Investor, error) {
	if !validID(investorID) {
		return nil, apperrors.NotFound("investor", investorID)
	}
	query := `
		UPDATE investors
		SET utilized_amount = utilized_amount - $2,
		    updated_at      = NOW()
		WHERE id = $1 AND utilized_amount >= $2
		RETURNING id, investor_no, name, credit_limit, utilized_amount,
		          decided_pct_min, decided_pct_max, status,
		          created_at, updated_at
	`

	investor, err := scanInvestor(q.QueryRow(ctx, query, investorID, amount))
	if errors.Is(err, pgx.ErrNoRows) {
		// Releasing more than is utilized is a contract violation; only
		// sub-epsilon drift is clamped to zero. The clamp check and write
		// are one conditional statement so a concurrent reserve cannot
		// slip between them.
		clampQuery := `
			UPDATE investors
			SET utilized_amount = 0,
			    updated_at      = NOW()
			WHERE id = $1 AND utilized_amount < $2 AND $2 - utilized_amount <= $3
			RETURNING id, investor_no, name, credit_limit, utilized_amount,
			          decided_pct_min, decided_pct_max, status,
			          created_at, updated_at
		`
		investor, err = scanInvestor(q.QueryRow(ctx, clampQuery, investorID, amount, releaseDriftEpsilon))
		if errors.Is(err, pgx.ErrNoRows) {
			current, lookupErr := lookupInvestor(ctx, q, investorID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return nil, apperrors.Newf(apperrors.ErrCodeInvariantViolation,
				"release of %d exceeds utilized amount %d for investor %s",
				amount, current.UtilizedAmount, current.InvestorNo)
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to clamp utilized amount")
		}
		return investor, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to release capital")
	}
	return investor, nil
}

func lookupInvestor(ctx context.Context, q querier, id string) (*Investor, error) {
	query := `
		SELECT id, investor_no, name, credit_limit, utilized_amount,
		       decided_pct_min, decided_pct_max, status,
		       created_at, updated_at
		FROM investors
		WHERE id = $1
	`

	investor, err := scanInvestor(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("investor", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get investor")
	}
	return investor, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type investorScanner interface {
	Scan(dest ...any) error
}

func scanInvestor(row investorScanner) (*Investor, error) {
	investor := &Investor{}
	err := row.Scan(
		&investor.ID,
		&investor.InvestorNo,
		&investor.Name,
		&investor.CreditLimit,
		&investor.UtilizedAmount,
		&investor.DecidedPctMin,
		&investor.DecidedPctMax,
		&investor.Status,
		&investor.CreatedAt,
		&investor.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return investor, nil
}
