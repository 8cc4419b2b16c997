package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/database"
)

const commitmentColumns = `
	id, commitment_no, kind, asset_description,
	total_amount, purchase_price, approval_status,
	approved_at, funds_reserved_at, settled_at,
	created_by, created_at, updated_at
`

// CommitmentRepository handles capital commitments, their funding allocations
// and their approval records.
type CommitmentRepository struct {
	db        *database.DB
	sequences *SequenceRepository
}

// NewCommitmentRepository creates a new CommitmentRepository.
func NewCommitmentRepository(db *database.DB, sequences *SequenceRepository) *CommitmentRepository {
	return &CommitmentRepository{db: db, sequences: sequences}
}

// Create inserts a new commitment in state not_submitted with a generated
// display id.
func (r *CommitmentRepository) Create(ctx context.Context, c *Commitment) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		commitmentNo, err := r.sequences.NextDisplayIDIn(ctx, tx, SeqCommitment)
		if err != nil {
			return err
		}
		c.CommitmentNo = commitmentNo
		c.ApprovalStatus = ApprovalNotSubmitted

		query := `
			INSERT INTO commitments (commitment_no, kind, asset_description, total_amount, purchase_price, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, approval_status, created_at, updated_at
		`

		err = tx.QueryRow(ctx, query,
			c.CommitmentNo,
			c.Kind,
			c.AssetDescription,
			c.TotalAmount,
			c.PurchasePrice,
			c.CreatedBy,
		).Scan(&c.ID, &c.ApprovalStatus, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create commitment")
		}
		return nil
	})
}

// GetByID retrieves a commitment with its allocations and approvals.
func (r *CommitmentRepository) GetByID(ctx context.Context, id string) (*Commitment, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("commitment", id)
	}
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE id = $1`

	c, err := scanCommitment(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("commitment", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get commitment")
	}

	if c.Allocations, err = r.GetAllocations(ctx, c.ID); err != nil {
		return nil, err
	}
	if c.Approvals, err = r.getApprovals(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// List retrieves commitments with optional kind/status filters.
func (r *CommitmentRepository) List(ctx context.Context, kind, status *string, limit, offset int) ([]*Commitment, int64, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM commitments WHERE 1=1`

	args := []any{}
	argCount := 1

	if kind != nil {
		clause := fmt.Sprintf(" AND kind = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *kind)
		argCount++
	}
	if status != nil {
		clause := fmt.Sprintf(" AND approval_status = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *status)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count commitments")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list commitments")
	}
	defer rows.Close()

	commitments := make([]*Commitment, 0)
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan commitment")
		}
		commitments = append(commitments, c)
	}
	return commitments, total, nil
}

// Submit moves a commitment from not_submitted to pending. The state check is
// part of the UPDATE.
func (r *CommitmentRepository) Submit(ctx context.Context, id string) error {
	if !validID(id) {
		return apperrors.NotFound("commitment", id)
	}
	query := `
		UPDATE commitments
		SET approval_status = $2,
		    updated_at      = NOW()
		WHERE id = $1 AND approval_status = $3
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, ApprovalPending, ApprovalNotSubmitted).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		c, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"commitment %s cannot be submitted from status '%s'", c.CommitmentNo, c.ApprovalStatus)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to submit commitment")
	}
	return nil
}

// AppendApproval records one admin's approval and advances the state machine.
// The commitment row is locked for the duration, so concurrent submissions
// serialize: the duplicate check, the append, and the distinct-group
// recomputation are one atomic unit.
func (r *CommitmentRepository) AppendApproval(ctx context.Context, commitmentID, adminID, groupName string, comment *string) (*Approval, string, error) {
	if !validID(commitmentID) {
		return nil, "", apperrors.NotFound("commitment", commitmentID)
	}
	var approval *Approval
	var newStatus string

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var status, commitmentNo string
		lockQuery := `
			SELECT approval_status, commitment_no
			FROM commitments
			WHERE id = $1
			FOR UPDATE
		`
		err := tx.QueryRow(ctx, lockQuery, commitmentID).Scan(&status, &commitmentNo)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("commitment", commitmentID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to lock commitment")
		}

		// Approved is terminal. A fresh commitment needs no explicit
		// submission: the first approval itself moves it to pending.
		if status == ApprovalApproved {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"commitment %s is already approved", commitmentNo)
		}

		var exists bool
		dupQuery := `
			SELECT EXISTS (
				SELECT 1 FROM commitment_approvals
				WHERE commitment_id = $1 AND admin_id = $2
			)
		`
		if err := tx.QueryRow(ctx, dupQuery, commitmentID, adminID).Scan(&exists); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check duplicate approval")
		}
		if exists {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"admin has already approved commitment %s", commitmentNo)
		}

		approval = &Approval{
			CommitmentID: commitmentID,
			ActorKind:    ActorAdmin,
			AdminID:      adminID,
			GroupName:    groupName,
			Comment:      comment,
		}
		insertQuery := `
			INSERT INTO commitment_approvals (commitment_id, actor_kind, admin_id, group_name, comment)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, approved_at
		`
		err = tx.QueryRow(ctx, insertQuery,
			approval.CommitmentID,
			approval.ActorKind,
			approval.AdminID,
			approval.GroupName,
			approval.Comment,
		).Scan(&approval.ID, &approval.ApprovedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record approval")
		}

		// One approver from each side, not any two: the state flips on the
		// count of distinct groups, never on the approvals count.
		var groupsCovered int
		coverQuery := `
			SELECT COUNT(DISTINCT group_name)
			FROM commitment_approvals
			WHERE commitment_id = $1
		`
		if err := tx.QueryRow(ctx, coverQuery, commitmentID).Scan(&groupsCovered); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to compute group coverage")
		}

		newStatus = ApprovalPending
		if groupsCovered >= 2 {
			newStatus = ApprovalApproved
		}

		statusQuery := `
			UPDATE commitments
			SET approval_status = $2,
			    approved_at     = CASE WHEN $2 = 'approved' THEN NOW() ELSE approved_at END,
			    updated_at      = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, statusQuery, commitmentID, newStatus); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update approval status")
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return approval, newStatus, nil
}

// ReplaceAllocations swaps the full allocation set for a commitment. Rejected
// once funds have been reserved.
func (r *CommitmentRepository) ReplaceAllocations(ctx context.Context, commitmentID string, allocations []*Allocation) error {
	if !validID(commitmentID) {
		return apperrors.NotFound("commitment", commitmentID)
	}
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var commitmentNo string
		var reserved bool
		lockQuery := `
			SELECT commitment_no, funds_reserved_at IS NOT NULL
			FROM commitments
			WHERE id = $1
			FOR UPDATE
		`
		err := tx.QueryRow(ctx, lockQuery, commitmentID).Scan(&commitmentNo, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("commitment", commitmentID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to lock commitment")
		}
		if reserved {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"allocations of commitment %s are frozen after funds were reserved", commitmentNo)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM commitment_allocations WHERE commitment_id = $1`, commitmentID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to clear allocations")
		}

		insertQuery := `
			INSERT INTO commitment_allocations (commitment_id, investor_id, amount, percentage)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`
		for _, a := range allocations {
			a.CommitmentID = commitmentID
			err := tx.QueryRow(ctx, insertQuery, a.CommitmentID, a.InvestorID, a.Amount, a.Percentage).
				Scan(&a.ID, &a.CreatedAt)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record allocation")
			}
		}
		return nil
	})
}

// ReserveAllocations commits the capital of every allocation in a single
// transaction once the commitment is approved. Either every investor's
// reserve succeeds or none apply.
func (r *CommitmentRepository) ReserveAllocations(ctx context.Context, commitmentID string) ([]*Allocation, error) {
	if !validID(commitmentID) {
		return nil, apperrors.NotFound("commitment", commitmentID)
	}
	var allocations []*Allocation

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var commitmentNo, status string
		var reserved bool
		lockQuery := `
			SELECT commitment_no, approval_status, funds_reserved_at IS NOT NULL
			FROM commitments
			WHERE id = $1
			FOR UPDATE
		`
		err := tx.QueryRow(ctx, lockQuery, commitmentID).Scan(&commitmentNo, &status, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("commitment", commitmentID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to lock commitment")
		}
		if status != ApprovalApproved {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"commitment %s is not approved (status: %s)", commitmentNo, status)
		}
		if reserved {
			return apperrors.Newf(apperrors.ErrCodeConflict,
				"funds for commitment %s are already reserved", commitmentNo)
		}

		allocations, err = getAllocations(ctx, tx, commitmentID)
		if err != nil {
			return err
		}
		if len(allocations) == 0 {
			return apperrors.Newf(apperrors.ErrCodeValidation,
				"commitment %s has no recorded allocations", commitmentNo)
		}

		// Deterministic order avoids deadlocks between concurrent
		// multi-investor transactions.
		sort.Slice(allocations, func(i, j int) bool {
			return allocations[i].InvestorID < allocations[j].InvestorID
		})

		for _, a := range allocations {
			if _, err := reserveFunds(ctx, tx, a.InvestorID, a.Amount); err != nil {
				return err
			}
		}

		markQuery := `
			UPDATE commitments
			SET funds_reserved_at = NOW(),
			    updated_at        = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, markQuery, commitmentID); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark funds reserved")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

// GetAllocations returns the allocation split for a commitment.
func (r *CommitmentRepository) GetAllocations(ctx context.Context, commitmentID string) ([]*Allocation, error) {
	return getAllocations(ctx, r.db, commitmentID)
}

type allocationQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getAllocations(ctx context.Context, q allocationQuerier, commitmentID string) ([]*Allocation, error) {
	query := `
		SELECT id, commitment_id, investor_id, amount, percentage, created_at
		FROM commitment_allocations
		WHERE commitment_id = $1
		ORDER BY percentage DESC, investor_id ASC
	`

	rows, err := q.Query(ctx, query, commitmentID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get allocations")
	}
	defer rows.Close()

	allocations := make([]*Allocation, 0)
	for rows.Next() {
		a := &Allocation{}
		err := rows.Scan(&a.ID, &a.CommitmentID, &a.InvestorID, &a.Amount, &a.Percentage, &a.CreatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan allocation")
		}
		allocations = append(allocations, a)
	}
	return allocations, nil
}

func (r *CommitmentRepository) getApprovals(ctx context.Context, commitmentID string) ([]*Approval, error) {
	query := `
		SELECT id, commitment_id, actor_kind, admin_id, group_name, comment, approved_at
		FROM commitment_approvals
		WHERE commitment_id = $1
		ORDER BY approved_at ASC
	`

	rows, err := r.db.Query(ctx, query, commitmentID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get approvals")
	}
	defer rows.Close()

	approvals := make([]*Approval, 0)
	for rows.Next() {
		a := &Approval{}
		err := rows.Scan(&a.ID, &a.CommitmentID, &a.ActorKind, &a.AdminID, &a.GroupName, &a.Comment, &a.ApprovedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type commitmentScanner interface {
	Scan(dest ...any) error
}

func scanCommitment(row commitmentScanner) (*Commitment, error) {
	c := &Commitment{}
	err := row.Scan(
		&c.ID,
		&c.CommitmentNo,
		&c.Kind,
		&c.AssetDescription,
		&c.TotalAmount,
		&c.PurchasePrice,
		&c.ApprovalStatus,
		&c.ApprovedAt,
		&c.FundsReservedAt,
		&c.SettledAt,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
