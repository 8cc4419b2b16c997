package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/database"
)

// Entity types with dedicated counters.
const (
	SeqInvestor   = "investor"
	SeqCommitment = "commitment"
	SeqSettlement = "settlement"
	SeqAudit      = "audit"
)

// idFormat maps an entity type to its display-id prefix and zero-padded width.
var idFormats = map[string]struct {
	prefix string
	width  int
}{
	SeqInvestor:   {"INV", 6},
	SeqCommitment: {"CM", 6},
	SeqSettlement: {"ST", 6},
}

// SequenceRepository hands out strictly increasing ids per entity type. The
// increment is a single upsert statement, so concurrent callers can never
// observe the same value.
type SequenceRepository struct {
	db *database.DB
}

// NewSequenceRepository creates a new SequenceRepository.
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

const nextValueQuery = `
	INSERT INTO sequence_counters (entity_type, current_value)
	VALUES ($1, 1)
	ON CONFLICT (entity_type)
	DO UPDATE SET current_value = sequence_counters.current_value + 1
	RETURNING current_value
`

// Next returns the next counter value for an entity type.
func (r *SequenceRepository) Next(ctx context.Context, entityType string) (int64, error) {
	var value int64
	err := r.db.QueryRow(ctx, nextValueQuery, entityType).Scan(&value)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to advance sequence counter")
	}
	return value, nil
}

// NextIn is Next executed on an existing transaction.
func (r *SequenceRepository) NextIn(ctx context.Context, tx pgx.Tx, entityType string) (int64, error) {
	var value int64
	err := tx.QueryRow(ctx, nextValueQuery, entityType).Scan(&value)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to advance sequence counter")
	}
	return value, nil
}

// NextDisplayID returns the next formatted display id for an entity type,
// e.g. CM-000042.
func (r *SequenceRepository) NextDisplayID(ctx context.Context, entityType string) (string, error) {
	value, err := r.Next(ctx, entityType)
	if err != nil {
		return "", err
	}
	return FormatDisplayID(entityType, value)
}

// NextDisplayIDIn is NextDisplayID executed on an existing transaction.
func (r *SequenceRepository) NextDisplayIDIn(ctx context.Context, tx pgx.Tx, entityType string) (string, error) {
	value, err := r.NextIn(ctx, tx, entityType)
	if err != nil {
		return "", err
	}
	return FormatDisplayID(entityType, value)
}

// FormatDisplayID renders a counter value as prefix + zero-padded decimal.
func FormatDisplayID(entityType string, value int64) (string, error) {
	f, ok := idFormats[entityType]
	if !ok {
		return "", apperrors.Newf(apperrors.ErrCodeInternal, "no display id format for entity type '%s'", entityType)
	}
	return fmt.Sprintf("%s-%0*d", f.prefix, f.width, value), nil
}
