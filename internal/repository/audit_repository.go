package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/database"
)

// AuditRepository appends and reads immutable audit log entries. The table
// has an update/delete-rejection trigger, so Append is the only mutation.
type AuditRepository struct {
	db        *database.DB
	sequences *SequenceRepository
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB, sequences *SequenceRepository) *AuditRepository {
	return &AuditRepository{db: db, sequences: sequences}
}

// AuditFilter narrows List results.
type AuditFilter struct {
	Category     *string
	Severity     *string
	TargetEntity *string
	Limit        int
}

// Append inserts one audit entry. The sequence id comes from the audit
// counter, so ids are strictly increasing even under concurrent writers.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		seq, err := r.sequences.NextIn(ctx, tx, SeqAudit)
		if err != nil {
			return err
		}
		entry.SequenceID = seq

		query := `
			INSERT INTO audit_log
			    (sequence_id, category, action,
			     actor_kind, actor_id, target_entity,
			     metadata, severity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`

		err = tx.QueryRow(ctx, query,
			entry.SequenceID,
			entry.Category,
			entry.Action,
			entry.ActorKind,
			entry.ActorID,
			entry.TargetEntity,
			metadataJSON,
			entry.Severity,
		).Scan(&entry.CreatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append audit entry")
		}
		return nil
	})
}

// List returns entries in sequence order, oldest first.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	query := `
		SELECT sequence_id, category, action,
		       actor_kind, actor_id, target_entity,
		       metadata, severity, created_at
		FROM audit_log
		WHERE 1=1
	`

	args := []any{}
	argCount := 1

	if filter.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argCount)
		args = append(args, *filter.Category)
		argCount++
	}
	if filter.Severity != nil {
		query += fmt.Sprintf(" AND severity = $%d", argCount)
		args = append(args, *filter.Severity)
		argCount++
	}
	if filter.TargetEntity != nil {
		query += fmt.Sprintf(" AND target_entity = $%d", argCount)
		args = append(args, *filter.TargetEntity)
		argCount++
	}

	query += " ORDER BY sequence_id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type auditScanner interface {
	Scan(dest ...any) error
}

func scanAuditEntry(sc auditScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.SequenceID,
		&entry.Category,
		&entry.Action,
		&entry.ActorKind,
		&entry.ActorID,
		&entry.TargetEntity,
		&metadataJSON,
		&entry.Severity,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}
	return entry, nil
}
