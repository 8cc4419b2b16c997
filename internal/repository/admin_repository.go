package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/database"
)

// AdminRepository handles admin directory operations.
type AdminRepository struct {
	db *database.DB
}

// NewAdminRepository creates a new AdminRepository.
func NewAdminRepository(db *database.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// Create inserts a new admin.
func (r *AdminRepository) Create(ctx context.Context, admin *Admin) error {
	query := `
		INSERT INTO admins (name, email, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, admin.Name, admin.Email, admin.Status).
		Scan(&admin.ID, &admin.CreatedAt, &admin.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create admin")
	}
	return nil
}

// GetByID retrieves an admin by primary key.
func (r *AdminRepository) GetByID(ctx context.Context, id string) (*Admin, error) {
	if !validID(id) {
		return nil, apperrors.NotFound("admin", id)
	}
	query := `
		SELECT id, name, email, status, created_at, updated_at
		FROM admins
		WHERE id = $1
	`

	admin := &Admin{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&admin.ID,
		&admin.Name,
		&admin.Email,
		&admin.Status,
		&admin.CreatedAt,
		&admin.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("admin", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get admin")
	}
	return admin, nil
}

// List returns all admins ordered by creation time.
func (r *AdminRepository) List(ctx context.Context) ([]*Admin, error) {
	query := `
		SELECT id, name, email, status, created_at, updated_at
		FROM admins
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list admins")
	}
	defer rows.Close()

	admins := make([]*Admin, 0)
	for rows.Next() {
		admin := &Admin{}
		err := rows.Scan(
			&admin.ID,
			&admin.Name,
			&admin.Email,
			&admin.Status,
			&admin.CreatedAt,
			&admin.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan admin")
		}
		admins = append(admins, admin)
	}
	return admins, nil
}

// MissingIDs returns the subset of ids that do not resolve to an admin.
// Malformed ids count as missing.
func (r *AdminRepository) MissingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	wellFormed := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			wellFormed = append(wellFormed, id)
		}
	}

	query := `SELECT id FROM admins WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, wellFormed)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve admin ids")
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan admin id")
		}
		found[id] = true
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
