package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/database"
)

// Default group names used by the one-time bootstrap.
var DefaultGroupNames = [2]string{"Group A", "Group B"}

// GroupRepository persists the pair of approval groups and their membership.
type GroupRepository struct {
	db *database.DB
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(db *database.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Count returns how many approval groups exist.
func (r *GroupRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM approval_groups`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count approval groups")
	}
	return count, nil
}

// CreateDefaults inserts the two default-named empty groups. Called once at
// start-up when no groups exist yet; never as a side effect of a read.
func (r *GroupRepository) CreateDefaults(ctx context.Context) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `INSERT INTO approval_groups (name, position) VALUES ($1, $2)`
		for i, name := range DefaultGroupNames {
			if _, err := tx.Exec(ctx, query, name, i+1); err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create default group")
			}
		}
		return nil
	})
}

// GetGroups returns the current pair ordered by position, members included.
func (r *GroupRepository) GetGroups(ctx context.Context) ([]*ApprovalGroup, error) {
	query := `
		SELECT id, name, position, created_at, updated_at
		FROM approval_groups
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get approval groups")
	}
	defer rows.Close()

	groups := make([]*ApprovalGroup, 0, 2)
	for rows.Next() {
		group := &ApprovalGroup{Members: []GroupMember{}}
		err := rows.Scan(&group.ID, &group.Name, &group.Position, &group.CreatedAt, &group.UpdatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval group")
		}
		groups = append(groups, group)
	}
	rows.Close()

	memberQuery := `
		SELECT group_id, admin_id, added_at
		FROM approval_group_members
		ORDER BY added_at ASC
	`

	memberRows, err := r.db.Query(ctx, memberQuery)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get group members")
	}
	defer memberRows.Close()

	byID := make(map[string]*ApprovalGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	for memberRows.Next() {
		var groupID string
		var member GroupMember
		if err := memberRows.Scan(&groupID, &member.AdminID, &member.AddedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan group member")
		}
		if g, ok := byID[groupID]; ok {
			g.Members = append(g.Members, member)
		}
	}

	return groups, nil
}

// ReplaceGroups updates both group names and replaces all memberships in a
// single transaction. Either everything applies or nothing does.
func (r *GroupRepository) ReplaceGroups(ctx context.Context, groups [2]*ApprovalGroup) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM approval_group_members`); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to clear group members")
		}

		nameQuery := `
			UPDATE approval_groups
			SET name = $2, updated_at = NOW()
			WHERE position = $1
			RETURNING id
		`
		memberQuery := `
			INSERT INTO approval_group_members (group_id, admin_id)
			VALUES ($1, $2)
		`

		for i, group := range groups {
			var groupID string
			err := tx.QueryRow(ctx, nameQuery, i+1, group.Name).Scan(&groupID)
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.New(apperrors.ErrCodeConflict, "approval groups have not been bootstrapped")
			}
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update group name")
			}
			group.ID = groupID
			group.Position = i + 1

			for _, member := range group.Members {
				if _, err := tx.Exec(ctx, memberQuery, groupID, member.AdminID); err != nil {
					return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to add group member")
				}
			}
		}
		return nil
	})
}

// ResolveMemberGroup returns the name of the group an admin belongs to.
func (r *GroupRepository) ResolveMemberGroup(ctx context.Context, adminID string) (string, error) {
	if !validID(adminID) {
		return "", apperrors.NotFound("group membership", adminID)
	}
	query := `
		SELECT g.name
		FROM approval_group_members m
		JOIN approval_groups g ON g.id = m.group_id
		WHERE m.admin_id = $1
	`

	var name string
	err := r.db.QueryRow(ctx, query, adminID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NotFound("group membership", adminID)
	}
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve member group")
	}
	return name, nil
}
