package service

import (
	"context"
	"strings"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

const (
	maxGroupNameLength = 50
	maxGroupMembers    = 2
)

// GroupService is the registry of the two disjoint approval groups.
type GroupService struct {
	groups GroupStore
	admins AdminDirectory
	audit  *AuditService
	log    *logger.Logger
}

// NewGroupService creates a new GroupService.
func NewGroupService(groups GroupStore, admins AdminDirectory, audit *AuditService, log *logger.Logger) *GroupService {
	return &GroupService{groups: groups, admins: admins, audit: audit, log: log}
}

// GroupInput is one group in a SetGroups request.
type GroupInput struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// EnsureDefaultGroups creates the two default-named empty groups when none
// exist. Invoked once from start-up; reads never write.
func (s *GroupService) EnsureDefaultGroups(ctx context.Context) error {
	count, err := s.groups.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if err := s.groups.CreateDefaults(ctx); err != nil {
		return err
	}

	s.log.Info().
		Str("group_a", repository.DefaultGroupNames[0]).
		Str("group_b", repository.DefaultGroupNames[1]).
		Msg("Bootstrapped default approval groups")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryGroups,
		Action:       "groups_bootstrapped",
		ActorKind:    repository.ActorAdmin,
		ActorID:      "system",
		TargetEntity: "approval_groups",
	})
	return nil
}

// GetGroups returns the current pair.
func (s *GroupService) GetGroups(ctx context.Context) ([]*repository.ApprovalGroup, error) {
	return s.groups.GetGroups(ctx)
}

// SetGroups atomically replaces both groups' names and membership. Any
// violation rejects the whole update.
func (s *GroupService) SetGroups(ctx context.Context, inputs [2]GroupInput, actor Actor) ([]*repository.ApprovalGroup, error) {
	if err := validateGroupInputs(inputs); err != nil {
		return nil, err
	}

	var memberIDs []string
	for _, input := range inputs {
		memberIDs = append(memberIDs, input.MemberIDs...)
	}
	missing, err := s.admins.MissingIDs(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"member ids do not resolve to admins: %s", strings.Join(missing, ", "))
	}

	var groups [2]*repository.ApprovalGroup
	for i, input := range inputs {
		group := &repository.ApprovalGroup{Name: strings.TrimSpace(input.Name)}
		for _, id := range input.MemberIDs {
			group.Members = append(group.Members, repository.GroupMember{AdminID: id})
		}
		groups[i] = group
	}

	if err := s.groups.ReplaceGroups(ctx, groups); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("group_a", groups[0].Name).
		Str("group_b", groups[1].Name).
		Int("members_a", len(groups[0].Members)).
		Int("members_b", len(groups[1].Members)).
		Msg("Approval groups updated")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryGroups,
		Action:       "groups_updated",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: "approval_groups",
		Metadata: map[string]any{
			"group_names": []string{groups[0].Name, groups[1].Name},
		},
	})

	return s.groups.GetGroups(ctx)
}

// ResolveMemberGroup returns the group name an admin belongs to.
func (s *GroupService) ResolveMemberGroup(ctx context.Context, adminID string) (string, error) {
	return s.groups.ResolveMemberGroup(ctx, adminID)
}

// validateGroupInputs enforces the structural rules on the pair: names
// non-empty, at most 50 chars, unique; at most 2 members each; no admin in
// both groups.
func validateGroupInputs(inputs [2]GroupInput) error {
	seenNames := make(map[string]bool, 2)
	seenMembers := make(map[string]bool, 4)

	for _, input := range inputs {
		name := strings.TrimSpace(input.Name)
		if name == "" {
			return apperrors.InvalidInput("name", "group name is required")
		}
		if len(name) > maxGroupNameLength {
			return apperrors.Newf(apperrors.ErrCodeValidation,
				"group name '%s' exceeds %d characters", name, maxGroupNameLength)
		}
		if seenNames[name] {
			return apperrors.Newf(apperrors.ErrCodeValidation,
				"group names must be unique: '%s'", name)
		}
		seenNames[name] = true

		if len(input.MemberIDs) > maxGroupMembers {
			return apperrors.Newf(apperrors.ErrCodeValidation,
				"group '%s' has more than %d members", name, maxGroupMembers)
		}
		for _, id := range input.MemberIDs {
			if id == "" {
				return apperrors.InvalidInput("member_ids", "member id is required")
			}
			if seenMembers[id] {
				return apperrors.Newf(apperrors.ErrCodeConflict,
					"duplicate group membership for admin %s", id)
			}
			seenMembers[id] = true
		}
	}
	return nil
}
