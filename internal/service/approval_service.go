package service

import (
	"context"

	"github.com/velomotors/be-capital-ledger/internal/apperrors"
	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// GroupResolver maps an admin to their approval group.
type GroupResolver interface {
	ResolveMemberGroup(ctx context.Context, adminID string) (string, error)
}

// ApprovalService drives the dual-group approval state machine:
// not_submitted → pending → approved (terminal). A commitment is approved
// once one member from each of the two disjoint groups has signed off.
type ApprovalService struct {
	commitments CommitmentStore
	groups      GroupResolver
	audit       *AuditService
	events      EventPublisher
	log         *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	commitments CommitmentStore,
	groups GroupResolver,
	audit *AuditService,
	events EventPublisher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		commitments: commitments,
		groups:      groups,
		audit:       audit,
		events:      events,
		log:         log,
	}
}

// ApprovalResult reports the outcome of one approval submission.
type ApprovalResult struct {
	Approval *repository.Approval `json:"approval"`
	Status   string               `json:"status"`
}

// Submit moves a commitment into pending so approvals can be collected.
func (s *ApprovalService) Submit(ctx context.Context, commitmentID string, actor Actor) error {
	if err := s.commitments.Submit(ctx, commitmentID); err != nil {
		return err
	}

	s.log.Info().
		Str("commitment_id", commitmentID).
		Str("submitted_by", actor.ID).
		Msg("Commitment submitted for approval")

	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryApproval,
		Action:       "commitment_submitted",
		ActorKind:    actor.Kind,
		ActorID:      actor.ID,
		TargetEntity: commitmentID,
	})
	if s.events != nil {
		s.events.PublishCapitalEvent(ctx, "commitment_submitted", commitmentID,
			string(actor.Kind), actor.ID, nil)
	}
	return nil
}

// SubmitApproval records one admin's approval on a commitment.
//
// The admin must belong to one of the two approval groups; an admin outside
// both groups cannot approve. The same admin can never approve twice, and an
// approved commitment accepts no further submissions.
func (s *ApprovalService) SubmitApproval(ctx context.Context, commitmentID, adminID string, comment *string) (*ApprovalResult, error) {
	groupName, err := s.groups.ResolveMemberGroup(ctx, adminID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return nil, apperrors.New(apperrors.ErrCodeUnauthorizedGroup,
				"admin does not belong to an approval group")
		}
		return nil, err
	}

	approval, status, err := s.commitments.AppendApproval(ctx, commitmentID, adminID, groupName, comment)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("commitment_id", commitmentID).
		Str("admin_id", adminID).
		Str("group", groupName).
		Str("status", status).
		Msg("Approval recorded")

	metadata := map[string]any{
		"group_name": groupName,
		"status":     status,
	}
	if comment != nil {
		metadata["comment"] = *comment
	}
	s.audit.Record(ctx, &repository.AuditEntry{
		Category:     CategoryApproval,
		Action:       "approval_recorded",
		ActorKind:    repository.ActorAdmin,
		ActorID:      adminID,
		TargetEntity: commitmentID,
		Metadata:     metadata,
	})

	if s.events != nil {
		s.events.PublishCapitalEvent(ctx, "approval_recorded", commitmentID,
			string(repository.ActorAdmin), adminID, map[string]any{"group_name": groupName})
		if status == repository.ApprovalApproved {
			s.events.PublishCapitalEvent(ctx, "commitment_approved", commitmentID,
				string(repository.ActorAdmin), adminID, nil)
		}
	}

	return &ApprovalResult{Approval: approval, Status: status}, nil
}
