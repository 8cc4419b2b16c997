package service

import (
	"context"

	"github.com/velomotors/be-capital-ledger/internal/logger"
	"github.com/velomotors/be-capital-ledger/internal/repository"
)

// Audit categories.
const (
	CategoryGroups     = "approval_groups"
	CategoryApproval   = "approval"
	CategoryInvestor   = "investor"
	CategoryLedger     = "ledger"
	CategoryCommitment = "commitment"
	CategorySettlement = "settlement"
)

// AuditService records every state-changing operation. Appends are written
// before the API response returns, but a failed append never rolls back the
// primary mutation: it is logged and swallowed.
type AuditService struct {
	store  AuditStore
	events EventPublisher
	log    *logger.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(store AuditStore, events EventPublisher, log *logger.Logger) *AuditService {
	return &AuditService{store: store, events: events, log: log}
}

// Record appends one audit entry and forwards it to the audit sink.
func (s *AuditService) Record(ctx context.Context, entry *repository.AuditEntry) {
	if entry.Severity == "" {
		entry.Severity = repository.SeverityInfo
	}

	if err := s.store.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).
			Str("category", entry.Category).
			Str("action", entry.Action).
			Str("target_entity", entry.TargetEntity).
			Msg("failed to append audit entry")
		return
	}

	if s.events != nil {
		payload := map[string]any{
			"sequence_id": entry.SequenceID,
			"category":    entry.Category,
			"action":      entry.Action,
			"severity":    entry.Severity,
		}
		s.events.PublishCapitalEvent(ctx, "audit_entry", entry.TargetEntity,
			string(entry.ActorKind), entry.ActorID, payload)
	}
}

// List returns audit entries in sequence order.
func (s *AuditService) List(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditEntry, error) {
	return s.store.List(ctx, filter)
}
