package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// NotificationPublisher publishes capital-ledger events to NATS JetStream for
// consumption by the notification sender and audit sink.
//
// Subject convention: <prefix>.<event_type>
// Event types: commitment_submitted, approval_recorded, commitment_approved,
//              funds_reserved, settlement_recorded, audit_entry
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so event delivery failures never interrupt ledger
// operations.
type NotificationPublisher struct {
	nats          *NATSClient
	subjectPrefix string
	log           zerolog.Logger
}

// CapitalEvent is the JSON schema published to NATS.
type CapitalEvent struct {
	EventType    string         `json:"event_type"`
	TargetEntity string         `json:"target_entity"`
	ActorKind    string         `json:"actor_kind,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// client. A nil client disables publishing.
func NewNotificationPublisher(nats *NATSClient, subjectPrefix string, log zerolog.Logger) *NotificationPublisher {
	if subjectPrefix == "" {
		subjectPrefix = "capital"
	}
	return &NotificationPublisher{nats: nats, subjectPrefix: subjectPrefix, log: log}
}

// PublishCapitalEvent publishes one ledger event.
// Subject: <prefix>.<eventType>
func (p *NotificationPublisher) PublishCapitalEvent(ctx context.Context, eventType, targetEntity, actorKind, actorID string, payload map[string]any) {
	if p == nil || p.nats == nil {
		return
	}

	event := &CapitalEvent{
		EventType:    eventType,
		TargetEntity: targetEntity,
		ActorKind:    actorKind,
		ActorID:      actorID,
		Severity:     "info",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("target_entity", targetEntity).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("target_entity", targetEntity).
		Msg("notification: event published")
}
