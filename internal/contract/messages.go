package contract

import (
	"context"
	"time"
)

type MessageKind string

const (
	MessageActivated          MessageKind = "contract.activated"
	MessageAwaitingSettlement MessageKind = "contract.awaiting_settlement"
	MessageCompleted          MessageKind = "contract.completed"
	MessageExpired            MessageKind = "contract.expired"
	MessageDisputed           MessageKind = "contract.disputed"
	MessageDisputeAlert       MessageKind = "contract.dispute_alert"
	MessageSettlementRetry    MessageKind = "contract.settlement_retry"
	MessageReopened           MessageKind = "contract.reopened"
)

// Message is an outbound notification emitted for a transition
type Message struct {
	Kind       MessageKind
	ContractID string
	Status     Status
	Recipients []string
	Reason     string
	// Actor triggered the transition. For MessageAwaitingSettlement it is the
	// signer that completed the quorum
	Actor string
	At    time.Time
}

// Notifier consumes outbound messages. Delivery is not the engine's concern,
// implementations must not block for long
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Messages builds the outbound messages for a transition applied to c
func Messages(c Contract, tr Transition) []Message {
	base := Message{
		ContractID: c.ID,
		Status:     tr.To,
		Recipients: c.Emails(),
		Reason:     tr.Reason,
		Actor:      tr.Actor,
		At:         tr.At,
	}

	switch {
	case tr.Event == EventReopen:
		base.Kind = MessageReopened
	case tr.Event == EventSettlementFailed && tr.To == StatusPendingSignatures:
		base.Kind = MessageSettlementRetry
	}

	if base.Kind != "" {
		return []Message{base}
	}

	switch tr.To {
	case StatusPendingSignatures:
		base.Kind = MessageActivated
	case StatusPendingSettlement:
		base.Kind = MessageAwaitingSettlement
	case StatusCompleted:
		base.Kind = MessageCompleted
	case StatusExpired:
		base.Kind = MessageExpired
	case StatusDisputed:
		base.Kind = MessageDisputed
		base.Reason = c.DisputeReason
		msgs := []Message{base}
		if arbiters := c.Emails(RoleArbiter); len(arbiters) > 0 {
			alert := base
			alert.Kind = MessageDisputeAlert
			alert.Recipients = arbiters
			msgs = append(msgs, alert)
		}
		return msgs
	default:
		return nil
	}
	return []Message{base}
}
