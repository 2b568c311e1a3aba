package contract

import (
	"errors"
	"fmt"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
)

type Event string

const (
	EventActivate            Event = "activate"
	EventSignatureAccepted   Event = "signatureAccepted"
	EventClockExpired        Event = "clockExpired"
	EventDisputeRaised       Event = "disputeRaised"
	EventSettlementConfirmed Event = "settlementConfirmed"
	EventSettlementFailed    Event = "settlementFailed"
	EventReopen              Event = "reopen"
)

// Trigger is an event together with the data its guard and effects need
type Trigger struct {
	Event         Event
	At            time.Time
	Actor         string // party public key, admin id or component name
	Reason        string
	SettlementRef string // settlementConfirmed
	Reversible    bool   // settlementFailed
}

// Transition records an applied state change
type Transition struct {
	ContractID string
	From       Status
	To         Status
	Event      Event
	Actor      string
	Reason     string
	At         time.Time
	Audit      bool // administrative transition, must be audit logged
}

type rule func(c *Contract, t Trigger) (Status, error)

var transitions = map[Status]map[Event]rule{
	StatusDraft: {
		EventActivate: onActivate,
	},
	StatusPendingSignatures: {
		EventSignatureAccepted: onSignatureAccepted,
		EventClockExpired:      onClockExpired,
		EventDisputeRaised:     onDisputeRaised,
	},
	StatusPendingSettlement: {
		EventDisputeRaised:       onDisputeRaised,
		EventSettlementConfirmed: onSettlementConfirmed,
		EventSettlementFailed:    onSettlementFailed,
	},
	StatusDisputed: {
		EventReopen: onReopen,
	},
}

var (
	errGuard = errors.New("guard not satisfied")
)

// Apply applies trigger to a copy of c. On error the returned contract is c itself and
// nothing was mutated, so callers never observe a partially applied transition
func Apply(c Contract, t Trigger) (Contract, Transition, error) {
	events, ok := transitions[c.Status]
	if !ok {
		return c, Transition{}, lib.WrapError(ErrInvalidTransition, fmt.Errorf("%s is terminal, event %s rejected", c.Status, t.Event))
	}
	apply, ok := events[t.Event]
	if !ok {
		return c, Transition{}, lib.WrapError(ErrInvalidTransition, fmt.Errorf("event %s is not valid in state %s", t.Event, c.Status))
	}

	next := c.Clone()
	to, err := apply(&next, t)
	if err != nil {
		return c, Transition{}, err
	}

	next.Status = to
	if !t.At.IsZero() {
		next.UpdatedAt = t.At
	}

	return next, Transition{
		ContractID: c.ID,
		From:       c.Status,
		To:         to,
		Event:      t.Event,
		Actor:      t.Actor,
		Reason:     t.Reason,
		At:         t.At,
		Audit:      t.Event == EventReopen,
	}, nil
}

// CanApply reports whether the event is listed for the status, guards are not evaluated
func CanApply(status Status, event Event) bool {
	_, ok := transitions[status][event]
	return ok
}

func guardError(event Event, format string, args ...interface{}) error {
	return lib.WrapError(ErrInvalidTransition, fmt.Errorf("%w: %s: %s", errGuard, event, fmt.Sprintf(format, args...)))
}

func onActivate(c *Contract, t Trigger) (Status, error) {
	if c.Policy.MinSigners < 1 {
		return "", guardError(t.Event, "minSigners must be at least 1, got %d", c.Policy.MinSigners)
	}
	if len(c.Parties) < c.Policy.MinSigners {
		return "", guardError(t.Event, "%d parties registered, %d required", len(c.Parties), c.Policy.MinSigners)
	}
	return StatusPendingSignatures, nil
}

func onSignatureAccepted(c *Contract, t Trigger) (Status, error) {
	if !c.QuorumReached() {
		return "", guardError(t.Event, "%d of %d parties signed", c.SignedCount(), len(c.Parties))
	}
	return StatusPendingSettlement, nil
}

func onClockExpired(c *Contract, t Trigger) (Status, error) {
	if !t.At.After(c.ExpiryDate) {
		return "", guardError(t.Event, "contract expires at %s", c.ExpiryDate.Format(time.RFC3339))
	}
	if c.QuorumReached() {
		return "", guardError(t.Event, "quorum already reached")
	}
	return StatusExpired, nil
}

func onDisputeRaised(c *Contract, t Trigger) (Status, error) {
	if !c.IsParty(t.Actor) {
		return "", lib.WrapError(ErrUnknownParty, fmt.Errorf("dispute raised by %s", t.Actor))
	}
	c.DisputeReason = t.Reason
	if c.DisputeReason == "" {
		c.DisputeReason = "raised by party"
	}
	return StatusDisputed, nil
}

func onSettlementConfirmed(c *Contract, t Trigger) (Status, error) {
	if t.SettlementRef == "" {
		return "", guardError(t.Event, "settlement reference is required")
	}
	c.SettlementRef = t.SettlementRef
	return StatusCompleted, nil
}

func onSettlementFailed(c *Contract, t Trigger) (Status, error) {
	if t.Reversible {
		c.SettlementAttempts = 0
		c.SettlementTx = ""
		return StatusPendingSignatures, nil
	}
	c.DisputeReason = t.Reason
	return StatusDisputed, nil
}

func onReopen(c *Contract, t Trigger) (Status, error) {
	if t.Actor == "" {
		return "", guardError(t.Event, "administrative actor is required")
	}
	c.DisputeReason = ""
	c.SettlementAttempts = 0
	return StatusPendingSignatures, nil
}
