package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrRejected is returned by a Ledger when a submission can never succeed,
// any other submission error is treated as transient
var ErrRejected = errors.New("settlement rejected by ledger")

type Payout struct {
	PublicKey string
	Address   common.Address
	Amount    *big.Int
}

// Request is the on-chain action that finalizes a contract
type Request struct {
	ContractID     string
	IdempotencyKey common.Hash
	DocumentHash   common.Hash
	Payouts        []Payout
	Total          *big.Int
}

// Handle identifies a submitted settlement
type Handle struct {
	ContractID     string
	IdempotencyKey common.Hash
	Ref            string // ledger reference, e.g. transaction hash
	SubmittedAt    time.Time
}

type OutcomeKind string

const (
	OutcomeConfirmed           OutcomeKind = "Confirmed"
	OutcomeRejectedPermanently OutcomeKind = "RejectedPermanently"
	OutcomeInconclusive        OutcomeKind = "Inconclusive"
)

type Outcome struct {
	Kind          OutcomeKind
	SettlementRef string // Confirmed
	Reason        string // RejectedPermanently
}

func Confirmed(ref string) Outcome {
	return Outcome{Kind: OutcomeConfirmed, SettlementRef: ref}
}

func RejectedPermanently(reason string) Outcome {
	return Outcome{Kind: OutcomeRejectedPermanently, Reason: reason}
}

func Inconclusive() Outcome {
	return Outcome{Kind: OutcomeInconclusive}
}

// Ledger submits settlement requests and reports their status. Submit must be
// idempotent on Request.IdempotencyKey and must not wait for finality
type Ledger interface {
	Submit(ctx context.Context, req Request) (Handle, error)
	PollStatus(ctx context.Context, h Handle) (Outcome, error)
}
