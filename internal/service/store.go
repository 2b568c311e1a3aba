package service

import (
	"context"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/ethereum/go-ethereum/common"
)

// ContractUpdate holds the mutable fields of a contract, nil fields are left as is.
// Identity, document and policy are never updated
type ContractUpdate struct {
	Status             *contract.Status
	Parties            []contract.Party
	SettlementKey      *common.Hash
	SettlementTx       *string
	SettlementRef      *string
	SettlementAttempts *int
	DisputeReason      *string
	UpdatedAt          time.Time
}

// Store is the single source of truth for contract state. Implementations return
// contract.ErrNotFound for unknown ids and wrap connection failures in contract.ErrUnavailable
type Store interface {
	SaveContract(ctx context.Context, c contract.Contract) (*contract.Contract, error)
	FindContract(ctx context.Context, contractID string) (*contract.Contract, error)
	FindContractsByParty(ctx context.Context, publicKey string) ([]contract.Contract, error)
	FindContractsByStatus(ctx context.Context, status contract.Status) ([]contract.Contract, error)
	UpdateContract(ctx context.Context, contractID string, update ContractUpdate) (*contract.Contract, error)
}

// Locker provides per-contract mutual exclusion. *lib.KeyedMutex serves a single
// instance, the redis locker serves several
type Locker interface {
	LockCtx(ctx context.Context, key string) (unlock func(), err error)
}

// UpdateOf returns an update that overwrites every mutable field with the values of c
func UpdateOf(c contract.Contract) ContractUpdate {
	status := c.Status
	key := c.SettlementKey
	tx := c.SettlementTx
	ref := c.SettlementRef
	attempts := c.SettlementAttempts
	reason := c.DisputeReason
	return ContractUpdate{
		Status:             &status,
		Parties:            c.Parties,
		SettlementKey:      &key,
		SettlementTx:       &tx,
		SettlementRef:      &ref,
		SettlementAttempts: &attempts,
		DisputeReason:      &reason,
		UpdatedAt:          c.UpdatedAt,
	}
}

// ApplyUpdate applies u to c in place, shared by the store implementations
func ApplyUpdate(c *contract.Contract, u ContractUpdate) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.Parties != nil {
		c.Parties = u.Parties
	}
	if u.SettlementKey != nil {
		c.SettlementKey = *u.SettlementKey
	}
	if u.SettlementTx != nil {
		c.SettlementTx = *u.SettlementTx
	}
	if u.SettlementRef != nil {
		c.SettlementRef = *u.SettlementRef
	}
	if u.SettlementAttempts != nil {
		c.SettlementAttempts = *u.SettlementAttempts
	}
	if u.DisputeReason != nil {
		c.DisputeReason = *u.DisputeReason
	}
	if !u.UpdatedAt.IsZero() {
		c.UpdatedAt = u.UpdatedAt
	}
}
