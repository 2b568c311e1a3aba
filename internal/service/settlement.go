package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/ethereum/go-ethereum/common"
)

// SettlementResult is returned when a settlement outcome was processed
type SettlementResult struct {
	Contract   *contract.Contract
	Attempt    int
	NextPollAt time.Time
	// Err is the *contract.SettlementError surfaced once the settlement failed for good
	Err error
}

// HandleSettlementOutcome applies an outcome reported by the ledger, either pushed
// by a callback or obtained by the poller
func (s *ContractService) HandleSettlementOutcome(ctx context.Context, contractID string, outcome settlement.Outcome) (*SettlementResult, error) {
	var result *SettlementResult
	err := s.withContract(ctx, contractID, func(c *contract.Contract) error {
		if c.Status != contract.StatusPendingSettlement {
			return lib.WrapError(contract.ErrInvalidTransition, fmt.Errorf("contract %s is %s, no settlement in progress", c.ID, c.Status))
		}

		now := s.clock.Now()
		res, err := s.coordinator.OnConfirmation(ctx, *c, settlementHandle(*c), outcome, now)
		if err != nil {
			return err
		}

		if res.Event == "" {
			tx := res.Handle.Ref
			saved, err := s.store.UpdateContract(ctx, c.ID, ContractUpdate{
				SettlementTx:       &tx,
				SettlementAttempts: &res.Attempt,
				UpdatedAt:          now,
			})
			if err != nil {
				return err
			}
			result = &SettlementResult{Contract: saved, Attempt: res.Attempt, NextPollAt: res.NextPollAt}
			return nil
		}

		next, tr, err := contract.Apply(*c, contract.Trigger{
			Event:         res.Event,
			At:            now,
			Actor:         "settlement",
			Reason:        res.Reason,
			SettlementRef: res.SettlementRef,
		})
		if err != nil {
			return err
		}
		next.SettlementAttempts = res.Attempt

		saved, err := s.persist(ctx, next, tr)
		if err != nil {
			return err
		}
		if res.Err != nil {
			s.log.Errorf("settlement of contract %s failed: %s", c.ID, res.Err)
		}
		result = &SettlementResult{Contract: saved, Attempt: res.Attempt, Err: res.Err}
		return nil
	})
	return result, err
}

// ResubmitSettlement starts settlement again for a fully signed contract that was
// sent back to PendingSignatures by a reversible settlement failure
func (s *ContractService) ResubmitSettlement(ctx context.Context, contractID, actor string) (*contract.Contract, error) {
	var result *contract.Contract
	err := s.withContract(ctx, contractID, func(c *contract.Contract) error {
		if c.Status != contract.StatusPendingSignatures || !c.QuorumReached() {
			return lib.WrapError(contract.ErrInvalidTransition, fmt.Errorf("contract %s is %s with %d/%d signatures, nothing to resubmit", c.ID, c.Status, c.SignedCount(), len(c.Parties)))
		}
		var err error
		result, err = s.startSettlement(ctx, *c, actor)
		return err
	})
	return result, err
}

// PollSettlements polls the ledger for every settlement whose poll time has come
func (s *ContractService) PollSettlements(ctx context.Context) error {
	now := s.clock.Now()
	for _, h := range s.coordinator.Due(now) {
		outcome := s.coordinator.Poll(ctx, h)

		_, err := s.HandleSettlementOutcome(ctx, h.ContractID, outcome)
		switch {
		case err == nil:
		case contract.IsRetryable(err):
			s.log.Warnf("settlement outcome of %s not processed, retrying later: %s", h.ContractID, err)
			s.coordinator.Track(h, now.Add(time.Second))
		case errors.Is(err, contract.ErrInvalidTransition), errors.Is(err, contract.ErrNotFound):
			s.log.Debugf("settlement of %s no longer tracked: %s", h.ContractID, err)
			s.coordinator.Forget(h)
		default:
			s.log.Errorf("settlement outcome of %s not processed: %s", h.ContractID, err)
			s.coordinator.Forget(h)
		}
	}
	return nil
}

// Recover resumes tracking of settlements that were in flight when the process stopped.
// Contracts that reached PendingSettlement without a submission are submitted now
func (s *ContractService) Recover(ctx context.Context) error {
	settling, err := s.store.FindContractsByStatus(ctx, contract.StatusPendingSettlement)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, c := range settling {
		if c.SettlementTx != "" {
			s.coordinator.Track(settlementHandle(c), now)
			continue
		}
		err := s.withContract(ctx, c.ID, func(c *contract.Contract) error {
			if c.Status != contract.StatusPendingSettlement {
				return nil
			}
			_, err := s.initiate(ctx, *c, now)
			return err
		})
		if err != nil {
			s.log.Warnf("settlement of %s not resumed: %s", c.ID, err)
		}
	}
	s.log.Infof("%d settlements in flight", len(settling))
	return nil
}

// ResumeStalled starts settlement of fully signed contracts left in PendingSignatures,
// either by a reversible settlement failure or by an interrupted submission, and
// submits PendingSettlement contracts that have no ledger transaction yet.
// It returns how many settlements were started
func (s *ContractService) ResumeStalled(ctx context.Context) (int, error) {
	pending, err := s.store.FindContractsByStatus(ctx, contract.StatusPendingSignatures)
	if err != nil {
		return 0, err
	}
	settling, err := s.store.FindContractsByStatus(ctx, contract.StatusPendingSettlement)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, candidate := range append(pending, settling...) {
		if !stalled(candidate) {
			continue
		}
		err := s.withContract(ctx, candidate.ID, func(c *contract.Contract) error {
			if !stalled(*c) {
				return nil
			}
			var (
				res *contract.Contract
				err error
			)
			if c.Status == contract.StatusPendingSignatures {
				res, err = s.startSettlement(ctx, *c, "sweeper")
			} else {
				res, err = s.initiate(ctx, *c, s.clock.Now())
			}
			if err != nil {
				return err
			}
			if res.Status == contract.StatusPendingSettlement && res.SettlementTx != "" {
				resumed++
			}
			return nil
		})
		switch {
		case err == nil:
		case contract.IsRetryable(err):
			return resumed, err
		default:
			s.log.Warnf("settlement of %s not resumed: %s", candidate.ID, err)
		}
	}
	if resumed > 0 {
		s.log.Infof("%d stalled settlements resumed", resumed)
	}
	return resumed, nil
}

func stalled(c contract.Contract) bool {
	switch c.Status {
	case contract.StatusPendingSignatures:
		return c.QuorumReached()
	case contract.StatusPendingSettlement:
		return c.SettlementTx == ""
	default:
		return false
	}
}

// startSettlement moves a fully signed contract to PendingSettlement and initiates
// its settlement. Must be called with the contract lock held
func (s *ContractService) startSettlement(ctx context.Context, c contract.Contract, actor string) (*contract.Contract, error) {
	now := s.clock.Now()
	settling, err := s.transition(ctx, c, contract.Trigger{
		Event: contract.EventSignatureAccepted,
		At:    now,
		Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	return s.initiate(ctx, *settling, now)
}

// initiate submits the settlement of a PendingSettlement contract. Infrastructure
// failures send the contract back to PendingSignatures, rejections dispute it
func (s *ContractService) initiate(ctx context.Context, c contract.Contract, now time.Time) (*contract.Contract, error) {
	h, err := s.coordinator.Initiate(ctx, c, now)
	if err != nil {
		s.log.Warnf("settlement of contract %s not submitted: %s", c.ID, err)

		reason := err.Error()
		var serr *contract.SettlementError
		if errors.As(err, &serr) {
			reason = string(serr.Reason)
		}
		next, tr, applyErr := contract.Apply(c, contract.Trigger{
			Event:      contract.EventSettlementFailed,
			At:         now,
			Actor:      "settlement",
			Reason:     reason,
			Reversible: contract.IsRetryable(err),
		})
		if applyErr != nil {
			return nil, applyErr
		}
		return s.persist(ctx, next, tr)
	}

	key := h.IdempotencyKey
	tx := h.Ref
	attempts := 0
	return s.store.UpdateContract(ctx, c.ID, ContractUpdate{
		SettlementKey:      &key,
		SettlementTx:       &tx,
		SettlementAttempts: &attempts,
		UpdatedAt:          now,
	})
}

func settlementHandle(c contract.Contract) settlement.Handle {
	key := c.SettlementKey
	if key == (common.Hash{}) {
		key = settlement.IdempotencyKey(c.ID, c.DocumentHash)
	}
	return settlement.Handle{
		ContractID:     c.ID,
		IdempotencyKey: key,
		Ref:            c.SettlementTx,
	}
}
