package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/integrity"
	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/registry"
	"github.com/Lumerin-protocol/contract-settlement/internal/settlement"
	"github.com/Lumerin-protocol/contract-settlement/internal/signature"
	"github.com/google/uuid"
)

type Config struct {
	DefaultExpiry    time.Duration
	MaxDocumentBytes int
	LockTimeout      time.Duration
}

// CreateContractInput is the payload of CreateContract. Policy.MinSigners of 0
// means every registered party
type CreateContractInput struct {
	Document    []byte
	ContentType string
	Parties     []registry.PartyInput
	Policy      contract.Policy
	Terms       contract.Terms
	ExpiryDate  time.Time
}

type ContractService struct {
	// config
	cfg Config

	// deps
	store       Store
	locker      Locker
	registry    *registry.Registry
	collector   *signature.Collector
	coordinator *settlement.Coordinator
	notifier    contract.Notifier
	clock       lib.Clock
	log         interfaces.ILogger
}

func NewContractService(
	cfg Config,
	store Store,
	locker Locker,
	collector *signature.Collector,
	coordinator *settlement.Coordinator,
	notifier contract.Notifier,
	clock lib.Clock,
	log interfaces.ILogger,
) *ContractService {
	return &ContractService{
		cfg:         cfg,
		store:       store,
		locker:      locker,
		registry:    registry.NewRegistry(store),
		collector:   collector,
		coordinator: coordinator,
		notifier:    notifier,
		clock:       clock,
		log:         log,
	}
}

func (s *ContractService) Registry() *registry.Registry {
	return s.registry
}

func (s *ContractService) CreateContract(ctx context.Context, in CreateContractInput) (*contract.Contract, error) {
	now := s.clock.Now()

	if s.cfg.MaxDocumentBytes > 0 && len(in.Document) > s.cfg.MaxDocumentBytes {
		return nil, lib.WrapError(contract.ErrValidation, fmt.Errorf("document is %d bytes, limit is %d", len(in.Document), s.cfg.MaxDocumentBytes))
	}

	expiry := in.ExpiryDate
	if expiry.IsZero() {
		expiry = now.Add(s.cfg.DefaultExpiry)
	}
	if !expiry.After(now) {
		return nil, lib.WrapError(contract.ErrValidation, fmt.Errorf("expiry date %s is in the past", expiry.Format(time.RFC3339)))
	}

	doc, err := integrity.Canonicalize(in.Document, in.ContentType)
	if err != nil {
		return nil, err
	}

	policy := in.Policy
	if policy.MinSigners == 0 {
		policy.MinSigners = len(in.Parties)
	}

	id := uuid.NewString()
	parties, err := s.registry.Register(id, in.Parties, policy)
	if err != nil {
		return nil, err
	}
	if err := settlement.ValidateTerms(in.Terms, len(parties)); err != nil {
		return nil, err
	}

	c := contract.Contract{
		ID:           id,
		Document:     doc,
		ContentType:  in.ContentType,
		DocumentHash: integrity.Fingerprint(doc),
		Parties:      parties,
		Status:       contract.StatusDraft,
		Policy:       policy,
		Terms:        in.Terms,
		ExpiryDate:   expiry.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	saved, err := s.store.SaveContract(ctx, c)
	if err != nil {
		return nil, err
	}
	s.log.Infof("contract %s created, %d parties, document hash %s", saved.ID, len(saved.Parties), saved.DocumentHash.Hex())
	return saved, nil
}

func (s *ContractService) ActivateContract(ctx context.Context, contractID string) (*contract.Contract, error) {
	var result *contract.Contract
	err := s.withContract(ctx, contractID, func(c *contract.Contract) error {
		var err error
		result, err = s.transition(ctx, *c, contract.Trigger{
			Event: contract.EventActivate,
			At:    s.clock.Now(),
		})
		return err
	})
	return result, err
}

// SubmitSignature records a party signature. When it completes the quorum the
// signatures and the move to PendingSettlement are written together and settlement
// is initiated before the lock is released, so it is initiated exactly once.
// Resubmitting a recorded signature of a fully signed contract still waiting in
// PendingSignatures starts its settlement
func (s *ContractService) SubmitSignature(ctx context.Context, sub signature.Submission) (*contract.Contract, error) {
	var result *contract.Contract
	err := s.withContract(ctx, sub.ContractID, func(c *contract.Contract) error {
		now := s.clock.Now()
		if sub.SubmittedAt.IsZero() {
			sub.SubmittedAt = now
		}
		if pubKey, err := lib.NormalizePubKey(sub.PublicKey); err == nil {
			sub.PublicKey = pubKey
		}

		res, err := s.collector.Submit(ctx, *c, sub)
		if err != nil {
			return err
		}
		if res.Idempotent {
			if c.Status == contract.StatusPendingSignatures && c.QuorumReached() {
				s.log.Infof("contract %s is fully signed but not settling, starting settlement", c.ID)
				result, err = s.startSettlement(ctx, *c, sub.PublicKey)
				return err
			}
			result = c
			return nil
		}

		res.Contract.UpdatedAt = now
		if !res.QuorumComplete {
			saved, err := s.store.UpdateContract(ctx, c.ID, ContractUpdate{
				Parties:   res.Contract.Parties,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			s.log.Infof("contract %s signed by party %d (%d/%d)", c.ID, res.PartyIndex, saved.SignedCount(), len(saved.Parties))
			result = saved
			return nil
		}

		s.log.Infof("contract %s signed by party %d, quorum complete", c.ID, res.PartyIndex)
		result, err = s.startSettlement(ctx, res.Contract, sub.PublicKey)
		return err
	})
	return result, err
}

// RaiseDispute moves a contract to Disputed on behalf of one of its parties. The
// party proves itself with a signature over signature.DisputeDigest(contractID, reason)
func (s *ContractService) RaiseDispute(ctx context.Context, contractID, publicKey, reason string, sig []byte) (*contract.Contract, error) {
	if err := s.collector.Authenticate(signature.DisputeDigest(contractID, reason), publicKey, sig); err != nil {
		return nil, err
	}
	publicKey, _ = lib.NormalizePubKey(publicKey)

	var result *contract.Contract
	err := s.withContract(ctx, contractID, func(c *contract.Contract) error {
		wasSettling := c.Status == contract.StatusPendingSettlement

		var err error
		result, err = s.transition(ctx, *c, contract.Trigger{
			Event:  contract.EventDisputeRaised,
			At:     s.clock.Now(),
			Actor:  publicKey,
			Reason: reason,
		})
		if err != nil {
			return err
		}
		if wasSettling {
			s.coordinator.Forget(settlementHandle(*c))
		}
		return nil
	})
	return result, err
}

// ContractStatus is the read model returned by GetContractStatus
type ContractStatus struct {
	ID                 string          `json:"id"`
	Status             contract.Status `json:"status"`
	DocumentHash       string          `json:"documentHash"`
	Signed             int             `json:"signed"`
	Required           int             `json:"required"`
	Parties            []PartyStatus   `json:"parties"`
	ExpiryDate         time.Time       `json:"expiryDate"`
	SettlementRef      string          `json:"settlementRef,omitempty"`
	SettlementAttempts int             `json:"settlementAttempts"`
	DisputeReason      string          `json:"disputeReason,omitempty"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type PartyStatus struct {
	PublicKey string        `json:"publicKey"`
	Role      contract.Role `json:"role"`
	Signed    bool          `json:"signed"`
	SignedAt  *time.Time    `json:"signedAt,omitempty"`
}

func (s *ContractService) GetContractStatus(ctx context.Context, contractID string) (*ContractStatus, error) {
	var result *ContractStatus
	err := s.withContract(ctx, contractID, func(c *contract.Contract) error {
		result = StatusOf(c)
		return nil
	})
	return result, err
}

func (s *ContractService) GetContract(ctx context.Context, contractID string) (*contract.Contract, error) {
	return s.store.FindContract(ctx, contractID)
}

// ReopenContract moves a disputed contract back to PendingSignatures. It is an
// administrative action and is always audit logged
func (s *ContractService) ReopenContract(ctx context.Context, contractID, admin, reason string) (*contract.Contract, error) {
	var result *contract.Contract
	err := s.withContract(ctx, contractID, func(c *contract.Contract) error {
		var err error
		result, err = s.transition(ctx, *c, contract.Trigger{
			Event:  contract.EventReopen,
			At:     s.clock.Now(),
			Actor:  admin,
			Reason: reason,
		})
		return err
	})
	return result, err
}

func (s *ContractService) ListContractsByParty(ctx context.Context, publicKey string) ([]contract.Contract, error) {
	pubKey, err := lib.NormalizePubKey(publicKey)
	if err != nil {
		return nil, lib.WrapError(contract.ErrValidation, err)
	}
	return s.store.FindContractsByParty(ctx, pubKey)
}

// VerifyDocument reports whether doc is the document of the contract. doc is
// canonicalized the same way it was at creation
func (s *ContractService) VerifyDocument(ctx context.Context, contractID string, doc []byte) (bool, error) {
	c, err := s.store.FindContract(ctx, contractID)
	if err != nil {
		return false, err
	}
	canonical, err := integrity.Canonicalize(doc, c.ContentType)
	if err != nil {
		return false, nil
	}
	return integrity.Verify(canonical, c.DocumentHash), nil
}

// ExpireDue moves every PendingSignatures contract past its expiry date to Expired
// and returns how many were expired
func (s *ContractService) ExpireDue(ctx context.Context) (int, error) {
	pending, err := s.store.FindContractsByStatus(ctx, contract.StatusPendingSignatures)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	expired := 0
	for _, candidate := range pending {
		if !now.After(candidate.ExpiryDate) {
			continue
		}
		err := s.withContract(ctx, candidate.ID, func(c *contract.Contract) error {
			_, err := s.transition(ctx, *c, contract.Trigger{
				Event: contract.EventClockExpired,
				At:    now,
				Actor: "sweeper",
			})
			return err
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, contract.ErrInvalidTransition):
			s.log.Debugf("contract %s not expired: %s", candidate.ID, err)
		case contract.IsRetryable(err):
			return expired, err
		default:
			s.log.Warnf("contract %s not expired: %s", candidate.ID, err)
		}
	}
	if expired > 0 {
		s.log.Infof("%d contracts expired", expired)
	}
	return expired, nil
}

func (s *ContractService) withContract(ctx context.Context, contractID string, f func(c *contract.Contract) error) error {
	lockCtx := ctx
	if s.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
	}

	unlock, err := s.locker.LockCtx(lockCtx, lockKey(contractID))
	if err != nil {
		return lib.WrapError(contract.ErrUnavailable, fmt.Errorf("lock contract %s: %w", contractID, err))
	}
	defer unlock()

	c, err := s.store.FindContract(ctx, contractID)
	if err != nil {
		return err
	}
	return f(c)
}

// transition applies the trigger, persists the result and emits its messages.
// Nothing is persisted when the transition is rejected
func (s *ContractService) transition(ctx context.Context, c contract.Contract, t contract.Trigger) (*contract.Contract, error) {
	next, tr, err := contract.Apply(c, t)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, next, tr)
}

func (s *ContractService) persist(ctx context.Context, next contract.Contract, tr contract.Transition) (*contract.Contract, error) {
	saved, err := s.store.UpdateContract(ctx, next.ID, UpdateOf(next))
	if err != nil {
		return nil, err
	}

	if tr.Audit {
		s.log.Warnw("audit: administrative transition",
			"contractID", tr.ContractID,
			"from", tr.From,
			"to", tr.To,
			"event", tr.Event,
			"actor", tr.Actor,
			"reason", tr.Reason,
			"at", tr.At,
		)
	} else {
		s.log.Infof("contract %s %s -> %s on %s", tr.ContractID, tr.From, tr.To, tr.Event)
	}

	for _, msg := range contract.Messages(*saved, tr) {
		s.notifier.Notify(ctx, msg)
	}
	return saved, nil
}

// StatusOf builds the read model of c
func StatusOf(c *contract.Contract) *ContractStatus {
	st := &ContractStatus{
		ID:                 c.ID,
		Status:             c.Status,
		DocumentHash:       c.DocumentHash.Hex(),
		Signed:             c.SignedCount(),
		Required:           len(c.Parties),
		ExpiryDate:         c.ExpiryDate,
		SettlementRef:      c.SettlementRef,
		SettlementAttempts: c.SettlementAttempts,
		DisputeReason:      c.DisputeReason,
		UpdatedAt:          c.UpdatedAt,
	}
	for _, p := range c.Parties {
		st.Parties = append(st.Parties, PartyStatus{
			PublicKey: p.PublicKey,
			Role:      p.Role,
			Signed:    p.Signed(),
			SignedAt:  p.SignedAt,
		})
	}
	return st
}

func lockKey(contractID string) string {
	return "contract:" + contractID
}
