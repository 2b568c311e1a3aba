package signature

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/integrity"
	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Submission is consumed by Submit and never stored on its own
type Submission struct {
	ContractID  string
	PublicKey   string
	Signature   []byte
	SubmittedAt time.Time
	// DocumentHash is the hash the signer claims to have signed, optional
	DocumentHash *common.Hash
}

type Result struct {
	Contract       contract.Contract
	PartyIndex     int
	Idempotent     bool // identical resubmission, nothing changed
	QuorumComplete bool // this submission was the last required one
}

type Collector struct {
	verifier Verifier
	log      interfaces.ILogger
}

func NewCollector(verifier Verifier, log interfaces.ILogger) *Collector {
	return &Collector{
		verifier: verifier,
		log:      log,
	}
}

// Submit validates sub against c and returns the contract with the signature recorded.
// c is never mutated. Callers must hold the contract lock: the quorum check is only
// meaningful against the latest persisted state
func (s *Collector) Submit(ctx context.Context, c contract.Contract, sub Submission) (Result, error) {
	if c.Status != contract.StatusPendingSignatures {
		return Result{}, lib.WrapError(contract.ErrInvalidTransition, fmt.Errorf("contract %s is %s, signatures are not accepted", c.ID, c.Status))
	}

	if err := integrity.Check(c.Document, c.DocumentHash); err != nil {
		s.log.Errorf("stored document of contract %s does not match its hash", c.ID)
		return Result{}, err
	}
	if sub.DocumentHash != nil && *sub.DocumentHash != c.DocumentHash {
		return Result{}, lib.WrapError(contract.ErrIntegrity, fmt.Errorf("signed hash %s, contract hash %s", sub.DocumentHash.Hex(), c.DocumentHash.Hex()))
	}

	pubKey, err := lib.NormalizePubKey(sub.PublicKey)
	if err != nil {
		return Result{}, lib.WrapError(contract.ErrUnknownParty, err)
	}
	idx := c.PartyIndex(pubKey)
	if idx < 0 {
		return Result{}, lib.WrapError(contract.ErrUnknownParty, fmt.Errorf("%s is not a party of contract %s", pubKey, c.ID))
	}

	party := c.Parties[idx]
	if party.Signed() {
		if bytes.Equal(party.Signature, sub.Signature) {
			return Result{Contract: c, PartyIndex: idx, Idempotent: true}, nil
		}
		return Result{}, lib.WrapError(contract.ErrDuplicateSignature, fmt.Errorf("party %s already signed contract %s", pubKey, c.ID))
	}

	if c.Policy.RequireSequentialSigning {
		for i := 0; i < idx; i++ {
			if !c.Parties[i].Signed() {
				return Result{}, lib.WrapError(contract.ErrOutOfOrderSignature, fmt.Errorf("party %d must sign before party %d", i, idx))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !s.verifier.Verify(c.DocumentHash.Bytes(), sub.Signature, hexutil.MustDecode(pubKey)) {
		return Result{}, lib.WrapError(contract.ErrInvalidSignature, fmt.Errorf("signature of %s does not match document hash %s", pubKey, c.DocumentHash.Hex()))
	}

	next := c.Clone()
	signedAt := sub.SubmittedAt
	next.Parties[idx].Signature = bytes.Clone(sub.Signature)
	next.Parties[idx].SignedAt = &signedAt
	next.UpdatedAt = sub.SubmittedAt

	return Result{
		Contract:       next,
		PartyIndex:     idx,
		QuorumComplete: next.QuorumReached(),
	}, nil
}

// DisputeDigest is the message a party signs to raise a dispute:
// keccak256(contractID || "dispute" || reason)
func DisputeDigest(contractID, reason string) common.Hash {
	return crypto.Keccak256Hash([]byte(contractID), []byte("dispute"), []byte(reason))
}

// Authenticate checks that sig was produced over digest by the holder of publicKey
func (s *Collector) Authenticate(digest common.Hash, publicKey string, sig []byte) error {
	pubKey, err := lib.NormalizePubKey(publicKey)
	if err != nil {
		return lib.WrapError(contract.ErrInvalidSignature, err)
	}
	if !s.verifier.Verify(digest.Bytes(), sig, hexutil.MustDecode(pubKey)) {
		return lib.WrapError(contract.ErrInvalidSignature, fmt.Errorf("signature of %s does not match digest %s", pubKey, digest.Hex()))
	}
	return nil
}
