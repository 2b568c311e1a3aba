package signature

import (
	"context"
	"testing"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/integrity"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/testutil"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	collector *Collector
	contract  contract.Contract
	alice     testutil.Signer
	bob       testutil.Signer
}

func newFixture(t *testing.T, sequential bool) *fixture {
	alice := testutil.NewSigner(t, "alice@example.com")
	bob := testutil.NewSigner(t, "bob@example.com")
	doc := []byte("supply agreement v1")

	return &fixture{
		collector: NewCollector(NewEthereumVerifier(), lib.NewTestLogger()),
		alice:     alice,
		bob:       bob,
		contract: contract.Contract{
			ID:           "c1",
			Document:     doc,
			DocumentHash: integrity.Fingerprint(doc),
			Status:       contract.StatusPendingSignatures,
			Policy:       contract.Policy{MinSigners: 2, RequireSequentialSigning: sequential},
			Parties: []contract.Party{
				{PublicKey: alice.PublicKey, Email: alice.Email, Role: contract.RoleInitiator},
				{PublicKey: bob.PublicKey, Email: bob.Email, Role: contract.RoleCounterparty},
			},
		},
	}
}

func (f *fixture) submission(t *testing.T, s testutil.Signer) Submission {
	return Submission{
		ContractID:  f.contract.ID,
		PublicKey:   s.PublicKey,
		Signature:   s.Sign(t, f.contract.DocumentHash),
		SubmittedAt: now,
	}
}

func TestSubmitCompletesQuorum(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.collector.Submit(ctx, f.contract, f.submission(t, f.bob))
	require.NoError(t, err)
	require.False(t, res.QuorumComplete)
	require.Equal(t, 1, res.PartyIndex)
	require.True(t, res.Contract.Parties[1].Signed())
	require.Equal(t, now, *res.Contract.Parties[1].SignedAt)
	require.False(t, f.contract.Parties[1].Signed(), "input contract must not be mutated")

	res, err = f.collector.Submit(ctx, res.Contract, f.submission(t, f.alice))
	require.NoError(t, err)
	require.True(t, res.QuorumComplete)
}

func TestSubmitTamperedHash(t *testing.T) {
	f := newFixture(t, false)

	sub := f.submission(t, f.alice)
	sub.Signature = f.alice.Sign(t, integrity.Fingerprint([]byte("supply agreement v2")))

	_, err := f.collector.Submit(context.Background(), f.contract, sub)
	require.ErrorIs(t, err, contract.ErrInvalidSignature)
}

func TestSubmitWrongSigner(t *testing.T) {
	f := newFixture(t, false)

	sub := f.submission(t, f.alice)
	sub.Signature = f.bob.Sign(t, f.contract.DocumentHash)

	_, err := f.collector.Submit(context.Background(), f.contract, sub)
	require.ErrorIs(t, err, contract.ErrInvalidSignature)
}

func TestSubmitResubmission(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	sub := f.submission(t, f.alice)

	res, err := f.collector.Submit(ctx, f.contract, sub)
	require.NoError(t, err)
	signed := res.Contract

	res, err = f.collector.Submit(ctx, signed, sub)
	require.NoError(t, err, "identical resubmission is not an error")
	require.True(t, res.Idempotent)
	require.Equal(t, signed, res.Contract)

	other := sub
	other.Signature = f.alice.Sign(t, f.contract.DocumentHash)
	other.Signature[0] ^= 0xff
	_, err = f.collector.Submit(ctx, signed, other)
	require.ErrorIs(t, err, contract.ErrDuplicateSignature)
}

func TestSubmitSequential(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.collector.Submit(ctx, f.contract, f.submission(t, f.bob))
	require.ErrorIs(t, err, contract.ErrOutOfOrderSignature)

	res, err := f.collector.Submit(ctx, f.contract, f.submission(t, f.alice))
	require.NoError(t, err)

	res, err = f.collector.Submit(ctx, res.Contract, f.submission(t, f.bob))
	require.NoError(t, err)
	require.True(t, res.QuorumComplete)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	t.Run("wrong state", func(t *testing.T) {
		c := f.contract.Clone()
		c.Status = contract.StatusExpired
		_, err := f.collector.Submit(ctx, c, f.submission(t, f.alice))
		require.ErrorIs(t, err, contract.ErrInvalidTransition)
	})

	t.Run("unknown party", func(t *testing.T) {
		stranger := testutil.NewSigner(t, "x@example.com")
		_, err := f.collector.Submit(ctx, f.contract, f.submission(t, stranger))
		require.ErrorIs(t, err, contract.ErrUnknownParty)
	})

	t.Run("claimed hash differs", func(t *testing.T) {
		sub := f.submission(t, f.alice)
		other := integrity.Fingerprint([]byte("other"))
		sub.DocumentHash = &other
		_, err := f.collector.Submit(ctx, f.contract, sub)
		require.ErrorIs(t, err, contract.ErrIntegrity)
	})

	t.Run("stored document corrupted", func(t *testing.T) {
		c := f.contract.Clone()
		c.Document[0] ^= 1
		_, err := f.collector.Submit(ctx, c, f.submission(t, f.alice))
		require.ErrorIs(t, err, contract.ErrIntegrity)
	})
}

func TestEthereumVerifier(t *testing.T) {
	s := testutil.NewSigner(t, "a@example.com")
	hash := integrity.Fingerprint([]byte("doc"))
	sig := s.Sign(t, hash)
	pub := mustDecode(t, s.PublicKey)

	v := NewEthereumVerifier()
	require.True(t, v.Verify(hash.Bytes(), sig, pub))
	require.True(t, v.Verify(hash.Bytes(), sig[:64], pub), "signature without recovery id")
	require.False(t, v.Verify(hash.Bytes()[:31], sig, pub))
	require.False(t, v.Verify(hash.Bytes(), sig[:10], pub))
	require.False(t, v.Verify(integrity.Fingerprint([]byte("doc2")).Bytes(), sig, pub))
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hexutil.Decode(s)
	require.NoError(t, err)
	return b
}
