package testutil

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is a throwaway secp256k1 identity for tests
type Signer struct {
	Key       *ecdsa.PrivateKey
	PublicKey string
	Email     string
}

func NewSigner(t *testing.T, email string) Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Signer{
		Key:       key,
		PublicKey: hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		Email:     email,
	}
}

func (s Signer) Sign(t *testing.T, hash common.Hash) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash.Bytes(), s.Key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func (s Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.Key.PublicKey)
}
