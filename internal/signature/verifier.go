package signature

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// Verifier checks that signature authenticates message under publicKey
type Verifier interface {
	Verify(message, signature, publicKey []byte) bool
}

// EthereumVerifier verifies secp256k1 signatures in the [R || S || V] format
// produced by go-ethereum's crypto.Sign. The message must be a 32 byte digest
type EthereumVerifier struct{}

func NewEthereumVerifier() *EthereumVerifier {
	return &EthereumVerifier{}
}

func (v *EthereumVerifier) Verify(message, signature, publicKey []byte) bool {
	if len(message) != 32 {
		return false
	}
	switch len(signature) {
	case crypto.SignatureLength:
		signature = signature[:crypto.RecoveryIDOffset] // drop V
	case crypto.SignatureLength - 1:
	default:
		return false
	}
	return crypto.VerifySignature(publicKey, message, signature)
}
