package lib

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func PrivKeyToAddr(privateKey *ecdsa.PrivateKey) (common.Address, error) {
	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return common.Address{}, fmt.Errorf("error casting public key to ECDSA")
	}

	return crypto.PubkeyToAddress(*publicKeyECDSA), nil
}

// ParsePubKey accepts a hex encoded secp256k1 public key, either
// uncompressed (65 bytes) or compressed (33 bytes), with or without 0x prefix
func ParsePubKey(pubKeyHex string) (*ecdsa.PublicKey, error) {
	raw, err := hexutil.Decode(EnsureHexPrefix(pubKeyHex))
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case 33:
		return crypto.DecompressPubkey(raw)
	case 65:
		return crypto.UnmarshalPubkey(raw)
	default:
		return nil, fmt.Errorf("invalid public key length %d", len(raw))
	}
}

// NormalizePubKey returns the canonical representation of a public key:
// 0x prefixed lowercase hex of the uncompressed form
func NormalizePubKey(pubKeyHex string) (string, error) {
	pub, err := ParsePubKey(pubKeyHex)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(crypto.FromECDSAPub(pub)), nil
}

func PubKeyStringToAddr(pubKeyHex string) (common.Address, error) {
	pub, err := ParsePubKey(pubKeyHex)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func EnsureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "0x" + s[2:]
	}
	return "0x" + s
}
