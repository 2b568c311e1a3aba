// Package integrity fingerprints contract documents and verifies them against
// a stored fingerprint.
package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

type Hash = common.Hash

var (
	ErrEmptyDocument = errors.New("empty document")
	ErrMalformedHash = errors.New("malformed hash")
	ErrHashMismatch  = errors.New("document hash mismatch")
)

// Canonicalize returns the bytes that are fingerprinted. JSON documents are
// transformed according to RFC 8785 so that key order and whitespace do not
// change the fingerprint, anything else is taken as is
func Canonicalize(doc []byte, contentType string) ([]byte, error) {
	if len(doc) == 0 {
		return nil, lib.WrapError(contract.ErrValidation, ErrEmptyDocument)
	}
	if !isJSON(contentType) {
		return bytes.Clone(doc), nil
	}
	canonical, err := jcs.Transform(doc)
	if err != nil {
		return nil, lib.WrapError(contract.ErrValidation, fmt.Errorf("invalid json document: %w", err))
	}
	return canonical, nil
}

// Fingerprint is keccak256 of the document bytes
func Fingerprint(doc []byte) Hash {
	return crypto.Keccak256Hash(doc)
}

// Verify never panics and fails closed: malformed input is reported as false
func Verify(doc []byte, expected Hash) bool {
	return Check(doc, expected) == nil
}

// Check is Verify for callers that need to know why verification failed
func Check(doc []byte, expected Hash) error {
	if len(doc) == 0 {
		return lib.WrapError(contract.ErrIntegrity, ErrEmptyDocument)
	}
	if expected == (Hash{}) {
		return lib.WrapError(contract.ErrIntegrity, ErrMalformedHash)
	}
	if Fingerprint(doc) != expected {
		return lib.WrapError(contract.ErrIntegrity, ErrHashMismatch)
	}
	return nil
}

// ParseHash parses a 0x prefixed (or bare) 32 byte hex string
func ParseHash(s string) (Hash, error) {
	raw, err := hexutil.Decode(lib.EnsureHexPrefix(strings.TrimSpace(s)))
	if err != nil {
		return Hash{}, lib.WrapError(contract.ErrIntegrity, fmt.Errorf("%w: %s", ErrMalformedHash, err))
	}
	if len(raw) != common.HashLength {
		return Hash{}, lib.WrapError(contract.ErrIntegrity, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedHash, common.HashLength, len(raw)))
	}
	return common.BytesToHash(raw), nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
