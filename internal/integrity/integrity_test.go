package integrity

import (
	"testing"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	doc := []byte("Service agreement between A and B")
	require.Equal(t, Fingerprint(doc), Fingerprint(doc))
	require.True(t, Verify(doc, Fingerprint(doc)))
}

func TestVerifyFailsClosed(t *testing.T) {
	doc := []byte("doc")

	require.False(t, Verify(nil, Fingerprint(doc)))
	require.False(t, Verify(doc, Hash{}))
	require.False(t, Verify(doc, Fingerprint([]byte("other"))))

	err := Check(doc, Fingerprint([]byte("other")))
	require.ErrorIs(t, err, contract.ErrIntegrity)
	require.ErrorIs(t, err, ErrHashMismatch)

	err = Check(nil, Fingerprint(doc))
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestCanonicalizeJSON(t *testing.T) {
	a, err := Canonicalize([]byte(`{"b": 1, "a": "x"}`), "application/json")
	require.NoError(t, err)
	b, err := Canonicalize([]byte(`{"a":"x","b":1}`), "application/json; charset=utf-8")
	require.NoError(t, err)
	require.Equal(t, Fingerprint(a), Fingerprint(b))

	_, err = Canonicalize([]byte(`{"a":`), "application/json")
	require.ErrorIs(t, err, contract.ErrValidation)

	raw, err := Canonicalize([]byte(`{"b": 1}`), "text/plain")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"b": 1}`), raw)

	_, err = Canonicalize(nil, "text/plain")
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestParseHash(t *testing.T) {
	h := Fingerprint([]byte("doc"))

	parsed, err := ParseHash(h.Hex())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	parsed, err = ParseHash(h.Hex()[2:])
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = ParseHash("0x1234")
	require.ErrorIs(t, err, ErrMalformedHash)
	_, err = ParseHash("not hex")
	require.ErrorIs(t, err, contract.ErrIntegrity)
}

func TestVerifyDetectsSingleBitMutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("verify(doc, fingerprint(doc)) holds", prop.ForAll(
		func(doc []byte) bool {
			return Verify(doc, Fingerprint(doc))
		},
		gen.SliceOf(gen.UInt8()).SuchThat(func(doc []byte) bool { return len(doc) > 0 }),
	))

	properties.Property("any single bit flip breaks verification", prop.ForAll(
		func(doc []byte, pos int) bool {
			expected := Fingerprint(doc)
			mutated := append([]byte(nil), doc...)
			bit := pos % (len(doc) * 8)
			mutated[bit/8] ^= 1 << (bit % 8)
			return !Verify(mutated, expected)
		},
		gen.SliceOf(gen.UInt8()).SuchThat(func(doc []byte) bool { return len(doc) > 0 }),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}
