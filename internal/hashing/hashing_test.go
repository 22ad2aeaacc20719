package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownAlgorithms(t *testing.T) {
	for id, size := range map[string]int{"sha256": 32, "xxh64": 8} {
		a, err := Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, id, a.ID())
		assert.Equal(t, size, a.Size())
	}
}

func TestLookupUnknownAlgorithm(t *testing.T) {
	_, err := Lookup("bogus")
	assert.Error(t, err)
}

func TestAlgorithmDigestSizeMatchesSize(t *testing.T) {
	for _, id := range []string{"sha256", "xxh64"} {
		a, err := Lookup(id)
		require.NoError(t, err)
		h := a.New()
		_, err = h.Write([]byte("hello world"))
		require.NoError(t, err)
		assert.Equal(t, a.Size(), len(h.Sum(nil)))
	}
}

func TestAlgorithmIsDeterministic(t *testing.T) {
	a, err := Lookup("sha256")
	require.NoError(t, err)

	h1 := a.New()
	h1.Write([]byte("block payload"))
	h2 := a.New()
	h2.Write([]byte("block payload"))

	assert.Equal(t, h1.Sum(nil), h2.Sum(nil))
}

func TestDigestEncodeDecodeRoundTrip(t *testing.T) {
	raw := []byte{0x01, 0x02, 0xff, 0x00}
	encoded := EncodeDigest(raw)
	decoded, err := DecodeDigest(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDecodeDigestRejectsInvalidBase64(t *testing.T) {
	_, err := DecodeDigest("not base64!!")
	assert.Error(t, err)
}

func TestSum(t *testing.T) {
	digest, err := Sum("sha256", []byte("data"))
	require.NoError(t, err)
	raw, err := DecodeDigest(digest)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
