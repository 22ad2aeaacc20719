package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownModules(t *testing.T) {
	for _, id := range []string{"gz", "zstd", "none"} {
		m, err := Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, id, m.ID())
	}
}

func TestLookupUnknownModule(t *testing.T) {
	_, err := Lookup("bogus")
	assert.Error(t, err)
}

func TestModuleRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated several times, repeated several times")
	for _, id := range []string{"gz", "zstd", "none"} {
		t.Run(id, func(t *testing.T) {
			m, err := Lookup(id)
			require.NoError(t, err)

			var buf bytes.Buffer
			w, err := m.NewWriter(&buf)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := m.NewReader(&buf)
			require.NoError(t, err)
			defer r.Close()
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDescribe(t *testing.T) {
	m, err := Lookup("none")
	require.NoError(t, err)
	assert.Contains(t, Describe(m), "none")
}
