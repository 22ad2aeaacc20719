package volume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameStringParseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		n    *Name
	}{
		{"files, no encryption", NewName("duplicati", KindFiles, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "zstd", "")},
		{"index, encrypted", NewName("duplicati", KindIndex, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "gz", "aes")},
		{"blocks", NewName("b", KindBlocks, time.Unix(0, 0), "none", "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.n.String()
			got, err := ParseFilename(s)
			require.NoError(t, err)
			assert.Equal(t, tc.n.Prefix, got.Prefix)
			assert.Equal(t, tc.n.Kind, got.Kind)
			assert.Equal(t, tc.n.Time.UnixMilli(), got.Time.UnixMilli())
			assert.Equal(t, tc.n.Random, got.Random)
			assert.Equal(t, tc.n.CompressionModule, got.CompressionModule)
			assert.Equal(t, tc.n.EncryptionModule, got.EncryptionModule)
			assert.Equal(t, s, got.String())
		})
	}
}

func TestParseFilenameRejectsGarbage(t *testing.T) {
	for _, name := range []string{
		"",
		"not-a-volume-name",
		"duplicati-xAAAA-random.zstd",
		"duplicati-f!!!!-random.zstd",
	} {
		_, err := ParseFilename(name)
		assert.Error(t, err, name)
	}
}

func TestKindLetter(t *testing.T) {
	for k, want := range map[Kind]byte{KindFiles: 'f', KindIndex: 'i', KindBlocks: 'b'} {
		got, err := k.Letter()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := KindUnknown.Letter()
	assert.Error(t, err)
}
