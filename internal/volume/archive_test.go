package volume

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duprepair/duprepair/internal/compression"
)

func noneModule(t *testing.T) compression.Module {
	t.Helper()
	m, err := compression.Lookup("none")
	require.NoError(t, err)
	return m
}

func TestWriterReadBlocksRoundTrip(t *testing.T) {
	m := noneModule(t)
	w, err := NewWriter(KindBlocks, m)
	require.NoError(t, err)
	defer w.Dispose()

	require.NoError(t, w.AddBlock("hash-a", 3, bytes.NewReader([]byte("abc"))))
	require.NoError(t, w.AddBlock("hash-b", 0, nil))

	path, size, err := w.Close()
	require.NoError(t, err)
	defer os.Remove(path)
	assert.Greater(t, size, int64(0))

	archive, err := Read(path, KindBlocks, m)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), archive.Blocks[BlockKey("hash-a", 3)])
	assert.Contains(t, archive.BlockRefs, BlockRef{Hash: "hash-a", Size: 3})
	assert.Contains(t, archive.BlockRefs, BlockRef{Hash: "hash-b", Size: 0})
}

func TestWriterReadIndexRoundTrip(t *testing.T) {
	m := noneModule(t)
	w, err := NewWriter(KindIndex, m)
	require.NoError(t, err)
	defer w.Dispose()

	require.NoError(t, w.StartVolume("data-vol-1"))
	require.NoError(t, w.AddBlock("hash-a", 10, nil))
	require.NoError(t, w.AddBlock("hash-b", 20, nil))
	require.NoError(t, w.FinishVolume())
	require.NoError(t, w.WriteBlockList("list-hash", []string{"hash-a", "hash-b"}))

	path, _, err := w.Close()
	require.NoError(t, err)
	defer os.Remove(path)

	archive, err := Read(path, KindIndex, m)
	require.NoError(t, err)
	assert.Equal(t, []BlockRef{{Hash: "hash-a", Size: 10}, {Hash: "hash-b", Size: 20}}, archive.IndexSections["data-vol-1"])
	assert.Equal(t, []string{"hash-a", "hash-b"}, archive.BlockLists["list-hash"])
}

func TestWriterCloseWithOpenSectionFails(t *testing.T) {
	m := noneModule(t)
	w, err := NewWriter(KindIndex, m)
	require.NoError(t, err)
	defer w.Dispose()

	require.NoError(t, w.StartVolume("data-vol-1"))
	_, _, err = w.Close()
	assert.Error(t, err)
}

func TestWriterReadFilesRoundTrip(t *testing.T) {
	m := noneModule(t)
	w, err := NewWriter(KindFiles, m)
	require.NoError(t, err)
	defer w.Dispose()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, w.WriteFileEntry(FileEntry{Path: "/a.txt", Size: 3, ModTime: now, BlockHash: "hash-a"}))
	require.NoError(t, w.WriteControl("manifest", []byte("control-data")))

	path, _, err := w.Close()
	require.NoError(t, err)
	defer os.Remove(path)

	archive, err := Read(path, KindFiles, m)
	require.NoError(t, err)
	require.Len(t, archive.Entries, 1)
	assert.Equal(t, "/a.txt", archive.Entries[0].Path)
	assert.Equal(t, []byte("control-data"), archive.Controls["manifest"])
}

func TestAddBlockWrongKindRejected(t *testing.T) {
	m := noneModule(t)
	w, err := NewWriter(KindFiles, m)
	require.NoError(t, err)
	defer w.Dispose()

	err = w.AddBlock("h", 1, nil)
	assert.Error(t, err)
}
