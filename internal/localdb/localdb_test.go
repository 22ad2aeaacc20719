package localdb

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBackupNameFreePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repo.sqlite")

	got, err := NextBackupName(path)
	require.NoError(t, err)
	assert.Equal(t, path+".backup", got)
}

func TestNextBackupNameSkipsTaken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repo.sqlite")
	require.NoError(t, os.WriteFile(path+".backup", []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path+".backup-1", []byte("x"), 0o644))

	got, err := NextBackupName(path)
	require.NoError(t, err)
	assert.Equal(t, path+".backup-2", got)
}

func TestNextBackupNameExhausted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repo.sqlite")
	require.NoError(t, os.WriteFile(path+".backup", []byte("x"), 0o644))
	for n := 1; n < maxBackupAttempts; n++ {
		name := path + ".backup-" + strconv.Itoa(n)
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}

	_, err := NextBackupName(path)
	assert.Error(t, err)
}
