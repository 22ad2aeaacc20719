package repair

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duprepair/duprepair/internal/backend/local"
	"github.com/duprepair/duprepair/internal/config"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/progress"
	"github.com/duprepair/duprepair/internal/repairerr"
)

func testOptions(dbpath string) config.Options {
	return config.Options{
		Dbpath:             dbpath,
		Blocksize:          100 * 1024 * 1024,
		BlockhashSize:      32,
		BlockHashAlgorithm: "sha256",
		CompressionModule:  "none",
		IndexfilePolicy:    config.IndexfilePolicyFull,
	}
}

func TestRunNoDatabaseFileDelegatesToRecreateAndFailsWithoutOne(t *testing.T) {
	dir := t.TempDir()
	// Dbpath never created on disk; a live *database.DB is still required
	// to construct a Coordinator, so open one elsewhere and point opt.Dbpath
	// at a path os.Stat will report as missing (Run branches on that, not
	// on the DB handle's own backing file).
	realDB := filepath.Join(dir, "real.sqlite")
	db, err := database.Open(realDB, 0)
	require.NoError(t, err)
	defer db.Close()

	back := local.New(filepath.Join(dir, "remote"))
	opt := testOptions(filepath.Join(dir, "missing.sqlite"))
	c, err := New(db, back, opt, NopRecreator{}, progress.NopSink{})
	require.NoError(t, err)

	_, statErr := os.Stat(opt.Dbpath)
	require.True(t, os.IsNotExist(statErr))

	_, err = c.Run(context.Background(), nil)
	require.Error(t, err)
	var uerr *repairerr.UserInformationError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, repairerr.HelpDatabaseDoesNotExist, uerr.HelpID)
}

func TestRunEmptyDatabaseDryRunSkipsRecreateAndRunsConsistency(t *testing.T) {
	dir := t.TempDir()
	dbpath := filepath.Join(dir, "repo.sqlite")

	db, err := database.Open(dbpath, 0)
	require.NoError(t, err)
	defer db.Close()

	back := local.New(filepath.Join(dir, "remote"))
	opt := testOptions(dbpath)
	opt.Dryrun = true
	c, err := New(db, back, opt, NopRecreator{}, progress.NopSink{})
	require.NoError(t, err)

	report, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, report.StartTime.IsZero())
	assert.False(t, report.EndTime.IsZero())
}

func TestRunEmptyDatabaseNonDryRunPropagatesRecreateFailure(t *testing.T) {
	dir := t.TempDir()
	dbpath := filepath.Join(dir, "repo.sqlite")

	db, err := database.Open(dbpath, 0)
	require.NoError(t, err)
	defer db.Close()

	back := local.New(filepath.Join(dir, "remote"))
	c, err := New(db, back, testOptions(dbpath), NopRecreator{}, progress.NopSink{})
	require.NoError(t, err)

	_, err = c.Run(context.Background(), nil)
	assert.ErrorIs(t, err, errRecreateUnavailable)
}

func TestNewRejectsPassphraseChange(t *testing.T) {
	dir := t.TempDir()
	dbpath := filepath.Join(dir, "repo.sqlite")
	db, err := database.Open(dbpath, 0)
	require.NoError(t, err)
	defer db.Close()

	back := local.New(filepath.Join(dir, "remote"))
	opt := testOptions(dbpath)
	opt.AllowPassphraseChange = true

	_, err = New(db, back, opt, NopRecreator{}, progress.NopSink{})
	require.Error(t, err)
	var uerr *repairerr.UserInformationError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, repairerr.HelpPassphraseChangeUnsupported, uerr.HelpID)
}
