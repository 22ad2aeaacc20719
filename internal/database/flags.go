package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Flag names, spec.md §3 "Guarded flags".
const (
	FlagPartiallyRecreated       = "PartiallyRecreated"
	FlagRepairInProgress         = "RepairInProgress"
	FlagTerminatedWithActiveUploads = "TerminatedWithActiveUploads"
)

func (d *DB) getFlag(ctx context.Context, key string) (bool, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT value FROM flag WHERE key = ?", key)
	var v int
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "database: read flag %s", key)
	}
	return v != 0, nil
}

func (d *DB) setFlag(ctx context.Context, key string, value bool) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO flag (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, boolToInt(value))
	if err != nil {
		return errors.Wrapf(err, "database: write flag %s", key)
	}
	return nil
}

// PartiallyRecreated reports whether the DB was last left mid-recreate.
func (d *DB) PartiallyRecreated(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, FlagPartiallyRecreated)
}

// SetPartiallyRecreated sets/clears the PartiallyRecreated flag.
func (d *DB) SetPartiallyRecreated(ctx context.Context, v bool) error {
	return d.setFlag(ctx, FlagPartiallyRecreated, v)
}

// RepairInProgress reports whether a previous repair run did not finish.
func (d *DB) RepairInProgress(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, FlagRepairInProgress)
}

// SetRepairInProgress sets/clears the RepairInProgress flag.
func (d *DB) SetRepairInProgress(ctx context.Context, v bool) error {
	return d.setFlag(ctx, FlagRepairInProgress, v)
}

// TerminatedWithActiveUploads reports whether a reupload burst may still be
// in flight from a previous, interrupted run.
func (d *DB) TerminatedWithActiveUploads(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, FlagTerminatedWithActiveUploads)
}

// SetTerminatedWithActiveUploads sets/clears the flag. Set strictly before
// the first reupload Put and cleared strictly after the post-burst drain
// (spec.md §5's ordering guarantee).
func (d *DB) SetTerminatedWithActiveUploads(ctx context.Context, v bool) error {
	return d.setFlag(ctx, FlagTerminatedWithActiveUploads, v)
}

// VerifyConsistencyForRepair runs the DB-wide sanity check spec.md §4.2
// requires before remote reconciliation starts: every volume referenced by
// a block must exist as a remote_volume row. Whether fileset entries'
// block references resolve is not checked here.
func (d *DB) VerifyConsistencyForRepair(ctx context.Context) error {
	row := d.sql.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM block
		WHERE volume_id NOT IN (SELECT id FROM remote_volume)`)
	var orphanBlocks int
	if err := row.Scan(&orphanBlocks); err != nil {
		return errors.Wrap(err, "database: VerifyConsistencyForRepair")
	}
	if orphanBlocks > 0 {
		return errors.Errorf("database: %d blocks reference a non-existent remote volume", orphanBlocks)
	}
	return nil
}
