package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// GetBlocks returns every block known to live in volumeID.
func (d *DB) GetBlocks(ctx context.Context, volumeID int64) ([]Block, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT hash, size, volume_id, restored FROM block WHERE volume_id = ?", volumeID)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetBlocks")
	}
	defer rows.Close()
	var out []Block
	for rows.Next() {
		var b Block
		var restored int
		if err := rows.Scan(&b.Hash, &b.Size, &b.VolumeID, &restored); err != nil {
			return nil, err
		}
		b.Restored = restored != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBlocklists returns block-list rows carried by volumeID. blocksize and
// hashsize are accepted to match the spec's interface signature (§6); the
// schema itself stores lengths directly rather than needing them to decode
// a packed binary payload.
func (d *DB) GetBlocklists(ctx context.Context, volumeID int64, blocksize, hashsize int64) ([]BlockList, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT hash, length, volume_id FROM blocklist WHERE volume_id = ?", volumeID)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetBlocklists")
	}
	defer rows.Close()
	var out []BlockList
	for rows.Next() {
		var bl BlockList
		if err := rows.Scan(&bl.Hash, &bl.Length, &bl.VolumeID); err != nil {
			return nil, err
		}
		out = append(out, bl)
	}
	return out, rows.Err()
}

// BlockListHelper is the per-volume helper spec.md §6 calls CreateBlockList:
// a scoped object exposing block-recovery queries for one missing data
// volume's repair.
type BlockListHelper struct {
	db         *DB
	volumeName string
}

// CreateBlockList returns a BlockListHelper scoped to volumeName.
func (d *DB) CreateBlockList(ctx context.Context, volumeName string) (*BlockListHelper, error) {
	return &BlockListHelper{db: d, volumeName: volumeName}, nil
}

// GetSourceFilesWithBlocks returns, for hash/size, every local file+offset
// where that block was last seen during the previous backup (source (a) of
// the block locator, spec.md §4.3).
func (h *BlockListHelper) GetSourceFilesWithBlocks(ctx context.Context, hash string, size int64) ([]BlockSource, error) {
	rows, err := h.db.sql.QueryContext(ctx,
		"SELECT local_path, offset FROM block_source WHERE hash = ? AND size = ?", hash, size)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetSourceFilesWithBlocks")
	}
	defer rows.Close()
	var out []BlockSource
	for rows.Next() {
		var s BlockSource
		if err := rows.Scan(&s.LocalPath, &s.Offset); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MissingBlockRef is one (hash,size) pair a source volume can supply.
type MissingBlockRef struct {
	Hash string
	Size int64
}

// GetMissingBlockSources returns, for every block this helper's volume
// held that is still unrestored, the set of other remote data volumes that
// currently also hold that (hash,size) (source (b) of the block locator),
// grouped by source volume name so the locator can batch one download per
// source volume (spec.md §4.3 step 2's "batched overlapped-fetch").
func (h *BlockListHelper) GetMissingBlockSources(ctx context.Context) (map[string][]MissingBlockRef, error) {
	rows, err := h.db.sql.QueryContext(ctx, `
		SELECT missing.hash, missing.size, other_volume.name
		FROM block AS missing
		JOIN remote_volume AS missing_volume ON missing_volume.id = missing.volume_id
		JOIN block AS other ON other.hash = missing.hash AND other.size = missing.size AND other.volume_id != missing.volume_id
		JOIN remote_volume AS other_volume ON other_volume.id = other.volume_id
		WHERE missing_volume.name = ? AND missing.restored = 0
		  AND other_volume.state IN (?, ?)`,
		h.volumeName, string(StateUploaded), string(StateVerified))
	if err != nil {
		return nil, errors.Wrap(err, "database: GetMissingBlockSources")
	}
	defer rows.Close()
	out := map[string][]MissingBlockRef{}
	for rows.Next() {
		var hash, volName string
		var size int64
		if err := rows.Scan(&hash, &size, &volName); err != nil {
			return nil, err
		}
		out[volName] = append(out[volName], MissingBlockRef{Hash: hash, Size: size})
	}
	return out, rows.Err()
}

// ResetMissingVolumeBlocks clears the restored flag for every block
// volumeID holds, the block locator's step 0 (spec.md §4.3): a repair run
// always starts a missing volume's recovery from "nothing recovered yet",
// independent of whatever an earlier, unrelated run left behind.
func (d *DB) ResetMissingVolumeBlocks(ctx context.Context, volumeID int64) error {
	_, err := d.sql.ExecContext(ctx, "UPDATE block SET restored = 0 WHERE volume_id = ?", volumeID)
	if err != nil {
		return errors.Wrap(err, "database: ResetMissingVolumeBlocks")
	}
	return nil
}

// SetBlockRestored marks hash/size as recovered for this helper's volume.
func (h *BlockListHelper) SetBlockRestored(ctx context.Context, hash string, size int64) error {
	_, err := h.db.sql.ExecContext(ctx,
		`UPDATE block SET restored = 1 WHERE hash = ? AND size = ? AND volume_id = (SELECT id FROM remote_volume WHERE name = ?)`,
		hash, size, h.volumeName)
	if err != nil {
		return errors.Wrap(err, "database: SetBlockRestored")
	}
	return nil
}

// GetMissingBlocks returns every block of this helper's volume still not
// restored. Per spec.md §8 property 6, no Put may be issued for the
// rebuilt volume while this is non-empty.
func (h *BlockListHelper) GetMissingBlocks(ctx context.Context) ([]Block, error) {
	rows, err := h.db.sql.QueryContext(ctx,
		`SELECT block.hash, block.size, block.volume_id, block.restored FROM block
		 JOIN remote_volume ON remote_volume.id = block.volume_id
		 WHERE remote_volume.name = ? AND block.restored = 0`, h.volumeName)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetMissingBlocks")
	}
	defer rows.Close()
	var out []Block
	for rows.Next() {
		var b Block
		var restored int
		if err := rows.Scan(&b.Hash, &b.Size, &b.VolumeID, &restored); err != nil {
			return nil, err
		}
		b.Restored = restored != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetFilesetsUsingMissingBlocks names the filesets affected if this
// helper's volume cannot be fully rebuilt, for the RepairIsNotPossible
// diagnostic of spec.md §4.3 step 3.
func (h *BlockListHelper) GetFilesetsUsingMissingBlocks(ctx context.Context) ([]int64, error) {
	rows, err := h.db.sql.QueryContext(ctx, `
		SELECT DISTINCT fileset_entry.fileset_id FROM fileset_entry
		JOIN block ON (block.hash = fileset_entry.block_hash OR block.hash = fileset_entry.block_list_hash)
		JOIN remote_volume ON remote_volume.id = block.volume_id
		WHERE remote_volume.name = ? AND block.restored = 0`, h.volumeName)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetFilesetsUsingMissingBlocks")
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CheckAllBlocksAreInVolume verifies every hash in blocks is recorded as
// living in dataVolumeName, part of index-adoption validation (spec.md
// §4.2 phase 2 check (d)).
func (d *DB) CheckAllBlocksAreInVolume(ctx context.Context, dataVolumeName string, blocks []struct {
	Hash string
	Size int64
}) (bool, error) {
	for _, b := range blocks {
		row := d.sql.QueryRowContext(ctx, `
			SELECT 1 FROM block
			JOIN remote_volume ON remote_volume.id = block.volume_id
			WHERE remote_volume.name = ? AND block.hash = ? AND block.size = ?`,
			dataVolumeName, b.Hash, b.Size)
		var one int
		if err := row.Scan(&one); err == sql.ErrNoRows {
			return false, nil
		} else if err != nil {
			return false, errors.Wrap(err, "database: CheckAllBlocksAreInVolume")
		}
	}
	return true, nil
}

// BlockKnown reports whether hash/size is recorded in any volume, the
// per-entry check fileset.VerifyReferences runs for single-block files.
func (d *DB) BlockKnown(ctx context.Context, hash string, size int64) (bool, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT 1 FROM block WHERE hash = ? AND size = ?", hash, size)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "database: BlockKnown")
	}
	return true, nil
}

// BlocklistKnown reports whether hash has a blocklist row at all, the
// per-entry check fileset.VerifyReferences runs for multi-block files.
func (d *DB) BlocklistKnown(ctx context.Context, hash string) (bool, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT 1 FROM blocklist WHERE hash = ?", hash)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "database: BlocklistKnown")
	}
	return true, nil
}

// CheckBlocklistCorrect reports whether the DB has a blocklist row for hash
// whose recorded length equals length. The schema keeps no per-block
// sequence, so the individual block hashes are not compared.
func (d *DB) CheckBlocklistCorrect(ctx context.Context, hash string, length int64) (bool, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT length FROM blocklist WHERE hash = ?", hash)
	var dbLength int64
	err := row.Scan(&dbLength)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "database: CheckBlocklistCorrect")
	}
	return dbLength == length, nil
}

// WriteFileset replaces filesetID's entries with entries, inside tx.
func (d *DB) WriteFileset(ctx context.Context, tx *Tx, filesetID int64, entries []FilesetEntry) error {
	if err := d.DeleteFilesetEntries(ctx, tx, filesetID); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := d.q(tx).ExecContext(ctx,
			`INSERT INTO fileset_entry (fileset_id, path, is_dir, size, mod_time, block_hash, block_list_hash)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			filesetID, e.Path, boolToInt(e.IsDir), e.Size, e.ModTime.UTC().UnixMilli(), e.BlockHash, e.BlockListHash)
		if err != nil {
			return errors.Wrap(err, "database: WriteFileset")
		}
	}
	return nil
}

// GetFilesetEntries returns every entry of filesetID, used to serialize a
// fileset volume back out when no linked remote volume exists (spec.md
// §4.2 phase 4).
func (d *DB) GetFilesetEntries(ctx context.Context, filesetID int64) ([]FilesetEntry, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT path, is_dir, size, mod_time, block_hash, block_list_hash FROM fileset_entry WHERE fileset_id = ?", filesetID)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetFilesetEntries")
	}
	defer rows.Close()
	var out []FilesetEntry
	for rows.Next() {
		var e FilesetEntry
		var isDir int
		var ms int64
		if err := rows.Scan(&e.Path, &isDir, &e.Size, &ms, &e.BlockHash, &e.BlockListHash); err != nil {
			return nil, err
		}
		e.FilesetID = filesetID
		e.IsDir = isDir != 0
		e.ModTime = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteFilesetEntries removes every entry of filesetID, the first step of
// both broken-fileset repair (spec.md §4.7) and WriteFileset.
func (d *DB) DeleteFilesetEntries(ctx context.Context, tx *Tx, filesetID int64) error {
	_, err := d.q(tx).ExecContext(ctx, "DELETE FROM fileset_entry WHERE fileset_id = ?", filesetID)
	if err != nil {
		return errors.Wrap(err, "database: DeleteFilesetEntries")
	}
	return nil
}

// GetFilesetsWithMissingFiles enumerates filesets with at least one file
// entry referencing an unknown/missing block, per spec.md §4.7.
func (d *DB) GetFilesetsWithMissingFiles(ctx context.Context) ([]Fileset, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT DISTINCT fileset.id, fileset.time, fileset.is_full_backup FROM fileset
		JOIN fileset_entry ON fileset_entry.fileset_id = fileset.id
		WHERE fileset_entry.is_dir = 0
		  AND fileset_entry.block_hash != '' AND NOT EXISTS (
		    SELECT 1 FROM block WHERE block.hash = fileset_entry.block_hash
		  )
		  AND (fileset_entry.block_list_hash = '' OR NOT EXISTS (
		    SELECT 1 FROM blocklist WHERE blocklist.hash = fileset_entry.block_list_hash
		  ))`)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetFilesetsWithMissingFiles")
	}
	defer rows.Close()
	var out []Fileset
	for rows.Next() {
		var fs Fileset
		var ms int64
		var full int
		if err := rows.Scan(&fs.ID, &ms, &full); err != nil {
			return nil, err
		}
		fs.Time = time.UnixMilli(ms).UTC()
		fs.IsFullBackup = full != 0
		out = append(out, fs)
	}
	return out, rows.Err()
}
