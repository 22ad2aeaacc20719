package database

import (
	"context"

	"github.com/pkg/errors"
)

// InsertBlock records that hash/size lives in volumeID, replacing any
// earlier row for the same (hash,size).
func (d *DB) InsertBlock(ctx context.Context, tx *Tx, hash string, size, volumeID int64, restored bool) error {
	_, err := d.q(tx).ExecContext(ctx,
		"INSERT OR REPLACE INTO block (hash, size, volume_id, restored) VALUES (?, ?, ?, ?)",
		hash, size, volumeID, boolToInt(restored))
	if err != nil {
		return errors.Wrap(err, "database: InsertBlock")
	}
	return nil
}

// InsertBlockList records a blocklist row, optionally bound to the index
// volume carrying its payload (volumeID may be 0 for "unbound").
func (d *DB) InsertBlockList(ctx context.Context, tx *Tx, hash string, length, volumeID int64) error {
	_, err := d.q(tx).ExecContext(ctx,
		"INSERT OR REPLACE INTO blocklist (hash, length, volume_id) VALUES (?, ?, ?)",
		hash, length, volumeID)
	if err != nil {
		return errors.Wrap(err, "database: InsertBlockList")
	}
	return nil
}

// InsertBlockSource records a local-file source hint for hash/size, the
// source the block locator's step 1 (spec.md §4.3) reads back via
// BlockListHelper.GetSourceFilesWithBlocks.
func (d *DB) InsertBlockSource(ctx context.Context, hash string, size int64, localPath string, offset int64) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO block_source (hash, size, local_path, offset) VALUES (?, ?, ?, ?)",
		hash, size, localPath, offset)
	if err != nil {
		return errors.Wrap(err, "database: InsertBlockSource")
	}
	return nil
}

// InsertFilesetEntry adds a single entry to e.FilesetID. Fileset
// reconstruction writes its entries through WriteFileset instead.
func (d *DB) InsertFilesetEntry(ctx context.Context, tx *Tx, e FilesetEntry) error {
	_, err := d.q(tx).ExecContext(ctx,
		`INSERT INTO fileset_entry (fileset_id, path, is_dir, size, mod_time, block_hash, block_list_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.FilesetID, e.Path, boolToInt(e.IsDir), e.Size, e.ModTime.UTC().UnixMilli(), e.BlockHash, e.BlockListHash)
	if err != nil {
		return errors.Wrap(err, "database: InsertFilesetEntry")
	}
	return nil
}

// GetFilesetEntries returns every entry of filesetID.
func (d *DB) GetFilesetEntries(ctx context.Context, filesetID int64) ([]FilesetEntry, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT fileset_id, path, is_dir, size, mod_time, block_hash, block_list_hash FROM fileset_entry WHERE fileset_id = ?", filesetID)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetFilesetEntries")
	}
	defer rows.Close()
	var out []FilesetEntry
	for rows.Next() {
		var e FilesetEntry
		var isDir int
		var ms int64
		if err := rows.Scan(&e.FilesetID, &e.Path, &isDir, &e.Size, &ms, &e.BlockHash, &e.BlockListHash); err != nil {
			return nil, err
		}
		e.IsDir = isDir != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
