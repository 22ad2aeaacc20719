// Package fileset reconstructs fileset database rows from a fileset
// volume's archive contents (spec.md §4.5 and the broken-fileset repair of
// §4.7), grounded on backend/chunker.go's pattern of rebuilding an index
// structure by replaying a parsed container's entries against the database
// one row at a time inside a caller-owned transaction.
package fileset

import (
	"context"

	"github.com/pkg/errors"

	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/volume"
)

// Rebuild replaces filesetID's entries with the contents of archive (a
// parsed fileset volume, volume.KindFiles), inside tx. The caller owns
// tx's lifetime; Rebuild never commits or rolls back.
func Rebuild(ctx context.Context, db *database.DB, tx *database.Tx, filesetID int64, archive *volume.Archive) error {
	if archive.Kind != volume.KindFiles {
		return errors.Errorf("fileset: archive is a %v volume, not a fileset volume", archive.Kind)
	}
	entries := make([]database.FilesetEntry, 0, len(archive.Entries))
	for _, e := range archive.Entries {
		entries = append(entries, database.FilesetEntry{
			FilesetID:     filesetID,
			Path:          e.Path,
			IsDir:         e.IsDir,
			Size:          e.Size,
			ModTime:       e.ModTime,
			BlockHash:     e.BlockHash,
			BlockListHash: e.BlockListHash,
		})
	}
	return db.WriteFileset(ctx, tx, filesetID, entries)
}

// VerifyReferences checks that every non-directory entry's block or
// block-list reference is known to the database and returns the entries
// whose reference is not. Broken-fileset repair does not call it.
func VerifyReferences(ctx context.Context, db *database.DB, filesetID int64) ([]database.FilesetEntry, error) {
	entries, err := db.GetFilesetEntries(ctx, filesetID)
	if err != nil {
		return nil, err
	}
	var broken []database.FilesetEntry
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if e.BlockListHash != "" {
			known, err := db.BlocklistKnown(ctx, e.BlockListHash)
			if err != nil {
				return nil, err
			}
			if !known {
				broken = append(broken, e)
			}
			continue
		}
		if e.BlockHash == "" {
			continue
		}
		known, err := db.BlockKnown(ctx, e.BlockHash, e.Size)
		if err != nil {
			return nil, err
		}
		if !known {
			broken = append(broken, e)
		}
	}
	return broken, nil
}
