package repair

import (
	"context"
	"os"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/compression"
	"github.com/duprepair/duprepair/internal/config"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/hashing"
	"github.com/duprepair/duprepair/internal/inventory"
	"github.com/duprepair/duprepair/internal/progress"
	"github.com/duprepair/duprepair/internal/repairerr"
	"github.com/duprepair/duprepair/internal/volume"
)

// phaseExtras is spec.md §4.2 phase 2: every extra is either adopted (index
// volumes only, when checks pass) or deleted.
func (c *Coordinator) phaseExtras(ctx context.Context, ar *inventory.Report, tracker *progress.Tracker, report *Report) error {
	for _, e := range ar.Extras {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker.Increment()
		if err := c.processOneExtra(ctx, e, report); err != nil {
			if repairerr.IsAbort(err) {
				return err
			}
			c.log.WithError(err).WithField("name", e.Name).Warn(repairerr.TagFailedExtraFileCleanup)
			report.FailedExtras = append(report.FailedExtras, e.Name)
		}
	}
	return nil
}

func (c *Coordinator) processOneExtra(ctx context.Context, e backend.Entry, report *Report) error {
	name, parseErr := volume.ParseFilename(e.Name)
	if parseErr == nil && name.Kind == volume.KindIndex && c.opt.IndexfilePolicy != config.IndexfilePolicyNone {
		adopted, err := c.tryAdoptIndex(ctx, e, name, report)
		if err != nil {
			return err
		}
		if adopted {
			return nil
		}
		// Falls through to deletion below, per spec.md §4.2 phase 2.
	}
	return c.deleteExtra(ctx, e, report)
}

// tryAdoptIndex implements the adoption checks of spec.md §4.2 phase 2. It
// returns (true, nil) on success, (false, nil) if any check failed (caller
// falls through to deletion), and a non-nil error only for abort-class or
// genuinely unexpected failures.
func (c *Coordinator) tryAdoptIndex(ctx context.Context, e backend.Entry, name *volume.Name, report *Report) (bool, error) {
	comp, err := compression.Lookup(name.CompressionModule)
	if err != nil {
		c.log.WithField("name", e.Name).Debug("cannot adopt index with unknown compression module")
		return false, nil
	}
	algo, err := hashing.Lookup(c.opt.BlockHashAlgorithm)
	if err != nil {
		return false, err
	}

	localPath, err := c.backend.Get(ctx, e.Name)
	if err != nil {
		if repairerr.IsAbort(err) {
			return false, err
		}
		return false, nil
	}
	defer backend.TempFileCleanup(localPath, os.Remove)

	archive, err := volume.Read(localPath, volume.KindIndex, comp)
	if err != nil {
		return false, nil
	}

	dataVolumes := make([]database.RemoteVolume, 0, len(archive.IndexSections))
	for dataVolumeName, refs := range archive.IndexSections {
		dv, err := c.db.GetRemoteVolume(ctx, dataVolumeName)
		if err != nil {
			return false, err
		}
		if dv == nil {
			return false, nil // check (a): unknown to the DB
		}
		switch dv.State {
		case database.StateUploading, database.StateUploaded, database.StateVerified:
		default:
			return false, nil // check (b)
		}
		if dv.Size <= 0 || dv.Hash == "" {
			return false, nil // check (c): data volume has no recorded size/hash yet
		}
		checkBlocks := make([]struct {
			Hash string
			Size int64
		}, len(refs))
		for i, r := range refs {
			checkBlocks[i] = struct {
				Hash string
				Size int64
			}{Hash: r.Hash, Size: r.Size}
		}
		ok, err := c.db.CheckAllBlocksAreInVolume(ctx, dataVolumeName, checkBlocks)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil // check (d)
		}
		dataVolumes = append(dataVolumes, *dv)
	}

	if err := verifyBlockListsRoundTrip(archive, algo); err != nil {
		c.log.WithField("name", e.Name).WithError(err).Debug("index adoption rejected: blocklist round-trip mismatch")
		return false, nil
	}

	if c.opt.Dryrun {
		report.AdoptedIndexes = append(report.AdoptedIndexes, e.Name)
		return true, nil
	}

	tx, err := c.db.BeginTransaction(ctx, "AdoptIndexVolume")
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	row := database.RemoteVolume{
		Name:              e.Name,
		Kind:              database.KindIndex,
		Size:              e.Size,
		State:             database.StateUploading,
		CompressionModule: name.CompressionModule,
		EncryptionModule:  name.EncryptionModule,
		Time:              name.Time,
	}
	id, err := c.db.RegisterRemoteVolume(ctx, tx, row)
	if err != nil {
		return false, err
	}
	for _, dv := range dataVolumes {
		if err := c.db.AddIndexBlockLink(ctx, tx, id, dv.ID); err != nil {
			return false, err
		}
	}
	row.ID = id
	row.State = database.StateVerified
	if err := c.db.UpdateRemoteVolume(ctx, tx, row); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	report.AdoptedIndexes = append(report.AdoptedIndexes, e.Name)
	return true, nil
}

func verifyBlockListsRoundTrip(archive *volume.Archive, algo hashing.Algorithm) error {
	for declaredHash, blockHashes := range archive.BlockLists {
		var concatenated []byte
		for _, bh := range blockHashes {
			decoded, err := hashing.DecodeDigest(bh)
			if err != nil {
				return err
			}
			concatenated = append(concatenated, decoded...)
		}
		sum, err := hashing.Sum(algo.ID(), concatenated)
		if err != nil {
			return err
		}
		if sum != declaredHash {
			return errBlocklistRoundTripMismatch
		}
	}
	return nil
}

func (c *Coordinator) deleteExtra(ctx context.Context, e backend.Entry, report *Report) error {
	id, known, err := c.db.GetRemoteVolumeID(ctx, e.Name, nil)
	if err != nil {
		return err
	}
	if c.opt.Dryrun {
		c.log.WithField("name", e.Name).Info("dry-run: would delete extra volume")
		report.DeletedExtras = append(report.DeletedExtras, e.Name)
		return nil
	}
	if known {
		tx, err := c.db.BeginTransaction(ctx, "DeleteExtraVolume")
		if err != nil {
			return err
		}
		if err := c.db.SetRemoteVolumeState(ctx, tx, id, database.StateDeleting); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	if err := c.backend.Delete(ctx, e.Name, e.Size); err != nil {
		return repairerr.Item(repairerr.TagFailedExtraFileCleanup, err)
	}
	if known {
		tx, err := c.db.BeginTransaction(ctx, "DeleteExtraVolume")
		if err != nil {
			return err
		}
		if err := c.db.SetRemoteVolumeState(ctx, tx, id, database.StateDeleted); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	report.DeletedExtras = append(report.DeletedExtras, e.Name)
	return nil
}
