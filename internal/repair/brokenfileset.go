package repair

import (
	"context"
	"os"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/compression"
	"github.com/duprepair/duprepair/internal/fileset"
	"github.com/duprepair/duprepair/internal/repairerr"
	"github.com/duprepair/duprepair/internal/volume"
)

// repairBrokenFilesets implements spec.md §4.7: any fileset with at least
// one entry referencing an unknown/missing block gets its remote fileset
// volume re-downloaded and re-parsed, under an unfiltered expression (every
// entry in the archive, not scoped to the caller's filter).
func (c *Coordinator) repairBrokenFilesets(ctx context.Context, report *Report) error {
	broken, err := c.db.GetFilesetsWithMissingFiles(ctx)
	if err != nil {
		return err
	}
	for _, fs := range broken {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.repairOneBrokenFileset(ctx, fs.ID, report); err != nil {
			if repairerr.IsAbort(err) {
				return err
			}
			c.log.WithError(err).WithField("fileset_id", fs.ID).Warn("failed to repair broken fileset")
			report.BrokenFilesetsStillBroken = append(report.BrokenFilesetsStillBroken, fs.ID)
		}
	}
	return nil
}

func (c *Coordinator) repairOneBrokenFileset(ctx context.Context, filesetID int64, report *Report) error {
	rv, err := c.db.GetRemoteVolumeFromFilesetID(ctx, filesetID)
	if err != nil {
		return err
	}
	if rv == nil {
		return errNoLinkedVolume
	}
	comp, err := compression.Lookup(rv.CompressionModule)
	if err != nil {
		return repairerr.NewUserInformation(repairerr.HelpFailedToLoadCompressionModule, "fileset volume %s: %v", rv.Name, err)
	}

	localPath, err := c.backend.Get(ctx, rv.Name)
	if err != nil {
		return err
	}
	defer backend.TempFileCleanup(localPath, os.Remove)

	archive, err := volume.Read(localPath, volume.KindFiles, comp)
	if err != nil {
		return err
	}

	if c.opt.Dryrun {
		report.BrokenFilesetsRepaired = append(report.BrokenFilesetsRepaired, filesetID)
		return nil
	}

	tx, err := c.db.BeginTransaction(ctx, "PostRepairFileset")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	if err := fileset.Rebuild(ctx, c.db, tx, filesetID, archive); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	report.BrokenFilesetsRepaired = append(report.BrokenFilesetsRepaired, filesetID)
	return nil
}
