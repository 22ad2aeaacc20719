package repair

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/compression"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/fileset"
	"github.com/duprepair/duprepair/internal/inventory"
	"github.com/duprepair/duprepair/internal/progress"
	"github.com/duprepair/duprepair/internal/repairerr"
	"github.com/duprepair/duprepair/internal/volume"
)

// phaseMissingDataVolumeGuard is spec.md §4.2 phase 3: rebuilding data
// volumes is expensive and not always possible, so it requires explicit
// opt-in.
func (c *Coordinator) phaseMissingDataVolumeGuard(ar *inventory.Report) error {
	if c.opt.RebuildMissingDblockFiles {
		return nil
	}
	var names []string
	for _, v := range ar.Missings {
		if v.Kind == database.KindBlocks {
			names = append(names, v.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return repairerr.NewUserInformation(repairerr.HelpMissingDblockFiles, "%d data volumes are missing: %v", len(names), names)
}

// phaseMissingRemoteFilesets is spec.md §4.2 phase 4: DB-known filesets
// with no linked remote volume get a freshly built fileset volume.
func (c *Coordinator) phaseMissingRemoteFilesets(ctx context.Context, ar *inventory.Report, tracker *progress.Tracker, report *Report, filter []string) error {
	for _, fs := range ar.MissingRemoteFilesets {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker.Increment()
		if err := c.buildAndUploadFileset(ctx, fs.ID, nil, report); err != nil {
			if repairerr.IsAbort(err) {
				return err
			}
			c.log.WithError(err).WithField("fileset_id", fs.ID).Warn(repairerr.TagFailedNewIndexFile)
		}
	}
	return nil
}

// buildAndUploadFileset constructs a new fileset volume from the DB's own
// record of filesetID's entries. If existingName is non-nil the volume is
// rebuilt under that exact name (spec.md §4.2 phase 6's "Files" case);
// otherwise a fresh name is minted (phase 4).
func (c *Coordinator) buildAndUploadFileset(ctx context.Context, filesetID int64, existingName *volume.Name, report *Report) error {
	entries, err := c.db.GetFilesetEntries(ctx, filesetID)
	if err != nil {
		return err
	}

	comp, err := compression.Lookup(c.opt.CompressionModule)
	if err != nil {
		return repairerr.NewUserInformation(repairerr.HelpFailedToLoadCompressionModule, "%v", err)
	}

	name := existingName
	if name == nil {
		name = volume.NewName(c.opt.Prefix, volume.KindFiles, time.Now().UTC(), c.opt.CompressionModule, c.opt.EncryptionModule)
	}

	w, err := volume.NewWriter(volume.KindFiles, comp)
	if err != nil {
		return err
	}
	defer w.Dispose()
	w.SetRemoteName(name)

	for _, e := range entries {
		if err := w.WriteFileEntry(volume.FileEntry{
			Path:          e.Path,
			IsDir:         e.IsDir,
			Size:          e.Size,
			ModTime:       e.ModTime,
			BlockHash:     e.BlockHash,
			BlockListHash: e.BlockListHash,
		}); err != nil {
			return err
		}
	}
	for _, controlPath := range c.opt.ControlFiles {
		data, err := os.ReadFile(controlPath)
		if err != nil {
			c.log.WithError(err).WithField("path", controlPath).Warn("failed to read control file; skipping")
			continue
		}
		if err := w.WriteControl(filepath.Base(controlPath), data); err != nil {
			return err
		}
	}

	localPath, size, err := w.Close()
	if err != nil {
		return err
	}
	defer backend.TempFileCleanup(localPath, os.Remove)

	if c.opt.Dryrun {
		report.ReuploadedFilesets = append(report.ReuploadedFilesets, name.String())
		return nil
	}

	tx, err := c.db.BeginTransaction(ctx, "RegisterNewFilesetVolume")
	if err != nil {
		return err
	}
	var id int64
	if existingName == nil {
		row := database.RemoteVolume{
			Name: name.String(), Kind: database.KindFiles, Size: size, State: database.StateTemporary,
			CompressionModule: name.CompressionModule, EncryptionModule: name.EncryptionModule, Time: name.Time,
		}
		id, err = c.db.RegisterRemoteVolume(ctx, tx, row)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := c.db.LinkFilesetToVolume(ctx, tx, filesetID, id); err != nil {
			tx.Rollback()
			return err
		}
	} else {
		id, _, err = c.db.GetRemoteVolumeID(ctx, existingName.String(), tx)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := c.db.SetRemoteVolumeState(ctx, tx, id, database.StateUploading); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := c.ensureUploadBurstStarted(ctx); err != nil {
		return err
	}
	if err := c.backend.Put(ctx, backend.VolumeSource{Name: name.String(), LocalPath: localPath, Size: size}); err != nil {
		return repairerr.Item(repairerr.TagRemoteFileAccessError, err)
	}

	tx2, err := c.db.BeginTransaction(ctx, "MarkFilesetUploaded")
	if err != nil {
		return err
	}
	if err := c.db.SetRemoteVolumeState(ctx, tx2, id, database.StateUploaded); err != nil {
		tx2.Rollback()
		return err
	}
	if err := tx2.Commit(); err != nil {
		return err
	}

	report.ReuploadedFilesets = append(report.ReuploadedFilesets, name.String())
	return nil
}

// phaseMissingLocalFilesets is spec.md §4.2 phase 5: a remote fileset
// volume with no local counterpart gets a fresh DB fileset row, populated
// by downloading and parsing the archive.
func (c *Coordinator) phaseMissingLocalFilesets(ctx context.Context, ar *inventory.Report, tracker *progress.Tracker, report *Report) error {
	for _, rv := range ar.MissingLocalFilesets {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker.Increment()
		if err := c.recreateOneLocalFileset(ctx, rv, report); err != nil {
			if repairerr.IsAbort(err) {
				return err
			}
			c.log.WithError(err).WithField("volume", rv.Name).Warn(repairerr.TagFileAccessError)
		}
	}
	return nil
}

func (c *Coordinator) recreateOneLocalFileset(ctx context.Context, rv database.RemoteVolume, report *Report) error {
	comp, err := compression.Lookup(rv.CompressionModule)
	if err != nil {
		return repairerr.NewUserInformation(repairerr.HelpFailedToLoadCompressionModule, "volume %s: %v", rv.Name, err)
	}
	localPath, err := c.backend.Get(ctx, rv.Name)
	if err != nil {
		return repairerr.Item(repairerr.TagFileAccessError, err)
	}
	defer backend.TempFileCleanup(localPath, os.Remove)

	archive, err := volume.Read(localPath, volume.KindFiles, comp)
	if err != nil {
		return err
	}

	if c.opt.Dryrun {
		report.RecreatedFilesets = append(report.RecreatedFilesets, rv.Name)
		return nil
	}

	tx, err := c.db.BeginTransaction(ctx, "RecreateLocalFileset")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	filesetID, err := c.db.CreateFileset(ctx, tx, database.Fileset{Time: rv.Time, RemoteVolumeID: rv.ID})
	if err != nil {
		return err
	}
	if err := fileset.Rebuild(ctx, c.db, tx, filesetID, archive); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	report.RecreatedFilesets = append(report.RecreatedFilesets, rv.Name)
	return nil
}
