package repair

import (
	"context"
	"os"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/compression"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/hashing"
	"github.com/duprepair/duprepair/internal/inventory"
	"github.com/duprepair/duprepair/internal/progress"
	"github.com/duprepair/duprepair/internal/repairerr"
)

// phaseVerificationRequired is spec.md §4.2 phase 1: volumes the DB left
// Uploading at the last crash are re-downloaded, re-hashed, and promoted to
// Verified if they check out. All updates share one reusable transaction,
// committed once at phase end.
func (c *Coordinator) phaseVerificationRequired(ctx context.Context, ar *inventory.Report, tracker *progress.Tracker, report *Report) error {
	if len(ar.VerificationRequired) == 0 {
		return nil
	}

	var tx *database.Tx
	var err error
	if !c.opt.Dryrun {
		tx, err = c.db.BeginTransaction(ctx, "CommitVerificationTransaction")
		if err != nil {
			return err
		}
	}
	committed := false
	defer func() {
		if tx != nil && !committed {
			tx.Rollback()
		}
	}()

	for _, v := range ar.VerificationRequired {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracker.Increment()
		if err := c.verifyOneVolume(ctx, v, tx, report); err != nil {
			if repairerr.IsAbort(err) {
				return err
			}
			c.log.WithError(err).WithField("volume", v.Name).Warn(repairerr.TagRemoteFileVerificationError)
		}
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
	}
	return nil
}

func (c *Coordinator) verifyOneVolume(ctx context.Context, v database.RemoteVolume, tx *database.Tx, report *Report) error {
	result, err := c.backend.GetWithInfo(ctx, v.Name)
	if err != nil {
		return repairerr.Item(repairerr.TagRemoteFileVerificationError, err)
	}
	defer backend.TempFileCleanup(result.LocalPath, os.Remove)

	comp, err := compression.Lookup(v.CompressionModule)
	if err != nil {
		return repairerr.NewUserInformation(repairerr.HelpFailedToLoadCompressionModule, "volume %s: %v", v.Name, err)
	}
	algo, err := hashing.Lookup(c.opt.BlockHashAlgorithm)
	if err != nil {
		return err
	}
	if err := verifyArchiveInternals(result.LocalPath, volumeKind(v.Kind), comp, algo); err != nil {
		return repairerr.Item(repairerr.TagRemoteFileVerificationError, err)
	}

	if c.opt.Dryrun {
		report.VerifiedVolumes = append(report.VerifiedVolumes, v.Name)
		return nil
	}
	v.Size = result.Size
	v.Hash = result.Hash
	v.State = database.StateVerified
	if err := c.db.UpdateRemoteVolume(ctx, tx, v); err != nil {
		return err
	}
	report.VerifiedVolumes = append(report.VerifiedVolumes, v.Name)
	return nil
}
