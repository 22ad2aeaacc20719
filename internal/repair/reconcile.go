package repair

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/inventory"
	"github.com/duprepair/duprepair/internal/progress"
	"github.com/duprepair/duprepair/internal/repairerr"
	"github.com/duprepair/duprepair/internal/volume"
)

// reconcile implements spec.md §4.2: the eight-phase remote reconciliation
// loop, the heart of the repair coordinator.
func (c *Coordinator) reconcile(ctx context.Context, filter []string, report *Report) error {
	if err := c.checkReconcilePreconditions(ctx); err != nil {
		return err
	}

	entries, err := c.backend.List(ctx)
	if err != nil {
		return err
	}
	if err := c.checkFreshness(ctx, entries); err != nil {
		return err
	}

	ar, err := inventory.Analyze(ctx, c.db, entries, c.opt.Prefix)
	if err != nil {
		return err
	}
	if err := checkDrySanity(ar); err != nil {
		return err
	}

	if ar.IsSynchronized() {
		c.log.Info("DatabaseIsSynchronized")
		report.Synchronized = true
		return c.finishReconcile(ctx)
	}

	if !c.opt.Dryrun {
		if err := c.db.SetRepairInProgress(ctx, true); err != nil {
			return err
		}
	}
	c.uploadBurstStarted = false

	tracker := progress.NewTracker(c.sink, ar.Target())

	if err := c.phaseVerificationRequired(ctx, ar, tracker, report); err != nil {
		return c.abortReconcile(ctx, err)
	}
	if err := c.phaseExtras(ctx, ar, tracker, report); err != nil {
		return c.abortReconcile(ctx, err)
	}
	if err := c.phaseMissingDataVolumeGuard(ar); err != nil {
		return c.abortReconcile(ctx, err)
	}
	if err := c.phaseMissingRemoteFilesets(ctx, ar, tracker, report, filter); err != nil {
		return c.abortReconcile(ctx, err)
	}
	if err := c.phaseMissingLocalFilesets(ctx, ar, tracker, report); err != nil {
		return c.abortReconcile(ctx, err)
	}
	if err := c.phaseMissingVolumes(ctx, ar, tracker, report); err != nil {
		return c.abortReconcile(ctx, err)
	}
	if err := c.phaseDrain(ctx); err != nil {
		return c.abortReconcile(ctx, err)
	}
	if err := c.phaseEmptyIndexFiles(ctx, ar, tracker, report); err != nil {
		return c.abortReconcile(ctx, err)
	}

	return c.finishReconcile(ctx)
}

// abortReconcile is the cancellation contract of spec.md §5: on abort-class
// failure, drain the backend queue before returning without clearing
// TerminatedWithActiveUploads, so the next start knows uploads may be
// dangling.
func (c *Coordinator) abortReconcile(ctx context.Context, cause error) error {
	_ = c.backend.WaitForEmpty(context.Background())
	return cause
}

// finishReconcile publishes progress=1, drains the backend, and clears
// RepairInProgress, per spec.md §4.2's "In all cases, publish progress=1
// and drain the backend queue before returning."
func (c *Coordinator) finishReconcile(ctx context.Context) error {
	progress.NewTracker(c.sink, 1).Done()
	if err := c.backend.WaitForEmpty(ctx); err != nil {
		return err
	}
	if !c.opt.Dryrun {
		if err := c.db.SetRepairInProgress(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) checkReconcilePreconditions(ctx context.Context) error {
	partial, err := c.db.PartiallyRecreated(ctx)
	if err != nil {
		return err
	}
	if partial {
		return repairerr.NewUserInformation(repairerr.HelpDatabaseIsPartiallyRecreated, "")
	}
	inProgress, err := c.db.RepairInProgress(ctx)
	if err != nil {
		return err
	}
	if inProgress {
		return repairerr.NewUserInformation(repairerr.HelpDatabaseIsInRepairState, "a previous repair run did not finish; operator acknowledgement required")
	}
	return c.db.VerifyConsistencyForRepair(ctx)
}

// checkFreshness implements spec.md §4.2's "Freshness check": remote
// volumes newer than the DB's most recent fileset indicate the DB would
// delete data the backend hasn't told it about yet.
func (c *Coordinator) checkFreshness(ctx context.Context, entries []backend.Entry) error {
	filesetTimes, err := c.db.FilesetTimes(ctx)
	if err != nil {
		return err
	}
	if len(filesetTimes) == 0 {
		return repairerr.NewUserInformation(repairerr.HelpLocalDatabaseHasNoFilesetTimes, "")
	}
	var maxLocal time.Time
	for _, t := range filesetTimes {
		if t.After(maxLocal) {
			maxLocal = t
		}
	}

	var maxRemote time.Time
	for _, e := range entries {
		if e.IsFolder {
			continue
		}
		name, err := volume.ParseFilename(e.Name)
		if err != nil || name.Prefix != c.opt.Prefix {
			continue
		}
		if name.Time.After(maxRemote) {
			maxRemote = name.Time
		}
	}

	if maxRemote.After(maxLocal) {
		if !c.opt.RepairIgnoreOutdatedDatabase {
			return repairerr.NewUserInformation(repairerr.HelpRemoteFilesNewerThanLocalDatabase,
				"remote volume timestamp %s is newer than the local database's latest fileset %s", maxRemote, maxLocal)
		}
		c.log.WithFields(logrus.Fields{"remote": maxRemote, "local": maxLocal}).
			Warn("remote files are newer than the local database; proceeding because RepairIgnoreOutdatedDatabase is set")
	}
	return nil
}

// checkDrySanity implements spec.md §4.2's "Dry-run sanity checks": cheap
// diagnostics that distinguish an empty, shared-prefix bucket from a
// genuinely corrupted one, before any phase does real work.
func checkDrySanity(ar *inventory.Report) error {
	if len(ar.Parsed) > 0 {
		return nil
	}
	if len(ar.DiscoveredPrefixes) > 0 {
		return repairerr.NewUserInformation(repairerr.HelpRemoteFolderEmptyWithPrefix,
			"no volumes under the configured prefix, but %d other prefixes are present", len(ar.DiscoveredPrefixes))
	}
	if len(ar.OtherVolumes) > 0 {
		return repairerr.NewUserInformation(repairerr.HelpNoRemoteFilesMissing,
			"%d unparseable files share the configured prefix; recreate may be more appropriate than repair", len(ar.OtherVolumes))
	}
	return nil
}
