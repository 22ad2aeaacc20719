package repair

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/config"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/localdb"
	"github.com/duprepair/duprepair/internal/progress"
	"github.com/duprepair/duprepair/internal/repairerr"
)

// Coordinator is the single entrypoint of spec.md §4.1: `run(backend, filter)`.
type Coordinator struct {
	db        *database.DB
	backend   backend.Backend
	opt       config.Options
	recreator Recreator
	sink      progress.Sink
	log       *logrus.Entry

	// uploadBurstStarted tracks whether TerminatedWithActiveUploads has
	// already been set for the current reconcile run, so phases 4 and 6
	// share one burst rather than re-setting the flag per volume.
	uploadBurstStarted bool
}

// New constructs a Coordinator. It fails immediately, per spec.md §4.1, if
// the caller requested a passphrase change.
func New(db *database.DB, back backend.Backend, opt config.Options, recreator Recreator, sink progress.Sink) (*Coordinator, error) {
	if opt.AllowPassphraseChange {
		return nil, repairerr.NewUserInformation(repairerr.HelpPassphraseChangeUnsupported, "passphrase change is not supported by repair")
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if recreator == nil {
		recreator = NopRecreator{}
	}
	if sink == nil {
		sink = progress.NopSink{}
	}
	return &Coordinator{
		db:        db,
		backend:   back,
		opt:       opt,
		recreator: recreator,
		sink:      sink,
		log:       logrus.WithField("component", "repair.coordinator"),
	}, nil
}

// Run executes the top-level decision tree of spec.md §4.1. filter is
// accepted as a glob list, but no phase narrows its work by it: every
// fileset and path is processed whatever filter holds.
func (c *Coordinator) Run(ctx context.Context, filter []string) (*Report, error) {
	report := &Report{StartTime: time.Now().UTC()}
	defer func() { report.EndTime = time.Now().UTC() }()

	_, statErr := os.Stat(c.opt.Dbpath)
	dbFileExists := !os.IsNotExist(statErr)

	if !dbFileExists {
		c.log.Info("no local database file, delegating to recreate-from-remote")
		if err := c.recreator.RecreateFromRemote(ctx, c.db, c.backend); err != nil {
			if err == errRecreateUnavailable {
				return nil, repairerr.NewUserInformation(repairerr.HelpDatabaseDoesNotExist, "%v", err)
			}
			return nil, errors.Wrap(err, "repair: recreate from remote")
		}
		consistency, err := c.db.FixAll(ctx, c.opt.BlockHashAlgorithm, c.opt.Blocksize, c.opt.BlockhashSize)
		if err != nil {
			return nil, err
		}
		report.Consistency = consistency
		return report, nil
	}

	volumes, err := c.db.GetRemoteVolumes(ctx)
	if err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		c.log.Warn("database file exists but knows no remote volumes, treating as stale placeholder")
		if !c.opt.Dryrun {
			if err := c.recreateInPlace(ctx); err != nil {
				return nil, err
			}
		}
		consistency, err := c.db.FixAll(ctx, c.opt.BlockHashAlgorithm, c.opt.Blocksize, c.opt.BlockhashSize)
		if err != nil {
			return nil, err
		}
		report.Consistency = consistency
		return report, nil
	}

	consistency, err := c.db.FixAll(ctx, c.opt.BlockHashAlgorithm, c.opt.Blocksize, c.opt.BlockhashSize)
	if err != nil {
		return nil, err
	}
	report.Consistency = consistency

	if err := c.repairBrokenFilesets(ctx, report); err != nil {
		return nil, err
	}

	if err := c.reconcile(ctx, filter, report); err != nil {
		return nil, err
	}

	return report, nil
}

// ensureUploadBurstStarted sets TerminatedWithActiveUploads strictly before
// the first reupload Put of a reconcile run (spec.md §5's ordering
// guarantee), and only once per run.
func (c *Coordinator) ensureUploadBurstStarted(ctx context.Context) error {
	if c.uploadBurstStarted || c.opt.Dryrun {
		return nil
	}
	if err := c.db.SetTerminatedWithActiveUploads(ctx, true); err != nil {
		return err
	}
	c.uploadBurstStarted = true
	return nil
}

// recreateInPlace renames the stale DB file aside (spec.md §4.1 step 2,
// "first free suffix, bounded at 1000 attempts") and delegates to the
// recreate subroutine, which is expected to populate a fresh file at the
// original path.
func (c *Coordinator) recreateInPlace(ctx context.Context) error {
	backupPath, err := localdb.NextBackupName(c.opt.Dbpath)
	if err != nil {
		return err
	}
	if err := c.db.Close(); err != nil {
		return errors.Wrap(err, "repair: close stale database before rename")
	}
	if err := os.Rename(c.opt.Dbpath, backupPath); err != nil {
		return errors.Wrap(err, "repair: rename stale database")
	}
	c.log.WithField("backup_path", backupPath).Info("renamed stale database")

	reopened, err := database.Open(c.opt.Dbpath, c.opt.SqlitePageCache)
	if err != nil {
		return errors.Wrap(err, "repair: open fresh database")
	}
	c.db = reopened
	return c.recreator.RecreateFromRemote(ctx, c.db, c.backend)
}
