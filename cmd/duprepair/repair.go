package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/backend/local"
	"github.com/duprepair/duprepair/internal/backend/s3"
	"github.com/duprepair/duprepair/internal/config"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/progress"
	"github.com/duprepair/duprepair/internal/repair"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Reconcile the local database against the remote backend",
	RunE:  runRepair,
}

func init() {
	flags := repairCmd.Flags()

	// Backend selection.
	flags.String("backend", "local", "remote backend to use: local or s3")
	flags.String("local-root", "", "folder path for the local backend")
	flags.String("s3-bucket", "", "bucket name for the s3 backend")
	flags.String("s3-prefix", "", "key prefix for the s3 backend")
	flags.String("s3-region", "", "region for the s3 backend")
	flags.String("s3-endpoint", "", "custom endpoint for an s3-compatible backend")

	// config.Options fields, read back by hand in optionsFromFlags; flag names
	// match the flag tags in internal/config/options.go. AllowPassphraseChange
	// has no flag and stays false.
	flags.String("db", "", "path to the local database file (required)")
	flags.Bool("dry-run", false, "disable remote writes/deletes and DB mutations")
	flags.String("prefix", "duplicati", "volume filename prefix")
	flags.Int64("blocksize", 100*1024*1024, "maximum size in bytes of a single data block")
	flags.Int64("blockhash-size", 32, "digest size in bytes of the block hash algorithm")
	flags.String("block-hash-algorithm", "sha256", "hash module id used to identify blocks")
	flags.String("compression-module", "zstd", "compression module id new volumes are written with")
	flags.String("encryption-module", "", "encryption module id; empty means unencrypted")
	flags.String("indexfile-policy", string(config.IndexfilePolicyFull), "index-volume adoption/rebuild depth: none, lookup, full")
	flags.Bool("rebuild-missing-dblock-files", false, "allow rebuilding missing data volumes")
	flags.Bool("repair-ignore-outdated-database", false, "proceed even if the remote store looks newer than the local database")
	flags.StringSlice("control-files", nil, "local files added as control entries to every reuploaded fileset volume")
	flags.String("time", "", "time forwarded to the external recreate subroutine (RFC3339, default now)")
	flags.Int("version", 0, "version forwarded to the external recreate subroutine")
	flags.Int("sqlite-page-cache", 0, "sqlite page cache size in KiB, 0 for the driver default")

	// filter, spec.md §4.1's run(backend, filter) argument.
	flags.StringSlice("filter", nil, "glob patterns passed to the repair run (no repair phase applies them)")
}

func runRepair(cmd *cobra.Command, args []string) error {
	opt, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}

	back, err := backendFromFlags(cmd)
	if err != nil {
		return err
	}

	db, err := database.Open(opt.Dbpath, opt.SqlitePageCache)
	if err != nil {
		return errors.Wrap(err, "duprepair: open database")
	}
	defer db.Close()

	coordinator, err := repair.New(db, back, opt, repair.NopRecreator{}, progress.NewLogSink())
	if err != nil {
		return err
	}

	filter, _ := cmd.Flags().GetStringSlice("filter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	report, err := coordinator.Run(ctx, filter)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func optionsFromFlags(cmd *cobra.Command) (config.Options, error) {
	f := cmd.Flags()

	dbPath, _ := f.GetString("db")
	if dbPath == "" {
		return config.Options{}, errors.New("duprepair: --db is required")
	}

	timeStr, _ := f.GetString("time")
	when := time.Now().UTC()
	if timeStr != "" {
		parsed, err := time.Parse(time.RFC3339, timeStr)
		if err != nil {
			return config.Options{}, errors.Wrap(err, "duprepair: --time must be RFC3339")
		}
		when = parsed
	}

	dryRun, _ := f.GetBool("dry-run")
	prefix, _ := f.GetString("prefix")
	blocksize, _ := f.GetInt64("blocksize")
	blockhashSize, _ := f.GetInt64("blockhash-size")
	blockHashAlgorithm, _ := f.GetString("block-hash-algorithm")
	compressionModule, _ := f.GetString("compression-module")
	encryptionModule, _ := f.GetString("encryption-module")
	indexfilePolicy, _ := f.GetString("indexfile-policy")
	rebuildMissingDblockFiles, _ := f.GetBool("rebuild-missing-dblock-files")
	repairIgnoreOutdatedDatabase, _ := f.GetBool("repair-ignore-outdated-database")
	controlFiles, _ := f.GetStringSlice("control-files")
	version, _ := f.GetInt("version")
	sqlitePageCache, _ := f.GetInt("sqlite-page-cache")

	opt := config.Options{
		Dbpath:                       dbPath,
		Dryrun:                       dryRun,
		Prefix:                       prefix,
		Blocksize:                    blocksize,
		BlockhashSize:                blockhashSize,
		BlockHashAlgorithm:           blockHashAlgorithm,
		CompressionModule:            compressionModule,
		EncryptionModule:             encryptionModule,
		IndexfilePolicy:              config.IndexfilePolicy(indexfilePolicy),
		RebuildMissingDblockFiles:    rebuildMissingDblockFiles,
		RepairIgnoreOutdatedDatabase: repairIgnoreOutdatedDatabase,
		ControlFiles:                 controlFiles,
		Time:                         when,
		Version:                      version,
		SqlitePageCache:              sqlitePageCache,
	}
	return opt, nil
}

func backendFromFlags(cmd *cobra.Command) (backend.Backend, error) {
	f := cmd.Flags()
	kind, _ := f.GetString("backend")

	switch strings.ToLower(kind) {
	case "local":
		root, _ := f.GetString("local-root")
		if root == "" {
			return nil, errors.New("duprepair: --local-root is required for the local backend")
		}
		return local.New(root), nil
	case "s3":
		bucket, _ := f.GetString("s3-bucket")
		if bucket == "" {
			return nil, errors.New("duprepair: --s3-bucket is required for the s3 backend")
		}
		prefix, _ := f.GetString("s3-prefix")
		region, _ := f.GetString("s3-region")
		endpoint, _ := f.GetString("s3-endpoint")

		sess, err := session.NewSession()
		if err != nil {
			return nil, errors.Wrap(err, "duprepair: create aws session")
		}
		return s3.New(sess, s3.Options{Bucket: bucket, Prefix: prefix, Region: region, Endpoint: endpoint}), nil
	default:
		return nil, errors.Errorf("duprepair: unknown backend %q", kind)
	}
}

func printReport(report *repair.Report) {
	fmt.Printf("repair finished in %s\n", report.EndTime.Sub(report.StartTime))
	fmt.Printf("  verified volumes:       %d\n", len(report.VerifiedVolumes))
	fmt.Printf("  adopted indexes:        %d\n", len(report.AdoptedIndexes))
	fmt.Printf("  deleted extras:         %d\n", len(report.DeletedExtras))
	fmt.Printf("  failed extras:          %d\n", len(report.FailedExtras))
	fmt.Printf("  reuploaded filesets:    %d\n", len(report.ReuploadedFilesets))
	fmt.Printf("  recreated filesets:     %d\n", len(report.RecreatedFilesets))
	fmt.Printf("  rebuilt volumes:        %d\n", len(report.RebuiltVolumes))
	fmt.Printf("  failed rebuilds:        %d\n", len(report.FailedRebuilds))
	fmt.Printf("  deleted empty indexes:  %d\n", len(report.DeletedEmptyIndexes))
	if len(report.BrokenFilesetsRepaired) > 0 {
		fmt.Printf("  broken filesets repaired: %v\n", report.BrokenFilesetsRepaired)
	}
	if len(report.BrokenFilesetsStillBroken) > 0 {
		fmt.Printf("  broken filesets still broken: %v\n", report.BrokenFilesetsStillBroken)
	}
}
