// Package config defines the tunables the repair coordinator reads, bound
// to CLI flags by cmd/duprepair. Field layout follows the configstruct
// convention used throughout the teacher's backends (e.g. hasher.Options,
// chunker.Options): a plain struct with one exported field per option and
// a `flag` tag giving the flag name it binds to.
package config

import "time"

// IndexfilePolicy controls how much index-volume adoption/rebuild work
// phase 2 and phase 6 of remote reconciliation do.
type IndexfilePolicy string

// Index-file policies, spec.md §4.2 / §6.
const (
	IndexfilePolicyNone   IndexfilePolicy = "none"
	IndexfilePolicyLookup IndexfilePolicy = "lookup"
	IndexfilePolicyFull   IndexfilePolicy = "full"
)

// Options collects every tunable spec.md §6 enumerates for the repair
// entrypoint.
type Options struct {
	// Dbpath is the path to the local database file.
	Dbpath string `flag:"db"`

	// Dryrun disables every remote write/delete and DB mutation; the
	// coordinator still produces the same diagnostic set a real run would.
	Dryrun bool `flag:"dry-run"`

	// Prefix scopes this repository inside a shared backend namespace.
	Prefix string `flag:"prefix"`

	// Blocksize is the maximum size in bytes of a single data block.
	Blocksize int64 `flag:"blocksize"`

	// BlockhashSize is the digest size in bytes of BlockHashAlgorithm.
	BlockhashSize int64 `flag:"blockhash-size"`

	// BlockHashAlgorithm names the hash module (internal/hashing registry
	// id) used to identify blocks.
	BlockHashAlgorithm string `flag:"block-hash-algorithm"`

	// CompressionModule names the compression module (internal/compression
	// registry id) new volumes are written with.
	CompressionModule string `flag:"compression-module"`

	// EncryptionModule optionally names an encryption module id; empty
	// means unencrypted. The core never implements encryption itself (it
	// is an external collaborator per spec.md §1), so this field only
	// round-trips through filenames.
	EncryptionModule string `flag:"encryption-module"`

	// IndexfilePolicy controls index-volume adoption/rebuild depth.
	IndexfilePolicy IndexfilePolicy `flag:"indexfile-policy"`

	// RebuildMissingDblockFiles opts in to rebuilding missing data
	// volumes from local files / surviving remote volumes.
	RebuildMissingDblockFiles bool `flag:"rebuild-missing-dblock-files"`

	// RepairIgnoreOutdatedDatabase allows repair to proceed even when the
	// remote store looks newer than the local database.
	RepairIgnoreOutdatedDatabase bool `flag:"repair-ignore-outdated-database"`

	// AllowPassphraseChange must be false; the core fails construction
	// otherwise (spec.md §4.1).
	AllowPassphraseChange bool `flag:"allow-passphrase-change"`

	// ControlFiles lists local files added as control entries to every
	// reuploaded fileset volume (the CLI flag takes them comma-separated).
	ControlFiles []string `flag:"control-files"`

	// Time and Version parametrize the external local-recreate subroutine.
	Time    time.Time `flag:"time"`
	Version int       `flag:"version"`

	// SqlitePageCache sets the SQLite page cache size in KiB, forwarded to
	// the sqlite connection string as a negative _cache_size; 0 or less
	// leaves the driver default.
	SqlitePageCache int `flag:"sqlite-page-cache"`
}

// Validate checks invariants that must hold before Run starts, independent
// of database or backend state.
func (o *Options) Validate() error {
	if o.AllowPassphraseChange {
		return errAllowPassphraseChange
	}
	if o.Blocksize <= 0 {
		return errBlocksize
	}
	if o.BlockhashSize <= 0 {
		return errBlockhashSize
	}
	if o.BlockHashAlgorithm == "" {
		return errBlockHashAlgorithm
	}
	switch o.IndexfilePolicy {
	case IndexfilePolicyNone, IndexfilePolicyLookup, IndexfilePolicyFull:
	default:
		return errIndexfilePolicy
	}
	return nil
}
