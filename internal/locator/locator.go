// Package locator implements the block locator of spec.md §4.3: recovering
// the payload bytes of a missing data volume from local source files first,
// then from surviving remote data volumes, before the coordinator rebuilds
// and reuploads it. Grounded on backend/chunker.go's local re-chunk-and-hash
// verification idiom and on hasher.Options' use of a bolt-backed cache
// keyed by content hash, combined here with backend.Backend.
// GetFilesOverlapped for the remote fallback and
// github.com/cenkalti/backoff/v4 for its retries, the way
// AKJUS-bsc-erigon's stack leans on backoff for flaky remote reads.
package locator

import (
	"context"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/compression"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/hashing"
	"github.com/duprepair/duprepair/internal/volume"
)

// Result is the outcome of recovering one missing data volume's blocks.
type Result struct {
	// Blocks holds every successfully recovered payload, keyed by
	// volume.BlockKey(hash, size).
	Blocks map[string][]byte

	// Missing lists blocks neither source could supply. A non-empty
	// Missing means the volume cannot be fully rebuilt (spec.md §4.3
	// step 3, RepairIsNotPossible).
	Missing []database.Block
}

// Recover attempts to reconstruct every block volumeName (row volumeID)
// held, trying local source files before remote peer volumes.
func Recover(ctx context.Context, db *database.DB, back backend.Backend, algo hashing.Algorithm, comp compression.Module, volumeID int64, volumeName string) (*Result, error) {
	log := logrus.WithFields(logrus.Fields{"component": "locator", "volume": volumeName})

	if err := db.ResetMissingVolumeBlocks(ctx, volumeID); err != nil {
		return nil, err
	}
	helper, err := db.CreateBlockList(ctx, volumeName)
	if err != nil {
		return nil, err
	}

	recovered := map[string][]byte{}

	if err := recoverFromLocalSources(ctx, db, helper, algo, volumeID, recovered, log); err != nil {
		return nil, err
	}
	if err := recoverFromRemoteVolumes(ctx, back, helper, algo, comp, recovered, log); err != nil {
		return nil, err
	}

	allBlocks, err := db.GetBlocks(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	var missing []database.Block
	for _, b := range allBlocks {
		if _, ok := recovered[volume.BlockKey(b.Hash, b.Size)]; !ok {
			missing = append(missing, b)
		}
	}
	return &Result{Blocks: recovered, Missing: missing}, nil
}

// recoverFromLocalSources is source (a) of spec.md §4.3: re-reading the
// local file a block was last seen in, at the recorded offset, and
// accepting it only if it still hashes to the expected digest.
func recoverFromLocalSources(ctx context.Context, db *database.DB, helper *database.BlockListHelper, algo hashing.Algorithm, volumeID int64, recovered map[string][]byte, log *logrus.Entry) error {
	blocks, err := db.GetBlocks(ctx, volumeID)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		sources, err := helper.GetSourceFilesWithBlocks(ctx, b.Hash, b.Size)
		if err != nil {
			return err
		}
		for _, src := range sources {
			data, ok := readAndVerify(src.LocalPath, src.Offset, b.Size, b.Hash, algo, log)
			if !ok {
				continue
			}
			recovered[volume.BlockKey(b.Hash, b.Size)] = data
			if err := helper.SetBlockRestored(ctx, b.Hash, b.Size); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func readAndVerify(localPath string, offset, size int64, expectedHash string, algo hashing.Algorithm, log *logrus.Entry) ([]byte, bool) {
	f, err := os.Open(localPath)
	if err != nil {
		log.WithError(err).WithField("path", localPath).Debug("local source file unavailable")
		return nil, false
	}
	defer f.Close()
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil {
		log.WithError(err).WithField("path", localPath).Debug("local source file changed or truncated")
		return nil, false
	}
	sum, err := hashing.Sum(algo.ID(), buf)
	if err != nil || sum != expectedHash {
		log.WithField("path", localPath).Debug("local source file no longer matches expected block hash")
		return nil, false
	}
	return buf, true
}

// recoverFromRemoteVolumes is source (b): downloading the surviving remote
// data volumes that still hold a copy of a missing block and lifting its
// payload out of their archive, batched with GetFilesOverlapped so
// independent downloads don't serialize behind the slowest one.
func recoverFromRemoteVolumes(ctx context.Context, back backend.Backend, helper *database.BlockListHelper, algo hashing.Algorithm, comp compression.Module, recovered map[string][]byte, log *logrus.Entry) error {
	sources, err := helper.GetMissingBlockSources(ctx)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}

	var results <-chan backend.OverlappedResult
	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err = backoff.Retry(func() error {
		var err error
		results, err = back.GetFilesOverlapped(ctx, names)
		return err
	}, retry)
	if err != nil {
		return errors.Wrap(err, "locator: fetch candidate source volumes")
	}

	for res := range results {
		refs := sources[res.Name]
		if res.Err != nil {
			log.WithError(res.Err).WithField("source_volume", res.Name).Warn("failed to download candidate source volume")
			continue
		}
		func() {
			defer backend.TempFileCleanup(res.LocalPath, os.Remove)
			arc, err := volume.Read(res.LocalPath, volume.KindBlocks, comp)
			if err != nil {
				log.WithError(err).WithField("source_volume", res.Name).Warn("failed to parse candidate source volume")
				return
			}
			for _, ref := range refs {
				key := volume.BlockKey(ref.Hash, ref.Size)
				if _, already := recovered[key]; already {
					continue
				}
				payload, ok := arc.Blocks[key]
				if !ok {
					continue
				}
				sum, err := hashing.Sum(algo.ID(), payload)
				if err != nil || sum != ref.Hash {
					log.WithField("source_volume", res.Name).Warn("candidate block payload failed hash verification")
					continue
				}
				recovered[key] = payload
				if err := helper.SetBlockRestored(ctx, ref.Hash, ref.Size); err != nil {
					log.WithError(err).Warn("failed to record block as restored")
				}
			}
		}()
	}
	return nil
}
