package repair

import (
	"github.com/pkg/errors"

	"github.com/duprepair/duprepair/internal/compression"
	"github.com/duprepair/duprepair/internal/hashing"
	"github.com/duprepair/duprepair/internal/volume"
)

// verifyArchiveInternals is the "volume internals test" of spec.md §4.2
// phase 1: decompress, reread every block, and verify hashes, beyond the
// whole-object hash the backend already reported.
func verifyArchiveInternals(localPath string, kind volume.Kind, comp compression.Module, algo hashing.Algorithm) error {
	archive, err := volume.Read(localPath, kind, comp)
	if err != nil {
		return errors.Wrap(err, "repair: parse archive for internals verification")
	}
	if kind != volume.KindBlocks {
		return nil
	}
	for _, ref := range archive.BlockRefs {
		payload := archive.Blocks[volume.BlockKey(ref.Hash, ref.Size)]
		if int64(len(payload)) != ref.Size {
			return errors.Errorf("repair: block %s declares size %d but payload is %d bytes", ref.Hash, ref.Size, len(payload))
		}
		sum, err := hashing.Sum(algo.ID(), payload)
		if err != nil {
			return err
		}
		if sum != ref.Hash {
			return errors.Errorf("repair: block %s failed hash verification", ref.Hash)
		}
	}
	return nil
}
