package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duprepair/duprepair/internal/config"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/inventory"
	"github.com/duprepair/duprepair/internal/repairerr"
)

func TestPhaseMissingDataVolumeGuardAllowsWhenOptedIn(t *testing.T) {
	c := &Coordinator{opt: config.Options{RebuildMissingDblockFiles: true}}
	ar := &inventory.Report{Missings: []database.RemoteVolume{{Name: "x-b1.zstd", Kind: database.KindBlocks}}}

	assert.NoError(t, c.phaseMissingDataVolumeGuard(ar))
}

func TestPhaseMissingDataVolumeGuardAllowsWhenNoDataVolumesMissing(t *testing.T) {
	c := &Coordinator{opt: config.Options{RebuildMissingDblockFiles: false}}
	ar := &inventory.Report{Missings: []database.RemoteVolume{{Name: "x-f1.zstd", Kind: database.KindFiles}}}

	assert.NoError(t, c.phaseMissingDataVolumeGuard(ar))
}

func TestPhaseMissingDataVolumeGuardFailsWithoutOptIn(t *testing.T) {
	c := &Coordinator{opt: config.Options{RebuildMissingDblockFiles: false}}
	ar := &inventory.Report{Missings: []database.RemoteVolume{
		{Name: "x-b1.zstd", Kind: database.KindBlocks},
		{Name: "x-b2.zstd", Kind: database.KindBlocks},
		{Name: "x-f1.zstd", Kind: database.KindFiles},
	}}

	err := c.phaseMissingDataVolumeGuard(ar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), repairerr.HelpMissingDblockFiles)
	assert.Contains(t, err.Error(), "2 data volumes are missing")
}
