package repair

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duprepair/duprepair/internal/config"
	"github.com/duprepair/duprepair/internal/database"
	"github.com/duprepair/duprepair/internal/inventory"
	"github.com/duprepair/duprepair/internal/progress"
)

func newTestCoordinator(opt config.Options) *Coordinator {
	return &Coordinator{opt: opt, log: logrus.NewEntry(logrus.New())}
}

func TestPhaseEmptyIndexFilesSkipsOversized(t *testing.T) {
	c := newTestCoordinator(config.Options{})
	ar := &inventory.Report{EmptyIndexFiles: []database.RemoteVolume{
		{ID: 1, Name: "x-i1.zstd", Size: emptyIndexFileSizeThreshold + 1},
	}}
	report := &Report{}
	tracker := progress.NewTracker(nil, 1)

	require.NoError(t, c.phaseEmptyIndexFiles(context.Background(), ar, tracker, report))
	assert.Empty(t, report.DeletedEmptyIndexes)
}

func TestPhaseEmptyIndexFilesDryRunRecordsWithoutDeleting(t *testing.T) {
	c := newTestCoordinator(config.Options{Dryrun: true})
	ar := &inventory.Report{EmptyIndexFiles: []database.RemoteVolume{
		{ID: 1, Name: "x-i1.zstd", Size: 10},
	}}
	report := &Report{}
	tracker := progress.NewTracker(nil, 1)

	require.NoError(t, c.phaseEmptyIndexFiles(context.Background(), ar, tracker, report))
	assert.Equal(t, []string{"x-i1.zstd"}, report.DeletedEmptyIndexes)
}

func TestPhaseEmptyIndexFilesRespectsCancellation(t *testing.T) {
	c := newTestCoordinator(config.Options{})
	ar := &inventory.Report{EmptyIndexFiles: []database.RemoteVolume{
		{ID: 1, Name: "x-i1.zstd", Size: 10},
	}}
	report := &Report{}
	tracker := progress.NewTracker(nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.phaseEmptyIndexFiles(ctx, ar, tracker, report)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRebuildOneMissingVolumeRejectsUnknownKind(t *testing.T) {
	c := newTestCoordinator(config.Options{})
	report := &Report{}

	err := c.rebuildOneMissingVolume(context.Background(), database.RemoteVolume{Name: "garbage", Kind: "bogus"}, report)
	assert.Error(t, err)
}
