// Package repair implements the repair coordinator of spec.md §4.1/§4.2:
// the top-level decision tree and the eight-phase remote reconciliation
// loop, built on top of the inventory analyzer, block locator, and fileset
// reconstructor packages. Grounded on backend/union/union.go's role as a
// coordinator that drives several independent sub-backends through one
// sequenced policy, generalized here to sequence phases instead of upstreams.
package repair

import (
	"time"

	"github.com/duprepair/duprepair/internal/database"
)

// Report is the structured outcome of a Run, surfaced to callers instead of
// only being logged, so dry-run results (spec.md §8 property 4) and test
// assertions can inspect exactly what repair did or would have done.
type Report struct {
	StartTime time.Time
	EndTime   time.Time

	// Synchronized is true when the analyzer found no discrepancies at all.
	Synchronized bool

	Consistency database.ConsistencyReport

	VerifiedVolumes     []string
	AdoptedIndexes      []string
	DeletedExtras       []string
	FailedExtras        []string
	ReuploadedFilesets  []string
	RecreatedFilesets   []string
	RebuiltVolumes      []string
	FailedRebuilds      []string
	DeletedEmptyIndexes []string

	BrokenFilesetsRepaired    []int64
	BrokenFilesetsStillBroken []int64
}
