// Package progress implements the progress-publishing sink spec.md §4.2
// describes: the coordinator increments progress once per attempted item
// and publishes progress/target as a fraction. Grounded on the
// fs/accounting progress-sink concept referenced from backend/compress's
// import of fs/accounting, reimplemented here as a minimal interface since
// fs/accounting's own source wasn't retained in the pack in non-test form.
package progress

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink receives progress updates as the coordinator works through the
// discrepancy lists of spec.md §4.2.
type Sink interface {
	// Update is called with the number of items attempted so far and the
	// total target (spec.md §4.2's "Progress target").
	Update(done, total int)
}

// NopSink discards every update.
type NopSink struct{}

// Update implements Sink.
func (NopSink) Update(done, total int) {}

// LogSink logs at decile boundaries (0%, 10%, 20%, ...) so long runs don't
// flood logs with a line per item.
type LogSink struct {
	log *logrus.Entry

	mu          sync.Mutex
	lastDecile  int
}

// NewLogSink returns a Sink that logs decile progress via logrus.
func NewLogSink() *LogSink {
	return &LogSink{log: logrus.WithField("component", "repair.progress"), lastDecile: -1}
}

// Update implements Sink.
func (s *LogSink) Update(done, total int) {
	if total <= 0 {
		return
	}
	decile := (done * 10) / total
	s.mu.Lock()
	defer s.mu.Unlock()
	if decile == s.lastDecile {
		return
	}
	s.lastDecile = decile
	s.log.WithFields(logrus.Fields{"done": done, "total": total}).Infof("repair progress: %d%%", decile*10)
}

// Tracker accumulates progress against a fixed target and republishes the
// fraction to sink after each increment, the way spec.md §4.2 describes:
// "Progress is incremented once per attempted item whether or not it
// succeeded."
type Tracker struct {
	sink  Sink
	total int
	done  int
	mu    sync.Mutex
}

// NewTracker returns a Tracker publishing to sink against total items.
func NewTracker(sink Sink, total int) *Tracker {
	if sink == nil {
		sink = NopSink{}
	}
	return &Tracker{sink: sink, total: total}
}

// Increment records one attempted item (regardless of outcome) and
// publishes the new fraction.
func (t *Tracker) Increment() {
	t.mu.Lock()
	t.done++
	done, total := t.done, t.total
	t.mu.Unlock()
	t.sink.Update(done, total)
}

// Done publishes progress=1 unconditionally, per spec.md §4.2's "In all
// cases, publish progress=1 ... before returning."
func (t *Tracker) Done() {
	t.mu.Lock()
	total := t.total
	if total <= 0 {
		total = 1
	}
	t.done = total
	t.mu.Unlock()
	t.sink.Update(total, total)
}
