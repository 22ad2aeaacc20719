// Package diagnostics renders human-readable sizes and counts, using
// github.com/dustin/go-humanize the way the rest of the pack favors a real
// size-formatting library over hand-rolled byte-unit math. No other
// package of this module calls it.
package diagnostics

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Size renders n bytes as a human string, e.g. "4.2 MB".
func Size(n int64) string {
	return humanize.Bytes(uint64(n))
}

// Count pluralizes noun for n, e.g. Count(1, "block") == "1 block",
// Count(3, "block") == "3 blocks".
func Count(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
