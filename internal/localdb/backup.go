// Package localdb implements small, independently testable helpers around
// the local database file itself (as opposed to its SQL contents), used by
// the coordinator's decision tree (spec.md §4.1 step 2).
package localdb

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// maxBackupAttempts bounds the search for a free backup suffix, per
// spec.md §4.1 step 2 ("first free suffix, bounded at 1000 attempts").
const maxBackupAttempts = 1000

// NextBackupName returns the first unused "<path>.backup" or
// "<path>.backup-N" path, without creating it.
func NextBackupName(path string) (string, error) {
	candidate := path + ".backup"
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}
	for n := 1; n < maxBackupAttempts; n++ {
		candidate := fmt.Sprintf("%s.backup-%d", path, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", errors.Errorf("localdb: no free backup suffix for %q after %d attempts", path, maxBackupAttempts)
}
