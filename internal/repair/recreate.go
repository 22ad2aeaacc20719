package repair

import (
	"context"

	"github.com/pkg/errors"

	"github.com/duprepair/duprepair/internal/backend"
	"github.com/duprepair/duprepair/internal/database"
)

// errRecreateUnavailable is returned by NopRecreator.
var errRecreateUnavailable = errors.New("repair: no database recreate subroutine is configured")

// Recreator is the external *database recreate-from-scratch* subroutine
// spec.md §1 lists as "used as a subroutine but specified only at its
// interface": rebuilding the entire local database from a remote listing
// when no usable database exists at all. The coordinator never implements
// this itself.
type Recreator interface {
	RecreateFromRemote(ctx context.Context, db *database.DB, back backend.Backend) error
}

// NopRecreator rejects every recreate request. When the database file is
// missing, the coordinator surfaces this as
// repairerr.HelpDatabaseDoesNotExist; when the file exists but is empty,
// the failure is returned unwrapped.
type NopRecreator struct{}

// RecreateFromRemote implements Recreator by always failing.
func (NopRecreator) RecreateFromRemote(ctx context.Context, db *database.DB, back backend.Backend) error {
	return errRecreateUnavailable
}
