// Package backend defines the capability interface the repair coordinator
// consumes to talk to remote storage (spec.md §6): List, Get, Put, Delete,
// CreateFolder, Test, plus the WaitForEmpty drain barrier spec.md §5
// requires. Concrete transports (local disk, S3, ...) implement Backend;
// the core never depends on a concrete transport type.
package backend

import (
	"context"
)

// Entry is one object or folder as reported by List.
type Entry struct {
	Name     string
	Size     int64
	IsFolder bool
}

// GetResult is returned by GetWithInfo: the downloaded object's local path
// plus the whole-object hash and size the backend itself observed while
// streaming it, independent of whatever the caller expected.
type GetResult struct {
	LocalPath string
	Hash      string
	Size      int64
}

// OverlappedResult is one item of the stream GetFilesOverlapped produces.
// Err is set (LocalPath empty) when that particular name failed; the
// overall call only fails if the backend itself could not be reached.
type OverlappedResult struct {
	Name      string
	LocalPath string
	Hash      string
	Size      int64
	Err       error
}

// VolumeSource is a local, already-closed volume archive ready to be
// uploaded: the local file path produced by a volume.Writer after Close.
type VolumeSource struct {
	Name      string
	LocalPath string
	Size      int64
}

// Backend is the pluggable remote-transport capability set of spec.md §6.
// Every method accepts a context so the coordinator's cooperative
// cancellation (spec.md §5) reaches into backend I/O.
type Backend interface {
	// List enumerates every object currently in the backend's folder.
	List(ctx context.Context) ([]Entry, error)

	// Get downloads name to a local temporary file. It does no validation
	// of the download; callers that need the observed hash/size use
	// GetWithInfo.
	Get(ctx context.Context, name string) (localPath string, err error)

	// GetWithInfo downloads name and reports the hash/size the backend
	// observed while streaming it.
	GetWithInfo(ctx context.Context, name string) (GetResult, error)

	// GetFilesOverlapped downloads every name in names, streaming results
	// as they complete rather than waiting for the slowest. The returned
	// channel is closed once every request has produced a result (success
	// or per-item error).
	GetFilesOverlapped(ctx context.Context, names []string) (<-chan OverlappedResult, error)

	// Put uploads src. Implementations may queue the upload and return
	// before the bytes are durably stored; WaitForEmpty is the barrier
	// that guarantees completion.
	Put(ctx context.Context, src VolumeSource) error

	// Delete removes name. size is passed through for backends that can
	// use it to short-circuit a stat call.
	Delete(ctx context.Context, name string, size int64) error

	// CreateFolder ensures the backend's target folder exists.
	CreateFolder(ctx context.Context) error

	// Test verifies the backend is reachable and read/write-capable.
	Test(ctx context.Context) error

	// WaitForEmpty blocks until every Put this Backend has accepted is
	// durably stored. The coordinator calls it before claiming overall
	// success and before clearing TerminatedWithActiveUploads (spec.md §5).
	WaitForEmpty(ctx context.Context) error
}

// TempFileCleanup removes the local temporary file produced by Get /
// GetWithInfo / GetFilesOverlapped once the caller is done with it. Every
// call site defers this on all exit paths, per spec.md §3's "Lifecycle &
// ownership" (temporary files scoped to the operation that consumed them).
func TempFileCleanup(path string, remove func(string) error) {
	if path == "" {
		return
	}
	_ = remove(path)
}
