// Package database implements the local database surface spec.md §6
// requires, grounded on backend/sqlite/sqlite_utils.go's database/sql +
// github.com/mattn/go-sqlite3 wiring (connection setup, idempotent
// CREATE ... IF NOT EXISTS schema creation, parameterized queries over a
// shared *sql.DB).
package database

import "time"

// VolumeState is the lifecycle state of a remote_volume row, spec.md §3.
type VolumeState string

// Volume states.
const (
	StateTemporary VolumeState = "Temporary"
	StateUploading VolumeState = "Uploading"
	StateUploaded  VolumeState = "Uploaded"
	StateVerified  VolumeState = "Verified"
	StateDeleting  VolumeState = "Deleting"
	StateDeleted   VolumeState = "Deleted"
)

// VolumeKind mirrors volume.Kind as a DB-stored string, avoiding a direct
// dependency from database on the volume package's filename grammar.
type VolumeKind string

// Volume kinds, spec.md §3.
const (
	KindFiles  VolumeKind = "Files"
	KindIndex  VolumeKind = "Index"
	KindBlocks VolumeKind = "Blocks"
)

// RemoteVolume is one row of the remote_volume table.
type RemoteVolume struct {
	ID                int64
	Name              string
	Kind              VolumeKind
	Size              int64
	Hash              string
	State             VolumeState
	CompressionModule string
	EncryptionModule  string
	Time              time.Time
}

// Fileset is one row of the fileset table.
type Fileset struct {
	ID             int64
	Time           time.Time
	IsFullBackup   bool
	RemoteVolumeID int64 // 0 if unlinked (MissingRemoteFilesets)
}

// FilesetEntry is one file or directory entry of a fileset.
type FilesetEntry struct {
	FilesetID     int64
	Path          string
	IsDir         bool
	Size          int64
	ModTime       time.Time
	BlockHash     string // single-block files
	BlockListHash string // multi-block files
}

// Block is one (hash,size) pair known to live in a specific data volume.
type Block struct {
	Hash     string
	Size     int64
	VolumeID int64
	Restored bool
}

// BlockList is one (hash,length) block-list row, optionally bound to the
// index volume that carries its payload.
type BlockList struct {
	Hash     string
	Length   int64
	VolumeID int64
}

// BlockSource is a local-file source hint for recovering a block: the file
// it was last seen in and the byte offset it started at.
type BlockSource struct {
	LocalPath string
	Offset    int64
}
