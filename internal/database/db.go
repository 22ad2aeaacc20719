package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// schema follows backend/sqlite/sqlite_utils.go's pattern: one constant
// block of CREATE TABLE IF NOT EXISTS statements, applied once per
// connection.
const schema = `
CREATE TABLE IF NOT EXISTS remote_volume (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	hash TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	compression_module TEXT NOT NULL DEFAULT '',
	encryption_module TEXT NOT NULL DEFAULT '',
	time INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fileset (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time INTEGER NOT NULL,
	is_full_backup INTEGER NOT NULL DEFAULT 0,
	remote_volume_id INTEGER
);

CREATE TABLE IF NOT EXISTS fileset_entry (
	fileset_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	is_dir INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	mod_time INTEGER NOT NULL DEFAULT 0,
	block_hash TEXT NOT NULL DEFAULT '',
	block_list_hash TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_fileset_entry_fileset ON fileset_entry(fileset_id);

CREATE TABLE IF NOT EXISTS block (
	hash TEXT NOT NULL,
	size INTEGER NOT NULL,
	volume_id INTEGER NOT NULL,
	restored INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (hash, size)
);
CREATE INDEX IF NOT EXISTS idx_block_volume ON block(volume_id);

CREATE TABLE IF NOT EXISTS block_source (
	hash TEXT NOT NULL,
	size INTEGER NOT NULL,
	local_path TEXT NOT NULL,
	offset INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_block_source_hash ON block_source(hash, size);

CREATE TABLE IF NOT EXISTS blocklist (
	hash TEXT PRIMARY KEY,
	length INTEGER NOT NULL,
	volume_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS index_block_link (
	index_volume_id INTEGER NOT NULL,
	data_volume_id INTEGER NOT NULL,
	PRIMARY KEY (index_volume_id, data_volume_id)
);

CREATE TABLE IF NOT EXISTS flag (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

// DB wraps the local sqlite database.
type DB struct {
	sql *sql.DB
	log *logrus.Entry
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema. pageCacheKB mirrors config.Options.SqlitePageCache,
// forwarded to the connection the way backend/sqlite/sqlite_utils.go
// forwards its own file path into the sqlite3 DSN.
func Open(path string, pageCacheKB int) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	if pageCacheKB > 0 {
		dsn += fmt.Sprintf("&_cache_size=-%d", pageCacheKB)
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "database: open")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "database: apply schema")
	}
	return &DB{sql: sqlDB, log: logrus.WithField("component", "database")}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error { return d.sql.Close() }

// Tx is a reusable transaction scope: a single phase owns it, sub-operations
// receive a reference but never commit it, and the phase commits once at
// the end (spec.md §9 "Reusable transactions"). Rolling back on any
// returned error is the caller's responsibility via Rollback, typically in
// a defer guarded by a "committed" flag.
type Tx struct {
	tx  *sql.Tx
	db  *DB
	tag string
}

// BeginTransaction starts a new reusable transaction scope tagged for
// logging (e.g. "CommitVerificationTransaction", "PostRepairFileset").
func (d *DB) BeginTransaction(ctx context.Context, tag string) (*Tx, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "database: begin transaction")
	}
	return &Tx{tx: tx, db: d, tag: tag}, nil
}

// Commit commits the scope.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return errors.Wrapf(err, "database: commit %s", t.tag)
	}
	t.db.log.WithField("tag", t.tag).Debug("committed transaction")
	return nil
}

// Rollback rolls back the scope; safe to call after a successful Commit
// (returns sql.ErrTxDone, ignored).
func (t *Tx) Rollback() {
	_ = t.tx.Rollback()
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting every query
// method below run either standalone or inside a caller-supplied Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (d *DB) q(tx *Tx) querier {
	if tx != nil {
		return tx.tx
	}
	return d.sql
}
