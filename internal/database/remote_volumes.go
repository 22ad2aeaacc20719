package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

func scanRemoteVolume(row interface {
	Scan(dest ...interface{}) error
}) (RemoteVolume, error) {
	var v RemoteVolume
	var kind, state string
	var ms int64
	if err := row.Scan(&v.ID, &v.Name, &kind, &v.Size, &v.Hash, &state, &v.CompressionModule, &v.EncryptionModule, &ms); err != nil {
		return RemoteVolume{}, err
	}
	v.Kind = VolumeKind(kind)
	v.State = VolumeState(state)
	v.Time = time.UnixMilli(ms).UTC()
	return v, nil
}

const remoteVolumeColumns = "id, name, kind, size, hash, state, compression_module, encryption_module, time"

// GetRemoteVolumes returns every known remote volume row.
func (d *DB) GetRemoteVolumes(ctx context.Context) ([]RemoteVolume, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT "+remoteVolumeColumns+" FROM remote_volume")
	if err != nil {
		return nil, errors.Wrap(err, "database: GetRemoteVolumes")
	}
	defer rows.Close()
	var out []RemoteVolume
	for rows.Next() {
		v, err := scanRemoteVolume(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetRemoteVolume looks up a single row by name.
func (d *DB) GetRemoteVolume(ctx context.Context, name string) (*RemoteVolume, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+remoteVolumeColumns+" FROM remote_volume WHERE name = ?", name)
	v, err := scanRemoteVolume(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "database: GetRemoteVolume")
	}
	return &v, nil
}

// GetRemoteVolumeID resolves name to its row id, optionally inside tx.
func (d *DB) GetRemoteVolumeID(ctx context.Context, name string, tx *Tx) (int64, bool, error) {
	row := d.q(tx).QueryRowContext(ctx, "SELECT id FROM remote_volume WHERE name = ?", name)
	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "database: GetRemoteVolumeID")
	}
	return id, true, nil
}

// RegisterRemoteVolume inserts a new remote_volume row and returns its id.
func (d *DB) RegisterRemoteVolume(ctx context.Context, tx *Tx, v RemoteVolume) (int64, error) {
	res, err := d.q(tx).ExecContext(ctx,
		`INSERT INTO remote_volume (name, kind, size, hash, state, compression_module, encryption_module, time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Name, string(v.Kind), v.Size, v.Hash, string(v.State), v.CompressionModule, v.EncryptionModule, v.Time.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "database: RegisterRemoteVolume")
	}
	return res.LastInsertId()
}

// UpdateRemoteVolume persists changes to size/hash/state for an existing row.
func (d *DB) UpdateRemoteVolume(ctx context.Context, tx *Tx, v RemoteVolume) error {
	_, err := d.q(tx).ExecContext(ctx,
		`UPDATE remote_volume SET size = ?, hash = ?, state = ?, compression_module = ?, encryption_module = ? WHERE id = ?`,
		v.Size, v.Hash, string(v.State), v.CompressionModule, v.EncryptionModule, v.ID,
	)
	if err != nil {
		return errors.Wrap(err, "database: UpdateRemoteVolume")
	}
	return nil
}

// SetRemoteVolumeState is a narrow convenience over UpdateRemoteVolume for
// the common case of a bare state transition (e.g. Deleting, Uploading).
func (d *DB) SetRemoteVolumeState(ctx context.Context, tx *Tx, id int64, state VolumeState) error {
	_, err := d.q(tx).ExecContext(ctx, "UPDATE remote_volume SET state = ? WHERE id = ?", string(state), id)
	if err != nil {
		return errors.Wrap(err, "database: SetRemoteVolumeState")
	}
	return nil
}

// LinkFilesetToVolume binds filesetID to remote volume volumeID.
func (d *DB) LinkFilesetToVolume(ctx context.Context, tx *Tx, filesetID, volumeID int64) error {
	_, err := d.q(tx).ExecContext(ctx, "UPDATE fileset SET remote_volume_id = ? WHERE id = ?", volumeID, filesetID)
	if err != nil {
		return errors.Wrap(err, "database: LinkFilesetToVolume")
	}
	return nil
}

// CreateFileset inserts a new fileset row and returns its id.
func (d *DB) CreateFileset(ctx context.Context, tx *Tx, fs Fileset) (int64, error) {
	var remoteID interface{}
	if fs.RemoteVolumeID != 0 {
		remoteID = fs.RemoteVolumeID
	}
	res, err := d.q(tx).ExecContext(ctx,
		"INSERT INTO fileset (time, is_full_backup, remote_volume_id) VALUES (?, ?, ?)",
		fs.Time.UTC().UnixMilli(), boolToInt(fs.IsFullBackup), remoteID,
	)
	if err != nil {
		return 0, errors.Wrap(err, "database: CreateFileset")
	}
	return res.LastInsertId()
}

// GetFilesetIdFromRemotename resolves a fileset volume's remote name to its
// fileset id.
func (d *DB) GetFilesetIdFromRemotename(ctx context.Context, name string) (int64, bool, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT fileset.id FROM fileset
		 JOIN remote_volume ON remote_volume.id = fileset.remote_volume_id
		 WHERE remote_volume.name = ?`, name)
	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "database: GetFilesetIdFromRemotename")
	}
	return id, true, nil
}

// FilesetTimes returns every fileset's timestamp, used for the freshness
// check of spec.md §4.2.
func (d *DB) FilesetTimes(ctx context.Context) ([]time.Time, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT time FROM fileset")
	if err != nil {
		return nil, errors.Wrap(err, "database: FilesetTimes")
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out, rows.Err()
}

// IsFilesetFullBackup reports the is_full_backup flag of filesetID.
func (d *DB) IsFilesetFullBackup(ctx context.Context, filesetID int64) (bool, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT is_full_backup FROM fileset WHERE id = ?", filesetID)
	var v int
	if err := row.Scan(&v); err != nil {
		return false, errors.Wrap(err, "database: IsFilesetFullBackup")
	}
	return v != 0, nil
}

// GetRemoteVolumeFromFilesetID resolves a fileset's linked remote volume,
// or nil if unlinked.
func (d *DB) GetRemoteVolumeFromFilesetID(ctx context.Context, filesetID int64) (*RemoteVolume, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT remote_volume.`+remoteVolumeColumns+` FROM remote_volume
		 JOIN fileset ON fileset.remote_volume_id = remote_volume.id
		 WHERE fileset.id = ?`, filesetID)
	v, err := scanRemoteVolume(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "database: GetRemoteVolumeFromFilesetID")
	}
	return &v, nil
}

// MissingRemoteFilesets returns every fileset with no linked remote volume.
func (d *DB) MissingRemoteFilesets(ctx context.Context) ([]Fileset, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT id, time, is_full_backup FROM fileset WHERE remote_volume_id IS NULL")
	if err != nil {
		return nil, errors.Wrap(err, "database: MissingRemoteFilesets")
	}
	defer rows.Close()
	var out []Fileset
	for rows.Next() {
		var fs Fileset
		var ms int64
		var full int
		if err := rows.Scan(&fs.ID, &ms, &full); err != nil {
			return nil, err
		}
		fs.Time = time.UnixMilli(ms).UTC()
		fs.IsFullBackup = full != 0
		out = append(out, fs)
	}
	return out, rows.Err()
}

// MissingLocalFilesets returns every remote fileset volume with no
// corresponding local fileset row.
func (d *DB) MissingLocalFilesets(ctx context.Context) ([]RemoteVolume, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT remote_volume.`+remoteVolumeColumns+` FROM remote_volume
		 LEFT JOIN fileset ON fileset.remote_volume_id = remote_volume.id
		 WHERE remote_volume.kind = ? AND fileset.id IS NULL`, string(KindFiles))
	if err != nil {
		return nil, errors.Wrap(err, "database: MissingLocalFilesets")
	}
	defer rows.Close()
	var out []RemoteVolume
	for rows.Next() {
		v, err := scanRemoteVolume(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// EmptyIndexFiles returns index volumes whose DB row carries no block
// references at all (the DB-side half of spec.md §3's EmptyIndexFiles
// class; the coordinator still checks the row's recorded size against the
// 2048-byte limit before deleting).
func (d *DB) EmptyIndexFiles(ctx context.Context) ([]RemoteVolume, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT remote_volume.`+remoteVolumeColumns+` FROM remote_volume
		 LEFT JOIN index_block_link ON index_block_link.index_volume_id = remote_volume.id
		 WHERE remote_volume.kind = ? AND index_block_link.data_volume_id IS NULL`, string(KindIndex))
	if err != nil {
		return nil, errors.Wrap(err, "database: EmptyIndexFiles")
	}
	defer rows.Close()
	var out []RemoteVolume
	for rows.Next() {
		v, err := scanRemoteVolume(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetLastIncompleteFilesetVolume returns the most recent fileset volume
// still in a non-durable state, exempted from cleanup per spec.md §4.4.
func (d *DB) GetLastIncompleteFilesetVolume(ctx context.Context) (*RemoteVolume, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT `+remoteVolumeColumns+` FROM remote_volume
		 WHERE kind = ? AND state NOT IN (?, ?)
		 ORDER BY time DESC LIMIT 1`, string(KindFiles), string(StateUploaded), string(StateVerified))
	v, err := scanRemoteVolume(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "database: GetLastIncompleteFilesetVolume")
	}
	return &v, nil
}

// GetBlockVolumesFromIndexName enumerates the data volume names an index
// volume should cover, from the index_block_link table.
func (d *DB) GetBlockVolumesFromIndexName(ctx context.Context, indexName string) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT data_volume.name FROM index_block_link
		 JOIN remote_volume AS index_volume ON index_volume.id = index_block_link.index_volume_id
		 JOIN remote_volume AS data_volume ON data_volume.id = index_block_link.data_volume_id
		 WHERE index_volume.name = ?`, indexName)
	if err != nil {
		return nil, errors.Wrap(err, "database: GetBlockVolumesFromIndexName")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// AddIndexBlockLink records that indexVolumeID describes dataVolumeID.
func (d *DB) AddIndexBlockLink(ctx context.Context, tx *Tx, indexVolumeID, dataVolumeID int64) error {
	_, err := d.q(tx).ExecContext(ctx,
		"INSERT OR IGNORE INTO index_block_link (index_volume_id, data_volume_id) VALUES (?, ?)",
		indexVolumeID, dataVolumeID)
	if err != nil {
		return errors.Wrap(err, "database: AddIndexBlockLink")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
