// Package kvcache implements a small bbolt-backed memo cache of verified
// objects. No other package of this module opens it: the verification
// phase (spec.md §4.2 phase 1) downloads and rehashes every object it
// checks without consulting this cache. Grounded on lib/kv's role
// in backend/hasher.go, which keeps a bolt-backed checksum cache keyed by
// fingerprint next to (rather than inside) the backend's own state.
package kvcache

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"github.com/pkg/errors"
)

var bucketName = []byte("verified")

// Cache is a small bolt-backed key/value memo store.
type Cache struct {
	db *bolt.DB
}

// Entry is what Cache stores per remote volume name.
type Entry struct {
	Size      int64
	Hash      string
	CheckedAt time.Time
}

// Open opens (creating if necessary) a bolt database at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "kvcache: open")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "kvcache: create bucket")
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying bolt database.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached entry for name, if any.
func (c *Cache) Get(name string) (Entry, bool, error) {
	var e Entry
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(name))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return Entry{}, false, errors.Wrap(err, "kvcache: get")
	}
	return e, found, nil
}

// Put stores e under name.
func (c *Cache) Put(name string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "kvcache: marshal")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(name), data)
	})
}

// Delete removes name's cached entry, if present.
func (c *Cache) Delete(name string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(name))
	})
}
