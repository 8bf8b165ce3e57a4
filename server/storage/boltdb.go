package storage

import (
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var manifestBucket = []byte("manifest")

type boltDB struct{}

func (d *boltDB) Open(config string) (DBConn, error) {
	path, err := filepath.Abs(config)
	if err != nil {
		return nil, err
	}
	log.Debugf("opening manifest db at %s", path)
	if err := EnsureDirForFile(path); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(manifestBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltConn{db: db}, nil
}

// boltConn persists the dependency optimizer's metadata manifest: one
// Store record per optimized entry, keyed by specifier.
type boltConn struct {
	db *bolt.DB
}

func (c *boltConn) Get(id string) (store Store, modtime time.Time, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(manifestBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return ErrorNotFound
		}
		rec, derr := decodeRecord(raw)
		if derr != nil {
			return derr
		}
		store = rec.store
		modtime = rec.modtime
		return nil
	})
	return
}

func (c *boltConn) Put(id string, store Store) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(manifestBucket)
		return b.Put([]byte(id), encodeRecord(record{store: store, modtime: time.Now()}))
	})
}

func (c *boltConn) Delete(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(manifestBucket)
		return b.Delete([]byte(id))
	})
}

func (c *boltConn) Close() error {
	return c.db.Close()
}

func init() {
	RegisterDB("bolt", &boltDB{})
}
