package storage

import (
	"sync"
	"time"
)

type memDB struct{}

func (d *memDB) Open(config string) (DBConn, error) {
	return &memDBConn{data: map[string]record{}}, nil
}

// memDBConn is an in-process DB used for tests and single-process dev runs
// that don't need the manifest to survive a restart.
type memDBConn struct {
	mu   sync.RWMutex
	data map[string]record
}

func (c *memDBConn) Get(id string) (store Store, modtime time.Time, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.data[id]
	if !ok {
		err = ErrorNotFound
		return
	}
	return r.store, r.modtime, nil
}

func (c *memDBConn) Put(id string, store Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = record{store: store, modtime: time.Now()}
	return nil
}

func (c *memDBConn) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	return nil
}

func (c *memDBConn) Close() error { return nil }

func init() {
	RegisterDB("memory", &memDB{})
}
