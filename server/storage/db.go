package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

var ErrorNotFound = errors.New("record not found")

// Store is one manifest record: the dependency optimizer's per-entry
// metadata (source entry, output file, file hash, browserHash,
// needsInterop) keyed by field name so a driver can persist it without a
// fixed schema.
type Store map[string]string

type dbDriver interface {
	Open(config string) (conn DBConn, err error)
}

// DBConn is the optimizer's manifest store: one record per bare
// specifier, keyed by id. The optimizer writes a record after each
// optimization round; it does not read records back, so a restart
// re-optimizes every dependency.
type DBConn interface {
	Get(id string) (store Store, modtime time.Time, err error)
	Put(id string, store Store) error
	Delete(id string) error
	Close() error
}

var dbDrivers = sync.Map{}

// OpenDB opens a DBConn from a "driver:config" URL, e.g. "bolt:.devkit/manifest.db".
func OpenDB(dbUrl string) (DBConn, error) {
	name, config := utils.SplitByFirstByte(dbUrl, ':')
	drv, ok := dbDrivers.Load(name)
	if !ok {
		return nil, fmt.Errorf("unregistered db driver '%s'", name)
	}
	return drv.(dbDriver).Open(config)
}

// RegisterDB registers a named DBConn driver.
func RegisterDB(name string, drv dbDriver) error {
	if _, ok := dbDrivers.Load(name); ok {
		return fmt.Errorf("db driver '%s' has been registered", name)
	}
	dbDrivers.Store(name, drv)
	return nil
}
