package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

// FS is the dependency-optimizer cache directory abstraction. One FS
// instance is owned by a single server instance: concurrent
// servers on the same project root must use distinct cache roots.
type FS interface {
	Exists(name string) (bool, time.Time, error)
	ReadFile(name string) (io.ReadSeekCloser, error)
	WriteFile(name string, content io.Reader) (int64, error)
	WriteData(name string, data []byte) error
	Remove(name string) error
}

type fsDriver interface {
	Open(root string) (FS, error)
}

var fsDrivers = sync.Map{}

// OpenFS opens an FS from a "driver:config" URL, e.g. "local:.devkit/cache".
func OpenFS(fsUrl string) (FS, error) {
	name, config := utils.SplitByFirstByte(fsUrl, ':')
	drv, ok := fsDrivers.Load(name)
	if !ok {
		return nil, fmt.Errorf("unregistered fs driver '%s'", name)
	}
	return drv.(fsDriver).Open(config)
}

// RegisterFS registers a named FS driver.
func RegisterFS(name string, drv fsDriver) error {
	if _, ok := fsDrivers.Load(name); ok {
		return fmt.Errorf("fs driver '%s' has been registered", name)
	}
	fsDrivers.Store(name, drv)
	return nil
}

type localFSDriver struct{}

func (d *localFSDriver) Open(root string) (FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &localFS{root: abs}, nil
}

// localFS stores cache entries as plain files under root, mirroring the
// relative URL path passed to WriteFile/ReadFile.
type localFS struct {
	root string
}

func (fs *localFS) abs(name string) string {
	return filepath.Join(fs.root, filepath.FromSlash(path.Clean("/"+name)))
}

func (fs *localFS) Exists(name string) (bool, time.Time, error) {
	fi, err := os.Stat(fs.abs(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, fi.ModTime(), nil
}

func (fs *localFS) ReadFile(name string) (io.ReadSeekCloser, error) {
	return os.Open(fs.abs(name))
}

func (fs *localFS) WriteFile(name string, content io.Reader) (int64, error) {
	p := fs.abs(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, err
	}
	tmp := p + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, content)
	f.Close()
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

func (fs *localFS) WriteData(name string, data []byte) error {
	p := fs.abs(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0644)
}

func (fs *localFS) Remove(name string) error {
	err := os.Remove(fs.abs(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func init() {
	RegisterFS("local", &localFSDriver{})
}
