package storage

import (
	"fmt"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ije/gox/utils"
)

// Cache is a process-local, best-effort memoization layer. The server
// opens one at boot; neither the transform pipeline (which memoizes on
// the ModuleNode itself) nor the dependency optimizer reads or writes it.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

type cacheDriver interface {
	Open(config string) (Cache, error)
}

var cacheDrivers = sync.Map{}

// OpenCache opens a Cache from a "driver:config" URL, e.g. "memory:2048".
func OpenCache(cacheUrl string) (Cache, error) {
	name, config := utils.SplitByFirstByte(cacheUrl, ':')
	drv, ok := cacheDrivers.Load(name)
	if !ok {
		return nil, fmt.Errorf("unregistered cache driver '%s'", name)
	}
	return drv.(cacheDriver).Open(config)
}

// RegisterCache registers a named Cache driver.
func RegisterCache(name string, drv cacheDriver) error {
	if _, ok := cacheDrivers.Load(name); ok {
		return fmt.Errorf("cache driver '%s' has been registered", name)
	}
	cacheDrivers.Store(name, drv)
	return nil
}

const defaultCacheSize = 4096

type memoryCacheDriver struct{}

func (d *memoryCacheDriver) Open(config string) (Cache, error) {
	size := defaultCacheSize
	if config != "" && config != "default" {
		if n, err := strconv.Atoi(config); err == nil && n > 0 {
			size = n
		}
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &memoryCache{lru: c}, nil
}

type memoryCache struct {
	lru *lru.Cache[string, []byte]
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *memoryCache) Set(key string, value []byte) {
	c.lru.Add(key, value)
}

func (c *memoryCache) Delete(key string) {
	c.lru.Remove(key)
}

func init() {
	RegisterCache("memory", &memoryCacheDriver{})
}
