package server

import "time"

// Config is everything the core consumes from the outside: filesystem
// roots, optimizer include/exclude rules, watcher tuning, and the HMR
// websocket endpoint.
// The CLI front-end / config-file loader is responsible
// for producing one of these; devkit's own cmd/devkit is a thin example of
// such a loader built on cobra.
type Config struct {
	// Root is the project root directory the module graph and watcher
	// resolve file paths against.
	Root string

	// BasePath is the public base path requests are expected under; an
	// empty string means requests are served from "/".
	BasePath string

	// AllowedRoots are the workspace roots a "/@fs/<path>" request may
	// read from. Root is always included.
	AllowedRoots []string

	// Optimize controls the dependency optimizer's include/exclude lists.
	Optimize OptimizeConfig

	// WatchIgnore are gitignore-style patterns the watcher never reports
	// changes for (in addition to node_modules and the cache dir).
	WatchIgnore []string

	// WatchDebounce is the coalescing window for file-change batching.
	// Defaults to 50ms, enough to coalesce a save-and-format double write
	// without feeling laggy.
	WatchDebounce time.Duration

	// CacheDir is where the dependency optimizer writes pre-bundled
	// output and its manifest. Defaults to "<Root>/.devkit/cache".
	CacheDir string

	// HMRHost/HMRPort are accepted but not read: the message channel is
	// always served on the HTTP server's own port, and the client runtime
	// connects to the host and port of the page it was loaded from.
	// HMRDisabled turns the message-channel endpoint off (it answers 404).
	HMRHost     string
	HMRPort     int
	HMRDisabled bool

	// Plugins are consulted by the Plugin Container in registration
	// order within their enforce band.
	Plugins []Plugin

	LogLevel string
}

// OptimizeConfig is the Dependency Optimizer's declared include/exclude
// surface.
type OptimizeConfig struct {
	Include []string
	Exclude []string
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cfg.Root + "/.devkit/cache"
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = 50 * time.Millisecond
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	roots := make([]string, 0, len(cfg.AllowedRoots)+1)
	roots = append(roots, cfg.Root)
	roots = append(roots, cfg.AllowedRoots...)
	cfg.AllowedRoots = roots
	return cfg
}
