package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	logx "github.com/ije/gox/log"
	"github.com/ije/rex"

	"github.com/esmkit/devkit/server/storage"
)

// New builds a DevServer from cfg: opens storage, constructs the module
// graph, dependency optimizer, plugin container and transform pipeline,
// and starts the file watcher. It does not start listening; call Listen
// on the result (or use Serve to do both and block until shutdown).
func New(cfg Config) (*DevServer, error) {
	cfg = cfg.withDefaults()

	var err error
	log, err = logx.New(fmt.Sprintf("file:%s?buffer=32k", path.Join(cfg.CacheDir, "devkit.log")))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.SetLevelByName(cfg.LogLevel)
	storage.SetLogger(log)

	fs, err := storage.OpenFS(fmt.Sprintf("local:%s", path.Join(cfg.CacheDir, "deps")))
	if err != nil {
		return nil, fmt.Errorf("open cache fs: %w", err)
	}
	db, err := storage.OpenDB(fmt.Sprintf("bolt:%s", path.Join(cfg.CacheDir, "manifest.db")))
	if err != nil {
		return nil, fmt.Errorf("open manifest db: %w", err)
	}
	cache, err := storage.OpenCache("memory:4096")
	if err != nil {
		return nil, fmt.Errorf("open memo cache: %w", err)
	}

	graph := NewModuleGraph()
	channel := NewChannel()

	s := &DevServer{
		Config:  cfg,
		Graph:   graph,
		Channel: channel,
		cache:   cache,
		fs:      fs,
		db:      db,
		embed:   defaultEmbedFS(),
	}

	s.Optimizer = NewOptimizer(cfg.Root, cfg.CacheDir, cfg.Optimize, fs, db, func(reason string) {
		log.Infof("re-optimizing dependencies: %s", reason)
		s.Channel.SendFullReload("")
	})

	plugins := append(BuiltinPlugins(cfg, s.Optimizer), cfg.Plugins...)
	s.Container = NewPluginContainer(plugins, true)
	s.Container.ConfigureServer(s)

	s.Pipeline = NewTransformPipeline(graph, s.Container, s.Optimizer, channel, cfg)

	if err := s.prebundle(); err != nil {
		log.Warnf("initial dependency pre-bundle failed: %v", err)
	}

	watcher, err := NewWatcher(cfg.Root, cfg.CacheDir, cfg.WatchIgnore, cfg.WatchDebounce, s.onFileChange)
	if err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	s.Watcher = watcher

	return s, nil
}

// prebundle scans the project's entry files for bare specifiers and
// optimizes them up front, so the first page load never blocks on a
// discovery-triggered re-optimization for a dependency the project
// imports directly.
func (s *DevServer) prebundle() error {
	entryFiles, err := findFiles(s.Config.Root, "", func(p string) bool {
		return endsWith(p, ".js", ".jsx", ".ts", ".tsx", ".mjs", ".html")
	})
	if err != nil {
		return fmt.Errorf("scan entry files: %w", err)
	}
	specifiers, err := s.Optimizer.Scan(entryFiles)
	if err != nil {
		return fmt.Errorf("scan bare specifiers: %w", err)
	}
	if len(specifiers) == 0 {
		return nil
	}
	log.Infof("pre-bundling %d dependencies", len(specifiers))
	return s.Optimizer.Optimize(specifiers)
}

func readFileString(file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// onFileChange is the watcher's debounced callback: it walks the graph
// for HMR boundaries and either pushes targeted updates or asks clients
// to do a full reload. A plugin's handleHotUpdate hook runs first and may
// swallow the change entirely (returning a non-nil empty module set)
// when it wants to own the update itself.
func (s *DevServer) onFileChange(file string) {
	if s.Container != nil {
		modules := s.Graph.GetModulesByFile(file)
		ctx := &HotUpdateContext{
			File:     file,
			Modules:  modules,
			Graph:    s.Graph,
			ReadFile: func() (string, error) { return readFileString(file) },
		}
		next, err := s.Container.HandleHotUpdate(ctx)
		if err != nil {
			log.Warnf("handleHotUpdate: %s: %v", file, err)
		} else if next != nil && len(next) == 0 {
			return
		}
	}
	result := Propagate(s.Graph, file)
	if result.FullReload {
		log.Debugf("full reload: %s", file)
		s.Channel.SendFullReload(result.ReloadPath)
		return
	}
	if len(result.Updates) > 0 {
		log.Debugf("hmr update: %s (%d boundaries)", file, len(result.Updates))
		s.Channel.SendUpdate(result.Updates)
	}
}

// Listen starts the HTTP server and blocks until ctx is canceled or the
// process receives a termination signal.
func (s *DevServer) Listen(ctx context.Context, port int) error {
	rex.Use(
		rex.ErrorLogger(log),
		rex.Header("Server", "devkit"),
		rex.Cors(rex.CORS{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "HEAD"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept-Encoding"},
			MaxAge:          3600,
		}),
		router(s),
	)

	errCh := rex.Serve(rex.ServerConfig{Port: uint16(port)})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	select {
	case <-ctx.Done():
	case <-sigCh:
	case err := <-errCh:
		s.Close()
		return err
	}
	return s.Close()
}

// Serve is the convenience entrypoint cmd/devkit wires cobra to: build a
// DevServer from cfg and block on Listen.
func Serve(cfg Config, port int) error {
	s, err := New(cfg)
	if err != nil {
		return err
	}
	log.Infof("devkit dev server ready on http://localhost:%d%s", port, cfg.BasePath)
	return s.Listen(context.Background(), port)
}
