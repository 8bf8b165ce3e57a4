package server

import (
	logx "github.com/ije/gox/log"

	"github.com/esmkit/devkit/server/storage"
)

// log is the server's diagnostic logger, kept process-global: logging is
// an ambient concern, not part of the mutable, request-scoped state that
// must live on a per-server context (the module graph, the optimizer,
// the dep cache — see DevServer below). Replaced with a real file/stdout
// logger once a Config's LogLevel is known.
var log = &logx.Logger{}

// DevServer is the per-instance context object created at listen() and
// torn down at close(). It owns every piece of mutable state the core
// touches, so that running more than one dev server in the same process
// never shares a module graph, cache, or optimizer generation.
type DevServer struct {
	Config Config

	Graph     *ModuleGraph
	Container *PluginContainer
	Optimizer *Optimizer
	Pipeline  *TransformPipeline
	Channel   *Channel
	Watcher   *Watcher

	cache storage.Cache
	fs    storage.FS
	db    storage.DBConn
	embed EmbedFS
}

// Close tears down watchers, open connections, and storage handles.
func (s *DevServer) Close() error {
	if s.Watcher != nil {
		s.Watcher.Close()
	}
	if s.Channel != nil {
		s.Channel.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
