package server

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
)

// Watcher wraps fsnotify with the debounce behavior Config.WatchDebounce
// asks for: a burst of writes to the same file within the window is
// coalesced into a single onChange call, the way an editor's
// save-and-format often produces two writes in quick succession.
type Watcher struct {
	fsw      *fsnotify.Watcher
	ignore   *ignore.GitIgnore
	debounce time.Duration
	onChange func(file string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	closing chan struct{}
}

// NewWatcher starts watching root recursively, reporting debounced
// changes to onChange. watchIgnore entries are gitignore-style patterns
// layered on top of the always-ignored node_modules, .git, and cacheDir.
func NewWatcher(root string, cacheDir string, watchIgnore []string, debounce time.Duration, onChange func(file string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	patterns := append([]string{"node_modules", ".git", filepath.Base(cacheDir)}, watchIgnore...)
	gi := ignore.CompileIgnoreLines(patterns...)

	w := &Watcher{
		fsw:      fsw,
		ignore:   gi,
		debounce: debounce,
		onChange: onChange,
		timers:   map[string]*time.Timer{},
		closing:  make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// addRecursive walks dir and registers every subdirectory with fsnotify,
// which (unlike inotify's IN_ONLYDIR-recursive relatives on some
// platforms) only watches the directory it is given, not its children.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if name == "node_modules" || name == ".git" {
			return filepath.SkipDir
		}
		if w.ignore.MatchesPath(filepath.ToSlash(p)) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.closing:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel := filepath.ToSlash(ev.Name)
	if w.ignore.MatchesPath(rel) {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// fsnotify only watches the directory it is given, so a subdirectory
	// created after startup needs its own Add call or files written inside
	// it are invisible.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addRecursive(ev.Name)
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	file := ev.Name
	w.timers[ev.Name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, file)
		w.mu.Unlock()
		w.onChange(file)
	})
}

// Add registers a directory (and, if it is a directory, fsnotify watches
// it non-recursively) so files created after startup are observed too.
// fsnotify has no recursive-watch primitive of its own.
func (w *Watcher) Add(path string) error {
	if strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	return w.fsw.Add(path)
}

func (w *Watcher) Close() error {
	close(w.closing)
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
