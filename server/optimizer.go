package server

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/esmkit/devkit/server/storage"
)

// bareImportRe is a conservative static scan for specifiers that appear in
// an import/export/require position, used only for *discovery*. The
// transform pipeline's AST-backed import analysis (server/importanalysis.go)
// is the source of truth for what a given module actually imports; this
// regex only seeds the optimizer's initial entry set before any module
// has been transformed.
var bareImportRe = regexp.MustCompile(`(?:\bfrom\s*|\bimport\s*|\brequire\s*\()\s*["']([^"'.\/][^"']*)["']`)

// OptimizerEntry is one pre-bundled dependency.
type OptimizerEntry struct {
	Specifier    string
	Src          string
	File         string
	FileHash     string
	NeedsInterop bool
	BrowserHash  string
}

// Optimizer is the Dependency Optimizer. One instance is owned by a
// single DevServer.
type Optimizer struct {
	cfg       OptimizeConfig
	root      string
	cacheDir  string
	fs        storage.FS
	db        storage.DBConn
	onReload  func(reason string)

	mu          sync.RWMutex
	entries     map[string]*OptimizerEntry
	browserHash string

	discoverMu  sync.Mutex
	discovered  map[string]struct{}
	reoptimizing bool
}

// NewOptimizer constructs an Optimizer backed by fs (the cache directory)
// and db (the metadata manifest store).
func NewOptimizer(root string, cacheDir string, cfg OptimizeConfig, fs storage.FS, db storage.DBConn, onReload func(reason string)) *Optimizer {
	return &Optimizer{
		cfg:        cfg,
		root:       root,
		cacheDir:   cacheDir,
		fs:         fs,
		db:         db,
		onReload:   onReload,
		entries:    map[string]*OptimizerEntry{},
		discovered: map[string]struct{}{},
	}
}

// Resolve returns the pre-bundled entry for a bare specifier, if one has
// been built. A miss schedules discovery: re-optimization happens
// whenever a previously unseen bare specifier appears.
func (o *Optimizer) Resolve(specifier string) (*OptimizerEntry, bool) {
	o.mu.RLock()
	e, ok := o.entries[specifier]
	o.mu.RUnlock()
	if ok {
		return e, true
	}
	name, _ := splitBareSpecifier(specifier)
	if o.excluded(name) {
		return nil, false
	}
	o.scheduleDiscovery(specifier)
	return nil, false
}

// BrowserHash returns the current generation's shared cache-bust hash
// across a full round of optimization.
func (o *Optimizer) BrowserHash() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.browserHash
}

// scheduleDiscovery records specifier as pending and kicks off a
// re-optimization in the background if one isn't already running.
func (o *Optimizer) scheduleDiscovery(specifier string) {
	name, _ := splitBareSpecifier(specifier)
	if o.excluded(name) {
		return
	}
	o.discoverMu.Lock()
	o.discovered[specifier] = struct{}{}
	alreadyRunning := o.reoptimizing
	o.reoptimizing = true
	o.discoverMu.Unlock()

	if alreadyRunning {
		return
	}
	go o.runDiscoveredReoptimize()
}

func (o *Optimizer) runDiscoveredReoptimize() {
	defer func() {
		o.discoverMu.Lock()
		o.reoptimizing = false
		o.discoverMu.Unlock()
	}()
	o.discoverMu.Lock()
	pending := make([]string, 0, len(o.discovered))
	for s := range o.discovered {
		pending = append(pending, s)
	}
	o.discoverMu.Unlock()
	if len(pending) == 0 {
		return
	}
	if err := o.Optimize(pending); err != nil {
		log.Warnf("optimizer: re-optimize failed: %v", err)
		return
	}
	o.discoverMu.Lock()
	for _, s := range pending {
		delete(o.discovered, s)
	}
	o.discoverMu.Unlock()
	// a re-optimization must be atomic from the browser's perspective —
	// signal a full-reload once the new generation is live.
	o.onReload("dependency re-optimization")
}

// Scan reads the given entry files and collects the bare specifiers they
// import, plus the configured include list, to seed the initial
// pre-bundle. Imports are not followed into other files.
func (o *Optimizer) Scan(entryFiles []string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, f := range entryFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		for _, m := range bareImportRe.FindAllStringSubmatch(string(data), -1) {
			spec := m[1]
			if !isBareSpecifier(spec) {
				continue
			}
			name, _ := splitBareSpecifier(spec)
			if o.excluded(name) {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	for _, inc := range o.cfg.Include {
		seen[inc] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (o *Optimizer) excluded(name string) bool {
	for _, pattern := range o.cfg.Exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Optimize bundles every specifier in one batch, invoking esbuild once
// with all of them as entry points, then computes per-entry and combined
// hashes and persists the manifest. It is serialized against concurrent
// re-optimizations via a lockfile in the cache directory.
func (o *Optimizer) Optimize(specifiers []string) error {
	unlock, err := o.acquireLock()
	if err != nil {
		return newOptimizeError(strings.Join(specifiers, ","), err)
	}
	defer unlock()

	if len(specifiers) == 0 {
		return nil
	}

	resolved := make(map[string]struct {
		pkg   Pkg
		entry string
	}, len(specifiers))
	entryPoints := make([]string, 0, len(specifiers))
	for _, spec := range specifiers {
		pkg, entry, err := resolveBareSpecifier(o.root, spec)
		if err != nil {
			return newOptimizeError(spec, err)
		}
		resolved[spec] = struct {
			pkg   Pkg
			entry string
		}{pkg, entry}
		entryPoints = append(entryPoints, entry)
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:      entryPoints,
		Bundle:           true,
		Format:           esbuild.FormatESModule,
		Platform:         esbuild.PlatformBrowser,
		Target:           esbuild.ES2020,
		Outdir:           "/optimized",
		Write:            false,
		MinifyWhitespace: true,
		Metafile:         true,
	})
	if len(result.Errors) > 0 {
		return newOptimizeError(strings.Join(specifiers, ","), fmt.Errorf("%s", result.Errors[0].Text))
	}

	newEntries := make(map[string]*OptimizerEntry, len(specifiers))
	entryOutputs, err := mapOutputsToEntries(entryPoints, result.OutputFiles)
	if err != nil {
		return newOptimizeError(strings.Join(specifiers, ","), err)
	}

	hashes := make([]string, 0, len(specifiers))
	for _, spec := range specifiers {
		r := resolved[spec]
		contents := entryOutputs[r.entry]
		fileHash := sha1Hex(contents)
		outName := fmt.Sprintf("%s-%s.js", sanitizeSpecifier(spec), fileHash[:8])

		shape, shapeErr := analyzeModuleShapeSource(r.entry, string(contents))
		needsWrap := shapeErr == nil && needsInterop(shape)
		finalContents := contents
		if needsWrap {
			wrapper := interopWrapper("./"+outName, shape.NamedExports)
			if min, err := minify(wrapper, esbuild.ESNext, esbuild.LoaderJS); err == nil {
				finalContents = min
			} else {
				finalContents = []byte(wrapper)
			}
		}

		if err := o.fs.WriteData("deps/"+outName, finalContents); err != nil {
			return newOptimizeError(spec, err)
		}

		newEntries[spec] = &OptimizerEntry{
			Specifier:    spec,
			Src:          r.entry,
			File:         outName,
			FileHash:     fileHash,
			NeedsInterop: needsWrap,
		}
		hashes = append(hashes, fileHash)
	}

	sort.Strings(hashes)
	browserHash := sha1Hex([]byte(strings.Join(hashes, ":")))
	for _, e := range newEntries {
		e.BrowserHash = browserHash
	}

	if o.db != nil {
		for spec, e := range newEntries {
			store := storage.Store{
				"src":          e.Src,
				"file":         e.File,
				"fileHash":     e.FileHash,
				"browserHash":  e.BrowserHash,
				"needsInterop": fmt.Sprintf("%v", e.NeedsInterop),
			}
			if err := o.db.Put(spec, store); err != nil {
				log.Warnf("optimizer: persist manifest for %s: %v", spec, err)
			}
		}
	}

	o.mu.Lock()
	for spec, e := range newEntries {
		o.entries[spec] = e
	}
	o.browserHash = browserHash
	o.mu.Unlock()
	return nil
}

// mapOutputsToEntries pairs each entry point with its esbuild output by
// base filename. esbuild mirrors each entry's basename (minus extension)
// into the outdir when no custom EntryNames template is set, so this is
// sufficient for the optimizer's one-entry-per-package bundling shape;
// shared chunk files (which share no entry's basename) are intentionally
// excluded from the result.
func mapOutputsToEntries(entryPoints []string, outputs []esbuild.OutputFile) (map[string][]byte, error) {
	wantByBase := make(map[string]string, len(entryPoints))
	for _, e := range entryPoints {
		wantByBase[stripModuleExt(filepath.Base(e))] = e
	}
	out := make(map[string][]byte, len(entryPoints))
	for _, o := range outputs {
		if !strings.HasSuffix(o.Path, ".js") {
			continue
		}
		base := stripModuleExt(filepath.Base(o.Path))
		if entry, ok := wantByBase[base]; ok {
			out[entry] = o.Contents
		}
	}
	for _, e := range entryPoints {
		if _, ok := out[e]; !ok {
			return nil, fmt.Errorf("no bundled output found for entry %s", e)
		}
	}
	return out, nil
}

// staleLockAge is how long an optimize.lock file can sit untouched before
// acquireLock assumes the process that created it died without cleaning up
// and reclaims it. A real bundling pass never takes this long.
const staleLockAge = 2 * time.Minute

func (o *Optimizer) acquireLock() (func(), error) {
	if err := os.MkdirAll(o.cacheDir, 0755); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(o.cacheDir, "optimize.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if fi, statErr := os.Stat(lockPath); statErr == nil && time.Since(fi.ModTime()) > staleLockAge {
			os.Remove(lockPath)
			f, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		}
		if err != nil {
			return nil, fmt.Errorf("another optimization is already running: %w", err)
		}
	}
	f.Close()
	return func() { os.Remove(lockPath) }, nil
}

func sha1Hex(data []byte) string {
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

func sanitizeSpecifier(spec string) string {
	return strings.NewReplacer("/", "_", "@", "", ".", "-").Replace(spec)
}

// OptimizedUrl formats the rewritten import URL an optimized dependency
// is served from.
func (e *OptimizerEntry) OptimizedUrl(cacheUrlPrefix string) string {
	return fmt.Sprintf("%s/deps/%s?v=%s", cacheUrlPrefix, e.File, e.BrowserHash)
}
