package server

import (
	"strings"
	"sync"
)

// moduleType is the ModuleNode.type attribute.
type moduleType uint8

const (
	moduleJS moduleType = iota
	moduleCSS
)

// TransformResult is the cached output of the transform pipeline for one
// ModuleNode.
type TransformResult struct {
	Code string
	Map  string
	Deps []string
}

// nodeIndex is a stable arena index. The
// graph holds nodes in a flat slice and lets importer/importee sets hold
// indices rather than direct *ModuleNode references, which sidesteps the
// cyclic-ownership problem a naive pointer graph would have.
type nodeIndex int

const invalidIndex nodeIndex = -1

// ModuleNode is one per distinct URL the server has observed.
type ModuleNode struct {
	idx nodeIndex

	URL  string
	ID   string
	File string // empty for virtual modules
	Type moduleType

	importers       map[nodeIndex]struct{}
	importedModules map[nodeIndex]struct{}

	AcceptedHmrDeps    map[nodeIndex]struct{}
	AcceptedHmrExports []string // nil means "all exports"
	IsSelfAccepting    bool

	TransformResult *TransformResult

	LastHMRTimestamp          int64
	LastInvalidationTimestamp int64
}

// Importers returns the current importer set as a stable-ordered slice.
func (n *ModuleNode) Importers(g *ModuleGraph) []*ModuleNode {
	return g.resolveSet(n.importers)
}

// ImportedModules returns the current importee set as a stable-ordered slice.
func (n *ModuleNode) ImportedModules(g *ModuleGraph) []*ModuleNode {
	return g.resolveSet(n.importedModules)
}

// IsVirtual reports whether this node has no backing file and a virtual
// ("\0"-prefixed) id.
func (n *ModuleNode) IsVirtual() bool {
	return n.File == "" && isVirtualId(n.ID)
}

// ModuleGraph is the in-memory DAG of known modules.
type ModuleGraph struct {
	mu sync.RWMutex

	nodes []*ModuleNode // arena; index == nodeIndex

	byUrl  map[string]nodeIndex
	byId   map[string]nodeIndex
	byFile map[string][]nodeIndex // one file may back multiple query-variant nodes

	// seq is the monotonic counter backing lastHMRTimestamp /
	// lastInvalidationTimestamp: each timestamp it hands out strictly
	// exceeds every earlier one.
	seq int64
}

// NewModuleGraph creates an empty module graph.
func NewModuleGraph() *ModuleGraph {
	return &ModuleGraph{
		byUrl:  map[string]nodeIndex{},
		byId:   map[string]nodeIndex{},
		byFile: map[string][]nodeIndex{},
	}
}

func (g *ModuleGraph) nextTimestamp() int64 {
	g.seq++
	return g.seq
}

// canonicalizeUrl strips a bare "?t=" timestamp or "?v=" hash query
// before index lookup; any other query is kept. The public base path is
// not stripped here.
func canonicalizeUrl(url string) string {
	pathname, suffix := cleanUrl(url)
	if suffix == "" {
		return pathname
	}
	// drop a bare "t=<timestamp>" or "v=<hash>" cache-busting query,
	// keep any other query the plugin pipeline cares about (e.g. ?raw)
	if strings.HasPrefix(suffix, "?t=") || strings.HasPrefix(suffix, "?v=") {
		return pathname
	}
	return pathname + suffix
}

// GetModuleByUrl looks up a node by URL.
func (g *ModuleGraph) GetModuleByUrl(url string) *ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.byUrl[canonicalizeUrl(url)]
	if !ok {
		return nil
	}
	return g.nodes[idx]
}

// GetModuleById looks up a node by resolved id.
func (g *ModuleGraph) GetModuleById(id string) *ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.byId[id]
	if !ok {
		return nil
	}
	return g.nodes[idx]
}

// GetModulesByFile returns every node backed by file (query variants
// included), used by onFileChange.
func (g *ModuleGraph) GetModulesByFile(file string) []*ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idxs := g.byFile[file]
	out := make([]*ModuleNode, len(idxs))
	for i, idx := range idxs {
		out[i] = g.nodes[idx]
	}
	return out
}

// Nodes returns every node currently held by the graph, for diagnostics
// and testing.
func (g *ModuleGraph) Nodes() []*ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*ModuleNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// EnsureEntryFromUrl creates a node on miss and wires it into the url
// index. id and file are resolved lazily by the caller
// (normally the plugin container's resolveId hook) via SetResolved.
func (g *ModuleGraph) EnsureEntryFromUrl(url string, setIsSelfAccepting bool) *ModuleNode {
	canon := canonicalizeUrl(url)
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx, ok := g.byUrl[canon]; ok {
		n := g.nodes[idx]
		if setIsSelfAccepting {
			n.IsSelfAccepting = true
		}
		return n
	}
	n := &ModuleNode{
		URL:             canon,
		importers:       map[nodeIndex]struct{}{},
		importedModules: map[nodeIndex]struct{}{},
		AcceptedHmrDeps: map[nodeIndex]struct{}{},
		IsSelfAccepting: setIsSelfAccepting,
	}
	idx := nodeIndex(len(g.nodes))
	n.idx = idx
	g.nodes = append(g.nodes, n)
	g.byUrl[canon] = idx
	return n
}

// SetResolved records a node's resolved id/file/type once the plugin
// container's resolveId hook has run, wiring the id and file indexes.
func (g *ModuleGraph) SetResolved(n *ModuleNode, id string, file string, typ moduleType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n.ID != "" && n.ID != id {
		delete(g.byId, n.ID)
	}
	if n.File != "" && n.File != file {
		g.removeFromFileIndexLocked(n.idx, n.File)
	}
	n.ID = id
	n.File = file
	n.Type = typ
	if id != "" {
		g.byId[id] = n.idx
	}
	if file != "" {
		g.byFile[file] = appendUnique(g.byFile[file], n.idx)
	}
}

func (g *ModuleGraph) removeFromFileIndexLocked(idx nodeIndex, file string) {
	idxs := g.byFile[file]
	for i, v := range idxs {
		if v == idx {
			g.byFile[file] = append(idxs[:i], idxs[i+1:]...)
			break
		}
	}
	if len(g.byFile[file]) == 0 {
		delete(g.byFile, file)
	}
}

func appendUnique(s []nodeIndex, v nodeIndex) []nodeIndex {
	for _, e := range s {
		if e == v {
			return s
		}
	}
	return append(s, v)
}

func (g *ModuleGraph) resolveSet(s map[nodeIndex]struct{}) []*ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*ModuleNode, 0, len(s))
	for idx := range s {
		out = append(out, g.nodes[idx])
	}
	return out
}

// UpdateModuleInfo diffs importer edges after a transform/import-analysis
// pass and returns the list of modules that became unreachable as a
// result. It keeps the importer/importee edges mutual: a change to one
// node's importedModules set is mirrored in the importee's importers set.
func (g *ModuleGraph) UpdateModuleInfo(
	n *ModuleNode,
	importedUrls []string,
	acceptedUrls []string,
	acceptedExports []string,
	isSelfAccepting bool,
) (pruned []*ModuleNode) {
	g.mu.Lock()

	prevImported := make(map[nodeIndex]struct{}, len(n.importedModules))
	for idx := range n.importedModules {
		prevImported[idx] = struct{}{}
	}

	nextImported := map[nodeIndex]struct{}{}
	g.mu.Unlock()

	// resolve/create importee nodes outside the lock (EnsureEntryFromUrl
	// takes the lock itself)
	for _, u := range importedUrls {
		imp := g.EnsureEntryFromUrl(u, false)
		nextImported[imp.idx] = struct{}{}
	}

	acceptedIdx := map[nodeIndex]struct{}{}
	for _, u := range acceptedUrls {
		imp := g.EnsureEntryFromUrl(u, false)
		acceptedIdx[imp.idx] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// remove stale edges
	for idx := range prevImported {
		if _, ok := nextImported[idx]; !ok {
			delete(n.importedModules, idx)
			delete(g.nodes[idx].importers, n.idx)
		}
	}
	// add new edges
	for idx := range nextImported {
		n.importedModules[idx] = struct{}{}
		g.nodes[idx].importers[n.idx] = struct{}{}
	}

	n.AcceptedHmrDeps = acceptedIdx
	n.AcceptedHmrExports = acceptedExports
	n.IsSelfAccepting = isSelfAccepting

	// any module that lost its last importer and isn't itself an entry
	// (it has no importers left) is no longer reachable.
	var prunedIdx []nodeIndex
	for idx := range prevImported {
		if _, stillImported := nextImported[idx]; stillImported {
			continue
		}
		node := g.nodes[idx]
		if len(node.importers) == 0 {
			prunedIdx = append(prunedIdx, idx)
		}
	}
	for _, idx := range prunedIdx {
		pruned = append(pruned, g.nodes[idx])
	}
	return
}

// TransformResultOf returns the cached transform output for n, if any.
// Callers must go through this instead of reading n.TransformResult
// directly: invalidate() clears the field under g.mu from a different
// goroutine (the watcher) than the one running the transform pipeline.
func (g *ModuleGraph) TransformResultOf(n *ModuleNode) *TransformResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return n.TransformResult
}

// SetTransformResult stores the transform pipeline's output for n.
func (g *ModuleGraph) SetTransformResult(n *ModuleNode, result *TransformResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n.TransformResult = result
}

// InvalidateModule sets timestamps, clears transformResult, and
// recursively invalidates every importer that does not accept this
// dependency.
func (g *ModuleGraph) InvalidateModule(n *ModuleNode) {
	g.mu.Lock()
	ts := g.nextTimestamp()
	g.mu.Unlock()
	g.invalidate(n, ts, map[nodeIndex]struct{}{})
}

func (g *ModuleGraph) invalidate(n *ModuleNode, ts int64, seen map[nodeIndex]struct{}) {
	g.mu.Lock()
	if _, ok := seen[n.idx]; ok {
		g.mu.Unlock()
		return
	}
	seen[n.idx] = struct{}{}
	n.LastInvalidationTimestamp = ts
	n.TransformResult = nil
	importers := make([]*ModuleNode, 0, len(n.importers))
	for idx := range n.importers {
		importers = append(importers, g.nodes[idx])
	}
	g.mu.Unlock()

	for _, importer := range importers {
		accepts := importer.IsSelfAccepting || acceptsDep(importer, n)
		if !accepts {
			g.invalidate(importer, ts, seen)
		}
	}
}

func acceptsDep(importer, dep *ModuleNode) bool {
	_, ok := importer.AcceptedHmrDeps[dep.idx]
	return ok
}

// OnFileChange looks up every node backed by file, invalidates each one,
// and returns them; their transform results are recomputed on the next
// request.
func (g *ModuleGraph) OnFileChange(file string) []*ModuleNode {
	nodes := g.GetModulesByFile(file)
	for _, n := range nodes {
		g.InvalidateModule(n)
	}
	return nodes
}

// BumpHMRTimestamp advances a node's lastHMRTimestamp without clearing
// its transformResult.
func (g *ModuleGraph) BumpHMRTimestamp(n *ModuleNode) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts := g.nextTimestamp()
	n.LastHMRTimestamp = ts
	return ts
}

// NodeAt resolves an arena index back to its node. Only used within the
// package by the HMR boundary walk, which otherwise only has indices to
// work with when crossing an importer edge.
func (g *ModuleGraph) NodeAt(idx nodeIndex) *ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[idx]
}

// Remove deletes a node from all indexes (only on
// full graph discard or a prune message).
func (g *ModuleGraph) Remove(n *ModuleNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byUrl, n.URL)
	if n.ID != "" {
		delete(g.byId, n.ID)
	}
	if n.File != "" {
		g.removeFromFileIndexLocked(n.idx, n.File)
	}
	for idx := range n.importedModules {
		delete(g.nodes[idx].importers, n.idx)
	}
	for idx := range n.importers {
		delete(g.nodes[idx].importedModules, n.idx)
	}
}
