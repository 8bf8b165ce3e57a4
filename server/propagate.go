package server

// UpdateKind distinguishes the two per-module hot update payloads the
// client runtime understands.
type UpdateKind string

const (
	UpdateJS  UpdateKind = "js-update"
	UpdateCSS UpdateKind = "css-update"
)

// HmrUpdate is one entry of an "update" wire message.
type HmrUpdate struct {
	Kind         UpdateKind
	Path         string
	AcceptedPath string
	Timestamp    int64
}

// PropagationResult is the outcome of walking a changed file's affected
// modules up through the graph to find HMR boundaries.
type PropagationResult struct {
	Updates    []HmrUpdate
	FullReload bool
	// ReloadPath scopes a full reload to the page that imported the
	// invalidated entry; empty means reload whatever page is open.
	ReloadPath string
}

// Propagate walks every module backed by the changed file and determines
// whether the change can be handled by dispatching targeted updates to
// self-accepting boundaries, or whether it must fall back to a full page
// reload. A file with no modules in the graph yet (never requested) needs
// no propagation at all.
func Propagate(graph *ModuleGraph, file string) PropagationResult {
	nodes := graph.GetModulesByFile(file)
	if len(nodes) == 0 {
		return PropagationResult{}
	}

	// a changed file's cached output is stale regardless of whether a
	// boundary is found for it, so every node backed by it is invalidated
	// up front rather than only on the targeted-update path.
	for _, n := range nodes {
		graph.InvalidateModule(n)
	}

	var updates []HmrUpdate
	for _, n := range nodes {
		boundaries, ok := findBoundaries(graph, n, map[nodeIndex]struct{}{})
		if !ok {
			return PropagationResult{FullReload: true, ReloadPath: firstHtmlEntry(graph, n)}
		}
		ts := graph.BumpHMRTimestamp(n)
		for _, b := range boundaries {
			kind := UpdateJS
			if b.boundary.Type == moduleCSS {
				kind = UpdateCSS
			}
			updates = append(updates, HmrUpdate{
				Kind:         kind,
				Path:         b.boundary.URL,
				AcceptedPath: b.via.URL,
				Timestamp:    ts,
			})
		}
	}
	return PropagationResult{Updates: dedupUpdates(updates)}
}

type boundaryHit struct {
	boundary *ModuleNode // the module whose accept callback runs
	via      *ModuleNode // the module that changed, as seen from boundary's perspective
}

// findBoundaries walks importers upward from n. A module that
// self-accepts is a boundary for itself. A module that explicitly
// accepts n as a dependency is a boundary for n. A module with no
// importers at all (an entry point with no HMR declaration) means the
// walk failed to find a boundary and the caller must fall back to a full
// reload.
func findBoundaries(graph *ModuleGraph, n *ModuleNode, seen map[nodeIndex]struct{}) ([]boundaryHit, bool) {
	if _, ok := seen[n.idx]; ok {
		return nil, true
	}
	seen[n.idx] = struct{}{}

	if n.IsSelfAccepting {
		return []boundaryHit{{boundary: n, via: n}}, true
	}

	if len(n.importers) == 0 {
		return nil, false
	}

	var hits []boundaryHit
	for idx := range n.importers {
		importer := graph.NodeAt(idx)
		if _, ok := importer.AcceptedHmrDeps[n.idx]; ok {
			hits = append(hits, boundaryHit{boundary: importer, via: n})
			continue
		}
		sub, ok := findBoundaries(graph, importer, seen)
		if !ok {
			return nil, false
		}
		hits = append(hits, sub...)
	}
	if len(hits) == 0 {
		return nil, false
	}
	return hits, true
}

func dedupUpdates(updates []HmrUpdate) []HmrUpdate {
	seen := map[string]struct{}{}
	out := make([]HmrUpdate, 0, len(updates))
	for _, u := range updates {
		key := string(u.Kind) + "|" + u.Path + "|" + u.AcceptedPath
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}

// firstHtmlEntry finds an importer chain back to something that looks
// like a page entry, so a full reload can at least be scoped to the
// path the browser should navigate to. Returns "" (reload current
// location) when no entry html module is found.
func firstHtmlEntry(graph *ModuleGraph, n *ModuleNode) string {
	seen := map[nodeIndex]struct{}{}
	var walk func(*ModuleNode) string
	walk = func(m *ModuleNode) string {
		if _, ok := seen[m.idx]; ok {
			return ""
		}
		seen[m.idx] = struct{}{}
		if endsWith(m.URL, ".html") {
			return m.URL
		}
		for _, imp := range m.Importers(graph) {
			if p := walk(imp); p != "" {
				return p
			}
		}
		return ""
	}
	return walk(n)
}
