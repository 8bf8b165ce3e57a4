package server

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// pendingTransform lets concurrent requests for the same URL share one
// underlying transform instead of racing duplicate work.
type pendingTransform struct {
	done   chan struct{}
	result *TransformResult
	err    error
}

// TransformPipeline turns a request URL into served code, memoizing the
// result on the owning ModuleNode and deduping concurrent identical
// requests.
type TransformPipeline struct {
	graph     *ModuleGraph
	container *PluginContainer
	optimizer *Optimizer
	channel   *Channel
	cfg       Config

	mu      sync.Mutex
	pending map[string]*pendingTransform
}

func NewTransformPipeline(graph *ModuleGraph, container *PluginContainer, optimizer *Optimizer, channel *Channel, cfg Config) *TransformPipeline {
	return &TransformPipeline{
		graph:     graph,
		container: container,
		optimizer: optimizer,
		channel:   channel,
		cfg:       cfg,
		pending:   map[string]*pendingTransform{},
	}
}

// sendPrune mirrors a set of importer-edge prunes onto the HMR channel,
// so the client runtime can run any prune() callback the dropped module
// registered (e.g. removing an injected <style> tag) before it forgets
// about the module entirely.
func (p *TransformPipeline) sendPrune(pruned []*ModuleNode) {
	if len(pruned) == 0 || p.channel == nil {
		return
	}
	paths := make([]string, len(pruned))
	for i, n := range pruned {
		paths[i] = n.URL
	}
	p.channel.SendPrune(paths)
}

// TransformRequest resolves url through the plugin container, loads and
// transforms its source, runs import analysis, and returns the result
// the HTTP handler should serve. It is memoized on the ModuleNode: a
// second request for the same url before the first completes blocks on
// the first's result rather than re-running the pipeline.
func (p *TransformPipeline) TransformRequest(url string) (*TransformResult, error) {
	canon := canonicalizeUrl(url)

	p.mu.Lock()
	if pt, ok := p.pending[canon]; ok {
		p.mu.Unlock()
		<-pt.done
		return pt.result, pt.err
	}
	pt := &pendingTransform{done: make(chan struct{})}
	p.pending[canon] = pt
	p.mu.Unlock()

	pt.result, pt.err = p.run(canon)
	close(pt.done)

	p.mu.Lock()
	delete(p.pending, canon)
	p.mu.Unlock()

	return pt.result, pt.err
}

func (p *TransformPipeline) run(url string) (*TransformResult, error) {
	node := p.graph.GetModuleByUrl(url)
	if node != nil {
		if cached := p.graph.TransformResultOf(node); cached != nil {
			return cached, nil
		}
	}

	id, file, typ, err := p.resolve(url)
	if err != nil {
		return nil, newResolveError(url, err)
	}

	if node == nil {
		node = p.graph.EnsureEntryFromUrl(url, false)
	}
	p.graph.SetResolved(node, id, file, typ)

	code, err := p.load(id, file)
	if err != nil {
		return nil, newTransformError(url, err)
	}

	code, sourceMap, err := p.container.Transform(code, id)
	if err != nil {
		return nil, newTransformError(url, err)
	}

	var deps []string
	if typ == moduleJS {
		code, deps, err = p.analyzeAndRewriteImports(node, file, code)
		if err != nil {
			return nil, newTransformError(url, err)
		}
	} else {
		code = p.rewriteCssUrls(file, code)
		// a CSS module is always its own HMR boundary: a link-tag swap or a
		// style-injection re-run never needs to walk further up the graph.
		pruned := p.graph.UpdateModuleInfo(node, nil, nil, nil, true)
		p.sendPrune(pruned)
	}

	result := &TransformResult{Code: code, Map: sourceMap, Deps: deps}
	p.graph.SetTransformResult(node, result)
	return result, nil
}

// allowedRootsAbs resolves cfg.AllowedRoots to absolute paths, the same
// containment check the "/@fs/" resolver applies, so an ordinary
// project-relative request can't walk a "../" chain out of the root.
func (p *TransformPipeline) allowedRootsAbs() []string {
	roots := p.cfg.AllowedRoots
	if len(roots) == 0 {
		roots = []string{p.cfg.Root}
	}
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if ar, err := filepath.Abs(r); err == nil {
			out = append(out, ar)
		}
	}
	return out
}

// resolve runs the plugin container's resolveId hook, falling back to
// the built-in file-system/bare-specifier resolution the core plugins
// (server/plugins_builtin.go) register.
func (p *TransformPipeline) resolve(url string) (id string, file string, typ moduleType, err error) {
	pathname, _ := cleanUrl(url)
	res, rerr := p.container.ResolveId(pathname, "")
	if rerr != nil {
		return "", "", 0, rerr
	}
	if res != nil {
		id = res.ID
	} else {
		id = pathname
	}

	switch {
	case isVirtualId(id):
		file = ""
	case isFsUrl(id):
		file = fsUrlToPath(id)
	default:
		file = path.Join(p.cfg.Root, strings.TrimPrefix(id, "/"))
		if abs, aerr := filepath.Abs(file); aerr == nil && !isWithinRoots(abs, p.allowedRootsAbs()) {
			return "", "", 0, fmt.Errorf("%s resolves outside the allowed workspace roots", id)
		}
	}

	if strings.HasSuffix(pathname, ".css") {
		typ = moduleCSS
	} else {
		typ = moduleJS
	}
	return id, file, typ, nil
}

func (p *TransformPipeline) load(id string, file string) (string, error) {
	res, err := p.container.Load(id)
	if err != nil {
		return "", err
	}
	if res != nil {
		return res.Code, nil
	}
	if file == "" {
		return "", fmt.Errorf("no loader produced content for virtual id %q", id)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// analyzeAndRewriteImports parses code for import/export specifiers and
// import.meta.hot bookkeeping, resolves every specifier to a request URL
// the browser can fetch, rewrites them in place, and updates the graph's
// importer/importee edges and HMR acceptance state.
func (p *TransformPipeline) analyzeAndRewriteImports(node *ModuleNode, file string, code string) (string, []string, error) {
	imports, hot, err := parseImports(file, code)
	if err != nil {
		return "", nil, err
	}

	var importedUrls []string
	rewritten := rewriteImports(code, imports, func(imp rawImport) string {
		resolvedUrl, isDep := p.resolveImportUrl(node, imp.Specifier)
		if isDep {
			importedUrls = append(importedUrls, resolvedUrl)
		}
		return strconv.Quote(resolvedUrl)
	})

	acceptedUrls := make([]string, 0, len(hot.AcceptedDeps))
	for _, spec := range hot.AcceptedDeps {
		u, _ := p.resolveImportUrl(node, spec)
		acceptedUrls = append(acceptedUrls, u)
	}

	pruned := p.graph.UpdateModuleInfo(node, importedUrls, acceptedUrls, hot.AcceptedExports, hot.IsSelfAccepting)
	p.sendPrune(pruned)

	if strings.Contains(code, "import.meta.hot") {
		rewritten = "import.meta.hot = __devkit_createHotContext(" + strconv.Quote(node.URL) + ");\n" + rewritten
	}
	return rewritten, importedUrls, nil
}

// resolveImportUrl turns a raw import specifier into a browser-fetchable
// URL. isDep reports whether the specifier is a real module edge (versus
// e.g. a bare specifier the optimizer hasn't pre-bundled yet, which is
// still rewritten but does not yet participate in invalidation).
func (p *TransformPipeline) resolveImportUrl(importer *ModuleNode, specifier string) (string, bool) {
	switch {
	case isRelativeSpecifier(specifier):
		abs := path.Join(path.Dir(importer.URL), specifier)
		return abs, true
	case isBareSpecifier(specifier):
		if p.optimizer == nil {
			return specifier, false
		}
		entry, ok := p.optimizer.Resolve(specifier)
		if !ok {
			// not yet pre-bundled: serve the un-optimized specifier as-is,
			// the pending discovery will trigger a full reload once ready.
			return specifier, false
		}
		return entry.OptimizedUrl(p.cfg.BasePath + "/@devkit/cache"), true
	default:
		return specifier, true
	}
}

func (p *TransformPipeline) rewriteCssUrls(file string, code string) string {
	_ = file
	return code
}
