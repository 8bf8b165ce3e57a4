package server

import (
	"fmt"
	"sort"
)

// EnforceBand orders a plugin's hooks relative to the others: pre plugins
// run before normal plugins, which run before post plugins; within a
// band, registration order is stable.
type EnforceBand uint8

const (
	EnforceNormal EnforceBand = iota
	EnforcePre
	EnforcePost
)

// ResolvedId is the result of a resolveId hook.
type ResolvedId struct {
	ID       string
	External bool
	Meta     map[string]interface{}
}

// LoadResult is the result of a load hook.
type LoadResult struct {
	Code string
	Map  string
}

// TransformResultHook is the result of a transform hook.
type TransformResultHook struct {
	Code string
	Map  string
	// Hires marks a high-resolution source map that should win over an
	// earlier plugin's map when chaining.
	Hires bool
}

// HotUpdateContext is passed to handleHotUpdate.
type HotUpdateContext struct {
	File     string
	Modules  []*ModuleNode
	Graph    *ModuleGraph
	ReadFile func() (string, error)
}

// Plugin mirrors a rollup-style hook set: resolveId, load, transform,
// handleHotUpdate, configureServer. Every hook is optional; a plugin
// supplies only the ones it implements.
type Plugin struct {
	Name    string
	Enforce EnforceBand

	// Apply restricts when this plugin runs; nil means always.
	Apply func(devMode bool) bool

	ResolveId func(id string, importer string) (*ResolvedId, error)
	Load      func(id string) (*LoadResult, error)
	Transform func(code string, id string) (*TransformResultHook, error)

	// HandleHotUpdate may replace the set of affected modules; returning
	// a non-nil empty slice short-circuits to "no update" for this file
	HandleHotUpdate func(ctx *HotUpdateContext) ([]*ModuleNode, error)

	ConfigureServer func(s *DevServer)
}

// PluginContainer drives the ordered hook chains across all registered
// plugins. It is single-threaded cooperative per request: callers
// serialize hook invocations for one request via the caller's own
// sequencing (the transform pipeline), not the container itself, so that
// independent requests can still run concurrently.
type PluginContainer struct {
	plugins []Plugin
	devMode bool
}

// NewPluginContainer orders plugins into pre/normal/post bands, stable
// within each band.
func NewPluginContainer(plugins []Plugin, devMode bool) *PluginContainer {
	ordered := make([]Plugin, len(plugins))
	copy(ordered, plugins)
	sort.SliceStable(ordered, func(i, j int) bool {
		return bandRank(ordered[i].Enforce) < bandRank(ordered[j].Enforce)
	})
	return &PluginContainer{plugins: ordered, devMode: devMode}
}

func bandRank(b EnforceBand) int {
	switch b {
	case EnforcePre:
		return 0
	case EnforceNormal:
		return 1
	case EnforcePost:
		return 2
	}
	return 1
}

func (c *PluginContainer) active(p Plugin) bool {
	if p.Apply == nil {
		return true
	}
	return p.Apply(c.devMode)
}

// ResolveId consults plugins in order; the first non-nil result wins.
func (c *PluginContainer) ResolveId(id string, importer string) (*ResolvedId, error) {
	for _, p := range c.plugins {
		if p.ResolveId == nil || !c.active(p) {
			continue
		}
		res, err := p.ResolveId(id, importer)
		if err != nil {
			return nil, fmt.Errorf("%s: resolveId(%q): %w", p.Name, id, err)
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// Load consults plugins in order; the first non-nil result wins.
func (c *PluginContainer) Load(id string) (*LoadResult, error) {
	for _, p := range c.plugins {
		if p.Load == nil || !c.active(p) {
			continue
		}
		res, err := p.Load(id)
		if err != nil {
			return nil, fmt.Errorf("%s: load(%q): %w", p.Name, id, err)
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// Transform chains every plugin's transform in order: one plugin's output
// feeds the next's input. A hires map replaces any earlier map; otherwise
// the first map produced is kept. Maps are not merged.
func (c *PluginContainer) Transform(code string, id string) (string, string, error) {
	currentMap := ""
	for _, p := range c.plugins {
		if p.Transform == nil || !c.active(p) {
			continue
		}
		res, err := p.Transform(code, id)
		if err != nil {
			return "", "", fmt.Errorf("%s: transform(%q): %w", p.Name, id, err)
		}
		if res == nil {
			continue
		}
		code = res.Code
		if res.Map != "" {
			if res.Hires || currentMap == "" {
				currentMap = res.Map
			}
		}
	}
	return code, currentMap, nil
}

// HandleHotUpdate runs each plugin's handleHotUpdate in order; later
// plugins see the result of earlier ones.
func (c *PluginContainer) HandleHotUpdate(ctx *HotUpdateContext) ([]*ModuleNode, error) {
	modules := ctx.Modules
	for _, p := range c.plugins {
		if p.HandleHotUpdate == nil || !c.active(p) {
			continue
		}
		ctx.Modules = modules
		next, err := p.HandleHotUpdate(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: handleHotUpdate(%q): %w", p.Name, ctx.File, err)
		}
		if next != nil {
			modules = next
		}
	}
	return modules, nil
}

// ConfigureServer runs every plugin's configureServer hook during the
// configResolved -> configureServer -> listen boot sequence.
func (c *PluginContainer) ConfigureServer(s *DevServer) {
	for _, p := range c.plugins {
		if p.ConfigureServer != nil {
			p.ConfigureServer(s)
		}
	}
}
