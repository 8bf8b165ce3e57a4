package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureEntryFromUrlDedupesByCanonicalUrl(t *testing.T) {
	g := NewModuleGraph()
	a := g.EnsureEntryFromUrl("/src/main.js", false)
	b := g.EnsureEntryFromUrl("/src/main.js?t=12345", false)
	assert.Same(t, a, b)
	assert.Len(t, g.Nodes(), 1)
}

func TestEnsureEntryFromUrlPromotesSelfAccepting(t *testing.T) {
	g := NewModuleGraph()
	n := g.EnsureEntryFromUrl("/src/widget.js", false)
	require.False(t, n.IsSelfAccepting)
	n2 := g.EnsureEntryFromUrl("/src/widget.js", true)
	assert.Same(t, n, n2)
	assert.True(t, n.IsSelfAccepting)
}

func TestSetResolvedWiresFileIndex(t *testing.T) {
	g := NewModuleGraph()
	n := g.EnsureEntryFromUrl("/src/a.js", false)
	g.SetResolved(n, "/src/a.js", "/proj/src/a.js", moduleJS)

	byFile := g.GetModulesByFile("/proj/src/a.js")
	require.Len(t, byFile, 1)
	assert.Equal(t, n, byFile[0])
	assert.Equal(t, n, g.GetModuleById("/src/a.js"))
}

func TestSetResolvedMovesFileIndexOnChange(t *testing.T) {
	g := NewModuleGraph()
	n := g.EnsureEntryFromUrl("/src/a.js", false)
	g.SetResolved(n, "/src/a.js", "/proj/src/a.js", moduleJS)
	g.SetResolved(n, "/src/a.js", "/proj/src/a2.js", moduleJS)

	assert.Empty(t, g.GetModulesByFile("/proj/src/a.js"))
	assert.Len(t, g.GetModulesByFile("/proj/src/a2.js"), 1)
}

func TestUpdateModuleInfoWiresImporterEdges(t *testing.T) {
	g := NewModuleGraph()
	main := g.EnsureEntryFromUrl("/src/main.js", false)
	pruned := g.UpdateModuleInfo(main, []string{"/src/util.js"}, nil, nil, false)
	assert.Empty(t, pruned)

	util := g.GetModuleByUrl("/src/util.js")
	require.NotNil(t, util)
	assert.Contains(t, util.importers, main.idx)
	assert.Contains(t, main.importedModules, util.idx)
}

func TestUpdateModuleInfoPrunesDroppedImportsWithNoOtherImporter(t *testing.T) {
	g := NewModuleGraph()
	main := g.EnsureEntryFromUrl("/src/main.js", false)
	g.UpdateModuleInfo(main, []string{"/src/old.js"}, nil, nil, false)
	old := g.GetModuleByUrl("/src/old.js")
	require.NotNil(t, old)

	pruned := g.UpdateModuleInfo(main, []string{"/src/new.js"}, nil, nil, false)
	require.Len(t, pruned, 1)
	assert.Equal(t, old, pruned[0])
	assert.Empty(t, old.importers)
}

func TestUpdateModuleInfoKeepsSharedImportAlive(t *testing.T) {
	g := NewModuleGraph()
	a := g.EnsureEntryFromUrl("/src/a.js", false)
	b := g.EnsureEntryFromUrl("/src/b.js", false)
	g.UpdateModuleInfo(a, []string{"/src/shared.js"}, nil, nil, false)
	g.UpdateModuleInfo(b, []string{"/src/shared.js"}, nil, nil, false)

	pruned := g.UpdateModuleInfo(a, nil, nil, nil, false)
	assert.Empty(t, pruned, "shared.js is still imported by b.js")

	shared := g.GetModuleByUrl("/src/shared.js")
	require.NotNil(t, shared)
	assert.Len(t, shared.importers, 1)
}

func TestTransformResultOfReflectsSetAndInvalidate(t *testing.T) {
	g := NewModuleGraph()
	n := g.EnsureEntryFromUrl("/src/main.js", false)
	assert.Nil(t, g.TransformResultOf(n))

	result := &TransformResult{Code: "export {}"}
	g.SetTransformResult(n, result)
	assert.Same(t, result, g.TransformResultOf(n))

	g.InvalidateModule(n)
	assert.Nil(t, g.TransformResultOf(n), "InvalidateModule must clear the cached result visibly through the locked accessor")
}

func TestInvalidateModuleWalksNonAcceptingImporters(t *testing.T) {
	g := NewModuleGraph()
	leaf := g.EnsureEntryFromUrl("/src/leaf.js", false)
	mid := g.EnsureEntryFromUrl("/src/mid.js", false)
	g.UpdateModuleInfo(mid, []string{"/src/leaf.js"}, nil, nil, false)

	leafResult := &TransformResult{Code: "leaf"}
	midResult := &TransformResult{Code: "mid"}
	leaf.TransformResult = leafResult
	mid.TransformResult = midResult

	g.InvalidateModule(leaf)

	assert.Nil(t, leaf.TransformResult)
	assert.Nil(t, mid.TransformResult, "mid does not accept leaf, so it must be invalidated too")
}

func TestInvalidateModuleStopsAtAcceptingImporter(t *testing.T) {
	g := NewModuleGraph()
	leaf := g.EnsureEntryFromUrl("/src/leaf.js", false)
	mid := g.EnsureEntryFromUrl("/src/mid.js", false)
	g.UpdateModuleInfo(mid, []string{"/src/leaf.js"}, []string{"/src/leaf.js"}, nil, false)

	mid.TransformResult = &TransformResult{Code: "mid"}
	g.InvalidateModule(leaf)

	assert.NotNil(t, mid.TransformResult, "mid accepts leaf as a dependency, so it should not be invalidated")
}

func TestBumpHMRTimestampMonotonic(t *testing.T) {
	g := NewModuleGraph()
	n := g.EnsureEntryFromUrl("/src/a.js", true)
	t1 := g.BumpHMRTimestamp(n)
	t2 := g.BumpHMRTimestamp(n)
	assert.Less(t, t1, t2)
}

func TestNodeAtResolvesArenaIndex(t *testing.T) {
	g := NewModuleGraph()
	n := g.EnsureEntryFromUrl("/src/a.js", false)
	assert.Same(t, n, g.NodeAt(n.idx))
}

func TestRemoveClearsAllIndexes(t *testing.T) {
	g := NewModuleGraph()
	n := g.EnsureEntryFromUrl("/src/a.js", false)
	g.SetResolved(n, "/src/a.js", "/proj/src/a.js", moduleJS)

	g.Remove(n)

	assert.Nil(t, g.GetModuleByUrl("/src/a.js"))
	assert.Nil(t, g.GetModuleById("/src/a.js"))
	assert.Empty(t, g.GetModulesByFile("/proj/src/a.js"))
}
