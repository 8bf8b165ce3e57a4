package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSpecifier(t *testing.T) {
	assert.Equal(t, "react-dom_client", sanitizeSpecifier("react-dom/client"))
	assert.Equal(t, "scope_react-dialog", sanitizeSpecifier("@scope/react.dialog"))
}

func TestOptimizerEntryOptimizedUrl(t *testing.T) {
	e := &OptimizerEntry{File: "react-a1b2c3d4.js", BrowserHash: "deadbeef"}
	assert.Equal(t, "/@devkit/cache/deps/react-a1b2c3d4.js?v=deadbeef", e.OptimizedUrl("/@devkit/cache"))
}

func TestOptimizerAcquireLockRejectsConcurrentHolder(t *testing.T) {
	cacheDir := t.TempDir()
	o := NewOptimizer(".", cacheDir, OptimizeConfig{}, nil, nil, nil)

	unlock, err := o.acquireLock()
	require.NoError(t, err)
	defer unlock()

	_, err = o.acquireLock()
	assert.Error(t, err, "a second acquireLock while the first holder is still active must fail")
}

func TestOptimizerAcquireLockReclaimsStaleLock(t *testing.T) {
	cacheDir := t.TempDir()
	o := NewOptimizer(".", cacheDir, OptimizeConfig{}, nil, nil, nil)

	lockPath := filepath.Join(cacheDir, "optimize.lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0644))
	stale := time.Now().Add(-staleLockAge - time.Second)
	require.NoError(t, os.Chtimes(lockPath, stale, stale))

	unlock, err := o.acquireLock()
	require.NoError(t, err, "a lock file older than staleLockAge must be reclaimed rather than blocking forever")
	unlock()
}

func TestOptimizerExcludedMatchesGlob(t *testing.T) {
	o := NewOptimizer(".", ".", OptimizeConfig{Exclude: []string{"@internal/*"}}, nil, nil, nil)
	assert.True(t, o.excluded("@internal/testing"))
	assert.False(t, o.excluded("react"))
}

func TestOptimizerScanFindsBareSpecifiers(t *testing.T) {
	root := t.TempDir()
	entry := filepath.Join(root, "main.tsx")
	require.NoError(t, os.WriteFile(entry, []byte(`
		import React from "react";
		import { render } from "react-dom/client";
		import "./local.css";
		const mod = require("lodash");
	`), 0644))

	o := NewOptimizer(root, root, OptimizeConfig{Include: []string{"extra-pkg"}}, nil, nil, nil)
	specs, err := o.Scan([]string{entry})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"react", "react-dom", "lodash", "extra-pkg"}, specs)
}

func TestOptimizerScanRespectsExclude(t *testing.T) {
	root := t.TempDir()
	entry := filepath.Join(root, "main.ts")
	require.NoError(t, os.WriteFile(entry, []byte(`import "@internal/tracing";`), 0644))

	o := NewOptimizer(root, root, OptimizeConfig{Exclude: []string{"@internal/*"}}, nil, nil, nil)
	specs, err := o.Scan([]string{entry})
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestResolveSkipsExcludedSpecifierWithoutSchedulingDiscovery(t *testing.T) {
	o := NewOptimizer(".", ".", OptimizeConfig{Exclude: []string{"@internal/*"}}, nil, nil, func(string) {
		t.Fatal("an excluded specifier must never trigger a re-optimization")
	})

	entry, ok := o.Resolve("@internal/tracing")
	assert.False(t, ok)
	assert.Nil(t, entry)

	o.discoverMu.Lock()
	_, discovered := o.discovered["@internal/tracing"]
	o.discoverMu.Unlock()
	assert.False(t, discovered, "excluded specifiers must not enter the discovery set")
}

func TestMapOutputsToEntriesMatchesByBasename(t *testing.T) {
	entries := []string{"/node_modules/react/index.js"}
	outputs := []esbuild.OutputFile{
		{Path: "/optimized/index.js", Contents: []byte("bundled react")},
		{Path: "/optimized/chunk-ABC123.js", Contents: []byte("shared chunk")},
	}
	out, err := mapOutputsToEntries(entries, outputs)
	require.NoError(t, err)
	assert.Equal(t, []byte("bundled react"), out[entries[0]])
	assert.Len(t, out, 1)
}

func TestMapOutputsToEntriesErrorsOnMissingOutput(t *testing.T) {
	entries := []string{"/node_modules/react/index.js"}
	_, err := mapOutputsToEntries(entries, nil)
	assert.Error(t, err)
}
