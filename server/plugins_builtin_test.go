package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagStylesheetLinksAddsDataAttribute(t *testing.T) {
	html := `<head><link rel="stylesheet" href="/src/app.css"></head>`
	out := tagStylesheetLinks(html)
	assert.Contains(t, out, `data-devkit-href="/src/app.css"`)
	assert.Contains(t, out, `href="/src/app.css"`)
}

func TestTagStylesheetLinksIgnoresNonStylesheetLinks(t *testing.T) {
	html := `<link rel="icon" href="/favicon.ico">`
	out := tagStylesheetLinks(html)
	assert.Equal(t, html, out)
}

func TestTagStylesheetLinksIsIdempotent(t *testing.T) {
	html := `<link rel="stylesheet" href="/src/app.css">`
	once := tagStylesheetLinks(html)
	twice := tagStylesheetLinks(once)
	assert.Equal(t, once, twice)
}

func TestTagStylesheetLinksHandlesMultipleTags(t *testing.T) {
	html := `<link rel="stylesheet" href="/a.css"><link rel="stylesheet" href="/b.css">`
	out := tagStylesheetLinks(html)
	assert.Contains(t, out, `data-devkit-href="/a.css"`)
	assert.Contains(t, out, `data-devkit-href="/b.css"`)
}

func TestExtOf(t *testing.T) {
	assert.Equal(t, ".tsx", extOf("/src/App.tsx"))
	assert.Equal(t, ".css", extOf("/src/styles.css"))
	assert.Equal(t, "", extOf("/src/Makefile"))
}

func TestBuiltinResolvePluginAllowsFsUrlUnderDefaultRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	base := Config{Root: dir}
	cfg := base.withDefaults()
	plugin := builtinResolvePlugin(cfg)

	abs, err := filepath.Abs(filepath.Join(dir, "a.js"))
	require.NoError(t, err)

	res, err := plugin.ResolveId("/@fs"+abs, "")
	require.NoError(t, err, "a file under the project root must resolve even though AllowedRoots defaults to a relative Root")
	require.NotNil(t, res)
}

func TestBuiltinResolvePluginRejectsFsUrlOutsideRoots(t *testing.T) {
	dir := t.TempDir()
	base := Config{Root: filepath.Join(dir, "project")}
	cfg := base.withDefaults()
	plugin := builtinResolvePlugin(cfg)

	res, err := plugin.ResolveId("/@fs"+filepath.Join(dir, "secret.js"), "")
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestBuiltinPluginsOrdering(t *testing.T) {
	cfg := Config{}
	plugins := BuiltinPlugins(cfg, nil)
	assert.Equal(t, "devkit:optimize-deps", plugins[0].Name)
	assert.Equal(t, EnforcePre, plugins[0].Enforce)
	assert.Equal(t, "devkit:html-inject-client", plugins[len(plugins)-1].Name)
	assert.Equal(t, EnforcePost, plugins[len(plugins)-1].Enforce)
}
