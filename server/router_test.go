package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"/src/app.css":  "text/css; charset=utf-8",
		"/pkg.json":     "application/json; charset=utf-8",
		"/index.html":   "text/html; charset=utf-8",
		"/src/app.js":   "application/javascript; charset=utf-8",
		"/src/app.tsx":  "application/javascript; charset=utf-8",
		"/no-extension": "application/javascript; charset=utf-8",
	}
	for path, want := range cases {
		assert.Equal(t, want, contentTypeFor(path), path)
	}
}

func TestIsModuleLikePath(t *testing.T) {
	assert.True(t, isModuleLikePath("/src/app.tsx"))
	assert.True(t, isModuleLikePath("/src/app.css"))
	assert.True(t, isModuleLikePath("/index.html"))
	assert.False(t, isModuleLikePath("/logo.png"))
	assert.False(t, isModuleLikePath("/fonts/a.woff2"))
}

func TestReadStaticAssetServesFileUnderDefaultRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte("binary"), 0644))

	base := Config{Root: dir}
	cfg := base.withDefaults()
	s := &DevServer{Config: cfg}

	data, modTime, ok := s.readStaticAsset("/logo.png")
	require.True(t, ok, "a file under the project root must be served even though AllowedRoots defaults to a relative Root")
	assert.Equal(t, []byte("binary"), data)
	assert.False(t, modTime.IsZero())
}

func TestReadStaticAssetRejectsPathEscapingRoot(t *testing.T) {
	dir := t.TempDir()
	base := Config{Root: filepath.Join(dir, "project")}
	cfg := base.withDefaults()
	require.NoError(t, os.MkdirAll(cfg.Root, 0755))
	outside := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0644))

	s := &DevServer{Config: cfg}
	_, _, ok := s.readStaticAsset("/../secret.txt")
	assert.False(t, ok)
}

func TestReadStaticAssetRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "assets"), 0755))
	base := Config{Root: dir}
	cfg := base.withDefaults()
	s := &DevServer{Config: cfg}

	_, _, ok := s.readStaticAsset("/assets")
	assert.False(t, ok)
}
