package server

import (
	"testing"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
)

func TestStripModuleExt(t *testing.T) {
	assert.Equal(t, "react-dom", stripModuleExt("react-dom.mjs"))
	assert.Equal(t, "app", stripModuleExt("app.tsx"))
	assert.Equal(t, "noext", stripModuleExt("noext"))
}

func TestLoaderForExt(t *testing.T) {
	cases := map[string]esbuild.Loader{
		".ts":   esbuild.LoaderTS,
		".tsx":  esbuild.LoaderTSX,
		".jsx":  esbuild.LoaderJSX,
		".json": esbuild.LoaderJSON,
		".css":  esbuild.LoaderCSS,
		".js":   esbuild.LoaderJS,
		"":      esbuild.LoaderJS,
	}
	for ext, want := range cases {
		assert.Equal(t, want, loaderForExt(ext), "ext %q", ext)
	}
}
