package server

import (
	"errors"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

var jsExts = []string{".js", ".mjs", ".jsx", ".ts", ".mts", ".tsx", ".cjs", ".cts"}

// stripModuleExt strips a known module extension from s.
func stripModuleExt(s string, exts ...string) string {
	if len(exts) == 0 {
		exts = jsExts
	}
	for _, ext := range exts {
		if endsWith(s, ext) {
			return s[:len(s)-len(ext)]
		}
	}
	return s
}

// minify runs esbuild's standalone minifier, used for the embedded client
// runtime (served by router.go) and for interop-wrapper output.
func minify(code string, target esbuild.Target, loader esbuild.Loader) ([]byte, error) {
	ret := esbuild.Transform(code, esbuild.TransformOptions{
		Target:            target,
		Format:            esbuild.FormatESModule,
		Platform:          esbuild.PlatformBrowser,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LegalComments:     esbuild.LegalCommentsNone,
		Loader:            loader,
	})
	if len(ret.Errors) > 0 {
		return nil, errors.New(ret.Errors[0].Text)
	}
	return ret.Code, nil
}

// loaderForExt maps a file extension to the esbuild loader used by the
// built-in esbuild transform plugin.
func loaderForExt(ext string) esbuild.Loader {
	switch ext {
	case ".ts", ".mts", ".cts":
		return esbuild.LoaderTS
	case ".tsx":
		return esbuild.LoaderTSX
	case ".jsx":
		return esbuild.LoaderJSX
	case ".json":
		return esbuild.LoaderJSON
	case ".css":
		return esbuild.LoaderCSS
	default:
		return esbuild.LoaderJS
	}
}
