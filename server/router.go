package server

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/ije/rex"
)

// router builds the HTTP handler chain, in this order: base-path
// stripping, the HMR websocket upgrade, the client runtime, the dep
// cache's static handler, public assets for non-module requests, the
// transform pipeline, and an index.html fallback.
func router(s *DevServer) rex.Handle {
	startTime := time.Now()

	return func(ctx *rex.Context) interface{} {
		pathname := ctx.Path.String()

		stripped, ok := stripBase(pathname, s.Config.BasePath)
		if !ok {
			return rex.Status(404, "not found")
		}
		pathname = stripped

		switch {
		case pathname == "/@devkit/hmr":
			if s.Config.HMRDisabled {
				return rex.Status(404, "not found")
			}
			if err := s.Channel.Upgrade(ctx.W, ctx.R); err != nil {
				log.Warnf("hmr upgrade: %v", err)
				return rex.Status(400, "websocket upgrade failed")
			}
			return nil

		case pathname == "/@devkit/client":
			data, err := s.embed.ReadFile("client.js")
			if err != nil {
				return rex.Status(500, err.Error())
			}
			if min, err := minify(string(data), esbuild.ESNext, esbuild.LoaderJS); err == nil {
				data = min
			}
			ctx.W.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			return rex.Content("client.js", startTime, bytes.NewReader(data))

		case strings.HasPrefix(pathname, "/@devkit/cache/"):
			name := strings.TrimPrefix(pathname, "/@devkit/cache/")
			rc, err := s.fs.ReadFile(name)
			if err != nil {
				return rex.Status(404, "not found")
			}
			ctx.W.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			ctx.W.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			return rex.Content(name, startTime, rc) // auto closed
		}

		if ctx.R.Method != http.MethodGet && ctx.R.Method != http.MethodHead {
			return rex.Status(405, "method not allowed")
		}

		// directory-index symmetry: "/" and any "<dir>/" request serves
		// that directory's index.html, at every tree depth.
		if strings.HasSuffix(pathname, "/") {
			pathname += "index.html"
		}

		moduleLike := isModuleLikePath(pathname) || ctx.R.URL.Query().Has("import")

		// public-assets static handler: a file that isn't one of the
		// pipeline's module-like extensions is served byte-for-byte off
		// disk, the way a dev server serves an untouched public/ directory.
		if !moduleLike {
			if data, modTime, ok := s.readStaticAsset(pathname); ok {
				ctx.W.Header().Set("Cache-Control", "no-cache")
				return rex.Content(pathname, modTime, bytes.NewReader(data))
			}
		}

		result, err := s.Pipeline.TransformRequest(pathname)
		if err != nil {
			// SPA fallback: a navigation request for a path with no
			// matching file behind it serves the root entry instead of a
			// hard 404, so a client-side router can take over.
			if !moduleLike && pathname != "/index.html" {
				if fallback, ferr := s.Pipeline.TransformRequest("/index.html"); ferr == nil {
					ctx.W.Header().Set("Cache-Control", "no-cache")
					ctx.W.Header().Set("Content-Type", "text/html; charset=utf-8")
					return fallback.Code
				}
			}
			s.Channel.SendError(err.Error(), "")
			return rex.Status(400, err.Error())
		}

		ctx.W.Header().Set("Cache-Control", "no-cache")
		ctx.W.Header().Set("Content-Type", contentTypeFor(pathname))
		if result.Map != "" {
			ctx.W.Header().Set("SourceMap", result.Map)
		}
		return result.Code
	}
}

// isModuleLikePath reports whether pathname looks like something the
// transform pipeline understands natively (JS/TS/JSX/CSS/JSON/HTML),
// as opposed to a public asset the static handler should serve as-is.
func isModuleLikePath(pathname string) bool {
	return endsWith(pathname, ".js", ".jsx", ".ts", ".tsx", ".mjs", ".css", ".json", ".html")
}

// readStaticAsset serves a file from the project root directly, bypassing
// the transform pipeline, for requests that aren't module-like (images,
// fonts, and other untouched public assets).
func (s *DevServer) readStaticAsset(pathname string) ([]byte, time.Time, bool) {
	root, err := filepath.Abs(s.Config.Root)
	if err != nil {
		return nil, time.Time{}, false
	}
	abs := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(pathname, "/")))

	absRoots := make([]string, 0, len(s.Config.AllowedRoots))
	for _, r := range s.Config.AllowedRoots {
		if ar, err := filepath.Abs(r); err == nil {
			absRoots = append(absRoots, ar)
		}
	}
	if !isWithinRoots(abs, absRoots) {
		return nil, time.Time{}, false
	}
	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() {
		return nil, time.Time{}, false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, time.Time{}, false
	}
	return data, fi.ModTime(), true
}

func contentTypeFor(pathname string) string {
	switch {
	case endsWith(pathname, ".css"):
		return "text/css; charset=utf-8"
	case endsWith(pathname, ".json"):
		return "application/json; charset=utf-8"
	case endsWith(pathname, ".html"):
		return "text/html; charset=utf-8"
	default:
		return "application/javascript; charset=utf-8"
	}
}
