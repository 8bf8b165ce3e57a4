package server

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// builtinResolvePlugin handles the three URL shapes the normalizer
// understands: "/@fs/<abs>", "/@id/<virtual>", and ordinary project-
// relative paths. It never rewrites a bare specifier; that is the
// optimizer plugin's job, which must run first so a bare import never
// reaches the filesystem resolver.
func builtinResolvePlugin(cfg Config) Plugin {
	absRoots := make([]string, 0, len(cfg.AllowedRoots))
	for _, r := range cfg.AllowedRoots {
		if ar, err := filepath.Abs(r); err == nil {
			absRoots = append(absRoots, ar)
		}
	}
	return Plugin{
		Name:    "devkit:resolve",
		Enforce: EnforcePost,
		ResolveId: func(id, importer string) (*ResolvedId, error) {
			switch {
			case isVirtualId(id):
				return &ResolvedId{ID: id}, nil
			case isFsUrl(id):
				p := fsUrlToPath(id)
				if !isWithinRoots(p, absRoots) {
					return nil, fmt.Errorf("%s is outside the allowed workspace roots", p)
				}
				return &ResolvedId{ID: id}, nil
			default:
				return &ResolvedId{ID: id}, nil
			}
		},
	}
}

// builtinOptimizerPlugin rewrites bare specifiers to the pre-bundled
// dependency cache URL. It must run before devkit:resolve so a bare
// specifier is never treated as a project-relative path.
func builtinOptimizerPlugin(optimizer *Optimizer, cacheUrlPrefix string) Plugin {
	return Plugin{
		Name:    "devkit:optimize-deps",
		Enforce: EnforcePre,
		ResolveId: func(id, importer string) (*ResolvedId, error) {
			if !isBareSpecifier(id) {
				return nil, nil
			}
			entry, ok := optimizer.Resolve(id)
			if !ok {
				return nil, nil
			}
			return &ResolvedId{ID: entry.OptimizedUrl(cacheUrlPrefix)}, nil
		},
	}
}

// builtinEsbuildPlugin transforms TypeScript/JSX source to plain
// JavaScript the browser can run natively, leaving plain .js/.mjs files
// untouched so import-analysis sees code as close to the original as
// possible.
func builtinEsbuildPlugin() Plugin {
	return Plugin{
		Name:    "devkit:esbuild",
		Enforce: EnforcePre,
		Transform: func(code, id string) (*TransformResultHook, error) {
			pathname, _ := cleanUrl(id)
			if !endsWith(pathname, ".ts", ".tsx", ".jsx", ".mts") {
				return nil, nil
			}
			ret := esbuild.Transform(code, esbuild.TransformOptions{
				Loader:        loaderForExt(extOf(pathname)),
				Format:        esbuild.FormatESModule,
				Target:        esbuild.ESNext,
				Sourcemap:     esbuild.SourceMapInline,
				JSXDev:        true,
				LegalComments: esbuild.LegalCommentsNone,
			})
			if len(ret.Errors) > 0 {
				return nil, fmt.Errorf("%s", ret.Errors[0].Text)
			}
			return &TransformResultHook{Code: string(ret.Code), Hires: true}, nil
		},
	}
}

var stylesheetLinkRe = regexp.MustCompile(`<link\b[^>]*rel=["']stylesheet["'][^>]*>`)
var linkHrefRe = regexp.MustCompile(`href=["']([^"']+)["']`)

// tagStylesheetLinks stamps every <link rel="stylesheet"> tag with a
// data-devkit-href attribute carrying its own href, so the client
// runtime can find the right tag to swap on a css-update message
// without re-parsing the DOM for a matching href itself.
func tagStylesheetLinks(html string) string {
	return stylesheetLinkRe.ReplaceAllStringFunc(html, func(tag string) string {
		if strings.Contains(tag, "data-devkit-href") {
			return tag
		}
		m := linkHrefRe.FindStringSubmatch(tag)
		if m == nil {
			return tag
		}
		return strings.Replace(tag, "<link", fmt.Sprintf(`<link data-devkit-href="%s"`, m[1]), 1)
	})
}

// builtinCssPlugin claims .css ids and passes their code through
// unchanged; url(...) references in stylesheets are not rewritten.
func builtinCssPlugin() Plugin {
	return Plugin{
		Name:    "devkit:css",
		Enforce: EnforceNormal,
		Transform: func(code, id string) (*TransformResultHook, error) {
			pathname, _ := cleanUrl(id)
			if !endsWith(pathname, ".css") {
				return nil, nil
			}
			return &TransformResultHook{Code: code}, nil
		},
	}
}

// builtinHtmlHmrClientPlugin injects the HMR client bootstrap script tag
// into served HTML entries, the way the client runtime gets loaded
// without the app needing to reference it explicitly.
func builtinHtmlHmrClientPlugin(cfg Config) Plugin {
	inject := fmt.Sprintf(`<script type="module" src="%s/@devkit/client"></script>`, strings.TrimSuffix(cfg.BasePath, "/"))
	return Plugin{
		Name:    "devkit:html-inject-client",
		Enforce: EnforcePost,
		Apply:   func(devMode bool) bool { return devMode },
		Load: func(id string) (*LoadResult, error) {
			pathname, _ := cleanUrl(id)
			if !endsWith(pathname, ".html") {
				return nil, nil
			}
			data, err := os.ReadFile(path.Join(cfg.Root, strings.TrimPrefix(pathname, "/")))
			if err != nil {
				return nil, err
			}
			code := tagStylesheetLinks(string(data))
			if i := strings.Index(strings.ToLower(code), "</head>"); i >= 0 {
				code = code[:i] + inject + code[i:]
			} else {
				code += inject
			}
			return &LoadResult{Code: code}, nil
		},
	}
}

func extOf(pathname string) string {
	if i := strings.LastIndexByte(pathname, '.'); i >= 0 {
		return pathname[i:]
	}
	return ""
}

// BuiltinPlugins returns the core plugin set every DevServer registers
// before any user-supplied plugins, ordered so optimizer rewrites happen
// before generic resolution and HTML injection happens last.
func BuiltinPlugins(cfg Config, optimizer *Optimizer) []Plugin {
	return []Plugin{
		builtinOptimizerPlugin(optimizer, cfg.BasePath+"/@devkit/cache"),
		builtinEsbuildPlugin(),
		builtinCssPlugin(),
		builtinResolvePlugin(cfg),
		builtinHtmlHmrClientPlugin(cfg),
	}
}
