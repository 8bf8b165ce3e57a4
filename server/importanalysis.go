package server

import (
	"regexp"
	"strings"

	esbuild_config "github.com/ije/esbuild-internal/config"
	"github.com/ije/esbuild-internal/js_ast"
	"github.com/ije/esbuild-internal/js_parser"
	"github.com/ije/esbuild-internal/logger"
)

// importKind distinguishes a static import/export from a dynamic
// import() call; dynamic imports are rewritten the same way but are
// never treated as a graph edge that can be "accepted".
type importKind uint8

const (
	importStatic importKind = iota
	importDynamic
)

// rawImport is one import/export specifier found by parseImports, before
// it has been resolved against the plugin container.
type rawImport struct {
	Specifier string
	Kind      importKind
	Start     int // byte offset of the specifier's opening quote
	End       int // byte offset one past the closing quote
}

// hotAcceptInfo records what a module declared about its own HMR
// boundary via import.meta.hot.accept/acceptExports, found in the same
// parse pass as the import scan.
type hotAcceptInfo struct {
	IsSelfAccepting bool
	AcceptedDeps    []string
	AcceptedExports []string
}

// parseImports walks filename's AST once, in the same esbuild-internal
// parser cjsinterop.go uses, and returns every import/export specifier
// plus whatever import.meta.hot.accept(...) bookkeeping it contains.
func parseImports(filename, source string) ([]rawImport, hotAcceptInfo, error) {
	log := logger.NewDeferLog(logger.DeferLogNoVerboseOrDebug, nil)
	opts := js_parser.OptionsFromConfig(&esbuild_config.Options{
		JSX: esbuild_config.JSXOptions{Parse: endsWith(filename, ".jsx", ".tsx")},
		TS:  esbuild_config.TSOptions{Parse: endsWith(filename, ".ts", ".mts", ".cts", ".tsx")},
	})
	ast, ok := js_parser.Parse(log, logger.Source{
		Index:          0,
		KeyPath:        logger.Path{Text: filename},
		PrettyPath:     filename,
		Contents:       source,
		IdentifierName: "module",
	}, opts)
	if !ok {
		return nil, hotAcceptInfo{}, &PipelineError{Kind: ErrTransformFailed, URL: filename, Err: errParseFailed}
	}

	var imports []rawImport
	for _, rec := range ast.ImportRecords {
		if rec.Path.Text == "" {
			continue
		}
		kind := importStatic
		if rec.Kind == js_ast.ImportDynamic {
			kind = importDynamic
		}
		imports = append(imports, rawImport{
			Specifier: rec.Path.Text,
			Kind:      kind,
			Start:     int(rec.Range.Loc.Start),
			End:       int(rec.Range.Loc.Start) + int(rec.Range.Len),
		})
	}

	info := scanHotAccept(source)
	return imports, info, nil
}

var (
	hotAcceptSelfRe   = regexp.MustCompile(`import\.meta\.hot\.accept\s*\(\s*(?:function|\(|[A-Za-z_$])`)
	hotAcceptNoArgRe  = regexp.MustCompile(`import\.meta\.hot\.accept\s*\(\s*\)`)
	hotAcceptDepsRe   = regexp.MustCompile(`import\.meta\.hot\.accept\s*\(\s*(\[[^\]]*\]|["'][^"']*["'])`)
	hotAcceptExportRe = regexp.MustCompile(`import\.meta\.hot\.acceptExports\s*\(\s*(\[[^\]]*\]|["'][^"']*["'])`)
	quotedStringRe    = regexp.MustCompile(`["']([^"']*)["']`)
)

// scanHotAccept looks for import.meta.hot.accept/acceptExports call sites.
// A lightweight regex scan is deliberate: the HMR boundary declaration is
// always a literal argument list at the top of a module body (never the
// output of other code), so a full control-flow-aware AST walk buys
// nothing a pattern match doesn't already give.
func scanHotAccept(source string) hotAcceptInfo {
	info := hotAcceptInfo{}
	if !strings.Contains(source, "import.meta.hot") {
		return info
	}

	if m := hotAcceptDepsRe.FindStringSubmatch(source); m != nil {
		info.AcceptedDeps = quotedStringRe.FindAllString(m[1], -1)
		for i, s := range info.AcceptedDeps {
			info.AcceptedDeps[i] = strings.Trim(s, `"'`)
		}
	} else if hotAcceptNoArgRe.MatchString(source) || hotAcceptSelfRe.MatchString(source) {
		info.IsSelfAccepting = true
	}

	if m := hotAcceptExportRe.FindStringSubmatch(source); m != nil {
		info.AcceptedExports = quotedStringRe.FindAllString(m[1], -1)
		for i, s := range info.AcceptedExports {
			info.AcceptedExports[i] = strings.Trim(s, `"'`)
		}
	}
	return info
}

// rewriteImports replaces each import's specifier text in source with its
// resolved URL, producing the code the browser actually receives. Imports
// are taken in ascending start order and the output is built into a fresh
// buffer from the unmodified source, so byte ranges stay valid.
func rewriteImports(source string, imports []rawImport, resolve func(rawImport) string) string {
	var b strings.Builder
	b.Grow(len(source) + 64)
	cursor := 0
	ordered := make([]rawImport, len(imports))
	copy(ordered, imports)
	sortImportsByStart(ordered)
	for _, imp := range ordered {
		if imp.Start < cursor {
			continue // overlapping/duplicate record, keep the first
		}
		b.WriteString(source[cursor:imp.Start])
		b.WriteString(resolve(imp))
		cursor = imp.End
	}
	b.WriteString(source[cursor:])
	return b.String()
}

func sortImportsByStart(imports []rawImport) {
	for i := 1; i < len(imports); i++ {
		for j := i; j > 0 && imports[j].Start < imports[j-1].Start; j-- {
			imports[j], imports[j-1] = imports[j-1], imports[j]
		}
	}
}
