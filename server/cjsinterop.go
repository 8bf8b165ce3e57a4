package server

import (
	"os"

	esbuild_config "github.com/ije/esbuild-internal/config"
	"github.com/ije/esbuild-internal/js_ast"
	"github.com/ije/esbuild-internal/js_parser"
	"github.com/ije/esbuild-internal/logger"
)

// moduleShape describes what analyzeModuleShape learned about a source
// file, used by the Dependency Optimizer to decide whether an interop
// wrapper is needed.
type moduleShape struct {
	IsESM        bool
	NamedExports []string
}

// analyzeModuleShape parses filename and reports whether it is an ES
// module. An in-process esbuild-internal parse, not a Node subprocess, is
// enough to answer "is this CommonJS" (see DESIGN.md).
func analyzeModuleShape(filename string) (moduleShape, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return moduleShape{}, err
	}
	return analyzeModuleShapeSource(filename, string(data))
}

func analyzeModuleShapeSource(filename string, source string) (moduleShape, error) {
	log := logger.NewDeferLog(logger.DeferLogNoVerboseOrDebug, nil)
	opts := js_parser.OptionsFromConfig(&esbuild_config.Options{
		JSX: esbuild_config.JSXOptions{
			Parse: endsWith(filename, ".jsx", ".tsx"),
		},
		TS: esbuild_config.TSOptions{
			Parse: endsWith(filename, ".ts", ".mts", ".cts", ".tsx"),
		},
	})
	ast, ok := js_parser.Parse(log, logger.Source{
		Index:          0,
		KeyPath:        logger.Path{Text: filename},
		PrettyPath:     filename,
		Contents:       source,
		IdentifierName: "module",
	}, opts)
	if !ok {
		return moduleShape{}, &PipelineError{Kind: ErrOptimizeFailed, URL: filename, Err: errParseFailed}
	}
	named := make([]string, 0, len(ast.NamedExports))
	for name := range ast.NamedExports {
		named = append(named, name)
	}
	return moduleShape{
		IsESM:        ast.ExportsKind == js_ast.ExportsESM,
		NamedExports: named,
	}, nil
}

// needsInterop reports whether a resolved bare-import entry must be
// wrapped with a CJS interop shim before the pre-bundled ES module is
// served.
func needsInterop(shape moduleShape) bool {
	return !shape.IsESM
}

// interopWrapper generates an ES-module wrapper that re-exports the
// default and named bindings of a CommonJS module. realModuleUrl is the
// URL of the esbuild-produced CJS-to-object bundle.
func interopWrapper(realModuleUrl string, namedExports []string) string {
	out := "import __cjsModule from \"" + realModuleUrl + "\";\n"
	out += "export default (__cjsModule && __cjsModule.__esModule) ? __cjsModule.default : __cjsModule;\n"
	for _, name := range namedExports {
		if name == "default" || !regexpJSIdent.MatchString(name) {
			continue
		}
		out += "export const " + name + " = __cjsModule[\"" + name + "\"];\n"
	}
	return out
}
