package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeModuleShapeDetectsESM(t *testing.T) {
	shape, err := analyzeModuleShapeSource("virtual.js", "export const a = 1; export function b() {}")
	require.NoError(t, err)
	assert.True(t, shape.IsESM)
	assert.ElementsMatch(t, []string{"a", "b"}, shape.NamedExports)
}

func TestAnalyzeModuleShapeDetectsCJS(t *testing.T) {
	shape, err := analyzeModuleShapeSource("virtual.js", "module.exports = { a: 1 };")
	require.NoError(t, err)
	assert.False(t, shape.IsESM)
}

func TestAnalyzeModuleShapeRejectsInvalidSyntax(t *testing.T) {
	_, err := analyzeModuleShapeSource("virtual.js", "export const a = ;;;")
	assert.Error(t, err)
}

func TestNeedsInterop(t *testing.T) {
	assert.True(t, needsInterop(moduleShape{IsESM: false}))
	assert.False(t, needsInterop(moduleShape{IsESM: true}))
}

func TestInteropWrapperReexportsDefaultAndNamed(t *testing.T) {
	out := interopWrapper("/optimized/lodash.js", []string{"map", "default", "0bad"})

	assert.True(t, strings.Contains(out, `from "/optimized/lodash.js"`))
	assert.True(t, strings.Contains(out, "export const map = __cjsModule[\"map\"];"))
	assert.False(t, strings.Contains(out, "export const default"), "a named export literally called default must not be re-exported a second time")
	assert.False(t, strings.Contains(out, "0bad"), "an identifier that isn't a valid JS binding name must be skipped")
}
