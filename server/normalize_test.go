package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanUrlSplitsQueryAndHash(t *testing.T) {
	path, suffix := cleanUrl("/src/a.js?t=123")
	assert.Equal(t, "/src/a.js", path)
	assert.Equal(t, "?t=123", suffix)
}

func TestCleanUrlNoSuffix(t *testing.T) {
	path, suffix := cleanUrl("/src/a.js")
	assert.Equal(t, "/src/a.js", path)
	assert.Empty(t, suffix)
}

func TestInjectQueryAppendsBeforeHash(t *testing.T) {
	assert.Equal(t, "/a.js?t=1", injectQuery("/a.js", "t=1"))
	assert.Equal(t, "/a.js?x=1&t=1", injectQuery("/a.js?x=1", "t=1"))
	assert.Equal(t, "/a.js?t=1#frag", injectQuery("/a.js#frag", "t=1"))
}

func TestVirtualIdRoundTrip(t *testing.T) {
	id := string(nullByte) + "virtual:config"
	assert.True(t, isVirtualId(id))

	encoded := encodeVirtualId(id)
	assert.False(t, isVirtualId(encoded), "the wire form is not itself a raw virtual id")

	decoded := decodeVirtualId(encoded)
	assert.Equal(t, id, decoded)
}

func TestFsUrlRoundTrip(t *testing.T) {
	url := pathToFsUrl("/home/user/project/src/a.ts")
	assert.True(t, isFsUrl(url))
	assert.Equal(t, "/home/user/project/src/a.ts", fsUrlToPath(url))
}

func TestIsWithinRoots(t *testing.T) {
	roots := []string{"/proj"}
	assert.True(t, isWithinRoots("/proj/src/a.js", roots))
	assert.True(t, isWithinRoots("/proj", roots))
	assert.False(t, isWithinRoots("/etc/passwd", roots))
	assert.False(t, isWithinRoots("/projx/a.js", roots), "prefix match must respect the path separator")
}

func TestStripBase(t *testing.T) {
	path, ok := stripBase("/app/src/a.js", "/app")
	assert.True(t, ok)
	assert.Equal(t, "/src/a.js", path)

	path, ok = stripBase("/app", "/app")
	assert.True(t, ok)
	assert.Equal(t, "/", path)

	_, ok = stripBase("/other/a.js", "/app")
	assert.False(t, ok)

	path, ok = stripBase("/src/a.js", "")
	assert.True(t, ok)
	assert.Equal(t, "/src/a.js", path)
}
