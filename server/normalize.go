package server

import (
	"path"
	"strings"
)

// fsPrefix is the reserved URL prefix that encodes an absolute
// file-system path.
const fsPrefix = "/@fs/"

// idPrefix serves a module whose id is not a normal file path (virtual
// modules registered by a plugin's resolveId hook).
const idPrefix = "/@id/"

// nullByte marks a virtual module id on the server side; it is never a
// legal character in a URL, so it is swapped for nullSentinel on the wire.
const nullByte = '\x00'
const nullSentinel = "\x00"

// toPosixPath converts a host-OS path to forward-slash form.
func toPosixPath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// cleanUrl strips a trailing "?..." or "#..." suffix, returning the bare
// path and the stripped query+hash suffix (preserved by callers that need
// to re-attach it, e.g. the transform pipeline's cache-buster handling).
func cleanUrl(url string) (pathname string, suffix string) {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i], url[i:]
	}
	return url, ""
}

// injectQuery inserts q into url before any existing search string and
// after the path, preserving a trailing hash fragment.
func injectQuery(url string, q string) string {
	if q == "" {
		return url
	}
	hash := ""
	if i := strings.IndexByte(url, '#'); i >= 0 {
		hash = url[i:]
		url = url[:i]
	}
	sep := "?"
	if strings.ContainsRune(url, '?') {
		sep = "&"
	}
	return url + sep + q + hash
}

// isVirtualId reports whether id is a virtual module id: it has no
// backing file and is never watched.
func isVirtualId(id string) bool {
	return strings.HasPrefix(id, nullSentinel) || strings.HasPrefix(id, string(nullByte))
}

// encodeVirtualId replaces the leading null byte with the wire sentinel
// so the id can travel inside a URL.
func encodeVirtualId(id string) string {
	if strings.HasPrefix(id, string(nullByte)) {
		return idPrefix + nullSentinel + id[1:]
	}
	return id
}

// decodeVirtualId reverses encodeVirtualId for a "/@id/..." request path.
func decodeVirtualId(urlPath string) string {
	rest := strings.TrimPrefix(urlPath, idPrefix)
	if strings.HasPrefix(rest, nullSentinel) {
		return string(nullByte) + rest[len(nullSentinel):]
	}
	return rest
}

// isFsUrl reports whether urlPath is a "/@fs/<absolute-path>" request.
func isFsUrl(urlPath string) bool {
	return strings.HasPrefix(urlPath, fsPrefix)
}

// fsUrlToPath decodes a "/@fs/<absolute-path>" URL into an absolute
// file-system path. The caller is responsible for checking the result
// against the allow-listed workspace roots.
func fsUrlToPath(urlPath string) string {
	p := strings.TrimPrefix(urlPath, fsPrefix)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// pathToFsUrl encodes an absolute file-system path as a "/@fs/..." URL.
func pathToFsUrl(absPath string) string {
	return fsPrefix + strings.TrimPrefix(toPosixPath(absPath), "/")
}

// isWithinRoots reports whether absPath is inside one of roots, used to
// enforce the workspace-root allow-list on "/@fs/" requests.
func isWithinRoots(absPath string, roots []string) bool {
	clean := path.Clean(toPosixPath(absPath))
	for _, root := range roots {
		r := path.Clean(toPosixPath(root))
		if clean == r || strings.HasPrefix(clean, r+"/") {
			return true
		}
	}
	return false
}

// stripBase removes a configured base path prefix from a request path.
func stripBase(urlPath, base string) (string, bool) {
	if base == "" || base == "/" {
		return urlPath, true
	}
	base = strings.TrimSuffix(base, "/")
	if urlPath == base {
		return "/", true
	}
	if strings.HasPrefix(urlPath, base+"/") {
		return urlPath[len(base):], true
	}
	return urlPath, false
}
