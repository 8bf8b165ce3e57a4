package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	regexpFullVersion = regexp.MustCompile(`^\d+\.\d+\.\d+[\w\.\+\-]*$`)
	regexpJSIdent     = regexp.MustCompile(`^[a-zA-Z_$][\w$]*$`)
)

// isHttpSpecifier returns true if the import path is a remote URL.
func isHttpSpecifier(importPath string) bool {
	return strings.HasPrefix(importPath, "https://") || strings.HasPrefix(importPath, "http://")
}

// isRelativeSpecifier returns true if the import path is a local/relative path.
func isRelativeSpecifier(importPath string) bool {
	return strings.HasPrefix(importPath, "./") || strings.HasPrefix(importPath, "../") || importPath == "." || importPath == ".."
}

// isBareSpecifier returns true if the import path names a node_modules package.
func isBareSpecifier(importPath string) bool {
	if importPath == "" || isHttpSpecifier(importPath) || isRelativeSpecifier(importPath) {
		return false
	}
	return !strings.HasPrefix(importPath, "/") && !strings.HasPrefix(importPath, "\x00")
}

// semverLessThan returns true if the version a is less than the version b.
func semverLessThan(a string, b string) bool {
	return semver.MustParse(a).LessThan(semver.MustParse(b))
}

// includes returns true if the given string is included in the given slice.
func includes(a []string, s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// endsWith returns true if the given string ends with any of the suffixes.
func endsWith(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// existsDir returns true if the given path is a directory.
func existsDir(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.IsDir()
}

// existsFile returns true if the given path is a regular file.
func existsFile(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && !fi.IsDir()
}

// ensureDir creates a directory if it does not exist.
func ensureDir(dir string) (err error) {
	_, err = os.Lstat(dir)
	if err != nil && os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0755)
	}
	return
}

// relPath returns a slash-separated relative path from basePath to targetPath.
func relPath(basePath, targetPath string) (string, error) {
	rp, err := filepath.Rel(basePath, targetPath)
	if err != nil {
		return "", err
	}
	rp = filepath.ToSlash(rp)
	if !isRelativeSpecifier(rp) {
		rp = "./" + rp
	}
	return rp, nil
}

// findFiles walks root (skipping node_modules) and returns paths accepted by fn.
func findFiles(root string, dir string, fn func(p string) bool) ([]string, error) {
	rootDir, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		p := name
		if dir != "" {
			p = dir + "/" + name
		}
		if entry.IsDir() {
			if name == "node_modules" || name == ".git" {
				continue
			}
			subFiles, err := findFiles(filepath.Join(rootDir, name), p, fn)
			if err != nil {
				return nil, err
			}
			files = append(files, subFiles...)
		} else if fn(p) {
			files = append(files, p)
		}
	}
	return files, nil
}

// concatBytes concatenates two byte slices into a new one.
func concatBytes(a, b []byte) []byte {
	c := make([]byte, len(a)+len(b))
	copy(c, a)
	copy(c[len(a):], b)
	return c
}

// mustEncodeJSON encodes v to JSON, panicking on failure (used for values
// that are always marshalable, e.g. wire protocol payloads).
func mustEncodeJSON(v interface{}) []byte {
	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// parseJSONFile parses the JSON file at filename into v.
func parseJSONFile(filename string, v interface{}) (err error) {
	file, err := os.Open(filename)
	if err != nil {
		return
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(v)
}

// run executes cmd with args and returns its stdout.
func run(cmd string, args ...string) (output []byte, err error) {
	var outBuf, errBuf bytes.Buffer
	c := exec.Command(cmd, args...)
	c.Stdout = &outBuf
	c.Stderr = &errBuf
	err = c.Run()
	if err != nil {
		if errBuf.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, errBuf.String())
		}
		return
	}
	if errBuf.Len() > 0 {
		err = fmt.Errorf("%s", errBuf.String())
		return
	}
	output = outBuf.Bytes()
	return
}
