package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Pkg identifies a bare import specifier resolved against the project's
// node_modules.
type Pkg struct {
	Name      string
	Version   string
	Submodule string
}

func (p Pkg) ImportPath() string {
	if p.Submodule != "" {
		return p.Name + "/" + p.Submodule
	}
	return p.Name
}

func (p Pkg) String() string {
	s := p.Name + "@" + p.Version
	if p.Submodule != "" {
		s += "/" + p.Submodule
	}
	return s
}

// splitBareSpecifier splits "@scope/name/sub/path" (or "name/sub/path")
// into package name and submodule.
func splitBareSpecifier(specifier string) (name string, submodule string) {
	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1], strings.Join(parts[2:], "/")
	}
	return parts[0], strings.Join(parts[1:], "/")
}

type packageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Main            string            `json:"main"`
	Module          string            `json:"module"`
	Type            string            `json:"type"`
	Exports         json.RawMessage   `json:"exports"`
	Dependencies    map[string]string `json:"dependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
}

// resolveBareSpecifier resolves a bare import specifier to a Pkg plus the
// absolute entry file inside node_modules.
func resolveBareSpecifier(root string, specifier string) (Pkg, string, error) {
	name, submodule := splitBareSpecifier(specifier)
	pkgDir, err := findNodeModulesDir(root, name)
	if err != nil {
		return Pkg{}, "", fmt.Errorf("resolve %q: %w", specifier, err)
	}
	var pj packageJSON
	if err := parseJSONFile(filepath.Join(pkgDir, "package.json"), &pj); err != nil {
		return Pkg{}, "", fmt.Errorf("read %s/package.json: %w", pkgDir, err)
	}
	entry, err := resolvePackageEntry(pkgDir, &pj, submodule)
	if err != nil {
		return Pkg{}, "", err
	}
	return Pkg{Name: name, Version: pj.Version, Submodule: submodule}, entry, nil
}

// findNodeModulesDir walks up from root looking for node_modules/<name>,
// mirroring Node's own module resolution algorithm.
func findNodeModulesDir(root string, name string) (string, error) {
	dir := root
	for {
		candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(name))
		if existsDir(candidate) {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("package %q not found under node_modules", name)
}

// resolvePackageEntry picks the ESM entry file for a package/submodule,
// preferring "module" over "main" the way bundlers targeting the browser
// do (esm.sh's build pipeline makes the same choice in build.go).
func resolvePackageEntry(pkgDir string, pj *packageJSON, submodule string) (string, error) {
	if submodule != "" {
		candidate := filepath.Join(pkgDir, filepath.FromSlash(submodule))
		if existsFile(candidate) {
			return candidate, nil
		}
		for _, ext := range []string{".mjs", ".js", ".json"} {
			if existsFile(candidate + ext) {
				return candidate + ext, nil
			}
		}
		indexed := filepath.Join(candidate, "index.js")
		if existsFile(indexed) {
			return indexed, nil
		}
		return "", fmt.Errorf("submodule %q not found in %s", submodule, pkgDir)
	}
	main := pj.Module
	if main == "" {
		main = pj.Main
	}
	if main == "" {
		main = "index.js"
	}
	entry := filepath.Join(pkgDir, filepath.FromSlash(main))
	if existsFile(entry) {
		return entry, nil
	}
	if existsFile(entry + ".js") {
		return entry + ".js", nil
	}
	return "", fmt.Errorf("entry %q not found in %s", main, pkgDir)
}

// satisfiesRange reports whether version satisfies a semver range string,
// used when the optimizer's include/exclude lists name a version range.
func satisfiesRange(version string, rng string) bool {
	c, err := semver.NewConstraint(rng)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// walkNpmScope lists every scoped/unscoped package directory directly
// under node_modules (used by the optimizer when scanning for bare
// imports isn't enough, e.g. resolving a transitive dependency's own
// bare imports during the esbuild bundling pass).
func walkNpmScope(root string) ([]string, error) {
	dir := filepath.Join(root, "node_modules")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.HasPrefix(e.Name(), "@") {
			scoped, err := os.ReadDir(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			for _, s := range scoped {
				if s.IsDir() {
					names = append(names, path.Join(e.Name(), s.Name()))
				}
			}
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
