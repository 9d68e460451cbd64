package testpkg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// packageMarker is the file that turns a directory into a package, the
// Go-idiomatic stand-in for Python's __init__.py.
const packageMarker = "package.yaml"

// Discover walks root and builds the package tree. root itself is not a
// package; its immediate subdirectories that contain package.yaml are the
// top-level packages.
func Discover(root string) (map[string]*Package, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("testpkg: reading root %q: %w", root, err)
	}

	top := make(map[string]*Package)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		if !hasMarker(path) {
			continue
		}
		pkg, err := loadPackage(path, e.Name())
		if err != nil {
			return nil, err
		}
		top[pkg.Name] = pkg
	}
	return top, nil
}

func hasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, packageMarker))
	return err == nil
}

func loadPackage(dir, name string) (*Package, error) {
	pkg := &Package{Name: name, Path: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("testpkg: reading package %q: %w", name, err)
	}

	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if hasMarker(full) {
				sub, err := loadPackage(full, e.Name())
				if err != nil {
					return nil, err
				}
				pkg.Subpackages = append(pkg.Subpackages, sub)
			}
			continue
		}

		if e.Name() == packageMarker || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}

		mod, err := loadModule(full, strings.TrimSuffix(e.Name(), ".yaml"))
		if err != nil {
			return nil, fmt.Errorf("testpkg: loading module %q: %w", full, err)
		}
		pkg.Modules = append(pkg.Modules, *mod)
	}

	sort.Slice(pkg.Modules, func(i, j int) bool { return pkg.Modules[i].Name < pkg.Modules[j].Name })
	sort.Slice(pkg.Subpackages, func(i, j int) bool { return pkg.Subpackages[i].Name < pkg.Subpackages[j].Name })
	return pkg, nil
}

func loadModule(path, defaultName string) (*Module, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Name     string    `yaml:"name"`
		TestSets []TestSet `yaml:"test_sets"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}

	name := doc.Name
	if name == "" {
		name = defaultName
	}
	return &Module{Name: name, TestSets: doc.TestSets}, nil
}

// walk visits every (packagePath, module) pair in deterministic
// (alphabetical) order, matching the installed-package discovery invariant.
func walk(pkg *Package, prefix []string, visit func(pkgPath []string, mod Module)) {
	path := append(append([]string{}, prefix...), pkg.Name)
	for _, m := range pkg.Modules {
		visit(path, m)
	}
	for _, sp := range pkg.Subpackages {
		walk(sp, path, visit)
	}
}
