// Package testpkg implements the test-package model: discovery of packages,
// modules, test sets and tests from disk, the wire-facing installed-package
// tree, bundle packing/unpacking and selective execution.
package testpkg

import "sort"

// Test is a single detection probe declaration. Kind selects one of the
// built-in generic primitives (see pkg/testpkg/probes); Params configures it.
type Test struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description" json:"description"`
	Kind        string                 `yaml:"kind" json:"-"`
	Params      map[string]interface{} `yaml:"params" json:"-"`
}

// Probe is an optional setup/teardown hook for a TestSet.
type Probe struct {
	Kind   string                 `yaml:"kind" json:"-"`
	Params map[string]interface{} `yaml:"params" json:"-"`
}

// TestSet groups related tests, mirroring a Python TestSet subclass.
type TestSet struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"-"`
	Setup       *Probe  `yaml:"setup" json:"-"`
	Teardown    *Probe  `yaml:"teardown" json:"-"`
	Tests       []Test  `yaml:"tests" json:"-"`
}

// Module is a single YAML manifest file within a package.
type Module struct {
	Name     string    `json:"name"`
	TestSets []TestSet `json:"-"`
}

// Package is a directory containing a package.yaml marker, zero or more
// module manifests and zero or more subpackage directories.
type Package struct {
	Name        string
	Path        string
	Subpackages []*Package
	Modules     []Module
}

// CanonicalName returns the dotted name of a module relative to the tree
// root, e.g. "timing.clock" for module "clock" in top-level package "timing".
func CanonicalName(pkgPath []string, moduleName string) string {
	name := ""
	for _, p := range pkgPath {
		if name != "" {
			name += "."
		}
		name += p
	}
	if moduleName != "" {
		if name != "" {
			name += "."
		}
		name += moduleName
	}
	return name
}

// PackageInfo is the JSON wire shape returned by GET /test_sets, matching the original implementation's
// get_installed_package output (name/subpackages/modules, each list omitted
// when empty).
type PackageInfo struct {
	Name        string          `json:"name"`
	Subpackages []PackageInfo   `json:"subpackages,omitempty"`
	Modules     []ModuleInfo    `json:"modules,omitempty"`
}

type ModuleInfo struct {
	Name     string        `json:"name"`
	TestSets []TestSetInfo `json:"test_sets,omitempty"`
}

type TestSetInfo struct {
	Name  string   `json:"name"`
	Tests []string `json:"tests,omitempty"`
}

// Info renders the package into its wire representation, sorted
// alphabetically at every level as required by the deterministic-discovery
// invariant.
func (p *Package) Info() PackageInfo {
	info := PackageInfo{Name: p.Name}

	subs := make([]PackageInfo, 0, len(p.Subpackages))
	for _, sp := range p.Subpackages {
		subs = append(subs, sp.Info())
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
	if len(subs) > 0 {
		info.Subpackages = subs
	}

	mods := make([]ModuleInfo, 0, len(p.Modules))
	for _, m := range p.Modules {
		mi := ModuleInfo{Name: m.Name}
		sets := make([]TestSetInfo, 0, len(m.TestSets))
		for _, ts := range m.TestSets {
			tsi := TestSetInfo{Name: ts.Name}
			for _, t := range ts.Tests {
				tsi.Tests = append(tsi.Tests, t.Name)
			}
			sort.Strings(tsi.Tests)
			sets = append(sets, tsi)
		}
		sort.Slice(sets, func(i, j int) bool { return sets[i].Name < sets[j].Name })
		if len(sets) > 0 {
			mi.TestSets = sets
		}
		mods = append(mods, mi)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })
	if len(mods) > 0 {
		info.Modules = mods
	}

	return info
}
