package testpkg

import (
	"fmt"
	"sort"
	"strings"
)

// Selector lists the canonical names to run, with union semantics across the
// four kinds, matching the PATCH/GET query contract in spec §4.2/§4.3.
// An empty Selector means "run everything installed".
type Selector struct {
	Packages []string
	Modules  []string
	TestSets []string
	Tests    []string
}

func (s Selector) Empty() bool {
	return len(s.Packages) == 0 && len(s.Modules) == 0 && len(s.TestSets) == 0 && len(s.Tests) == 0
}

// ResolvedTest is a single test bound to its owning test set and canonical
// name, ready for execution.
type ResolvedTest struct {
	CanonicalName string
	PackagePath   []string
	Module        Module
	TestSet       TestSet
	Test          Test
}

// Resolve expands a Selector into the concrete list of tests to run, in
// deterministic canonical-name order. An unknown canonical name in any of
// the four lists aborts the whole resolution (no partial execution).
func Resolve(tree *Tree, sel Selector) ([]ResolvedTest, error) {
	all := map[string]ResolvedTest{}
	index := map[string][]string{} // prefix -> matching canonical test names

	for _, top := range sortedPackages(tree) {
		walk(top, nil, func(pkgPath []string, mod Module) {
			for _, ts := range mod.TestSets {
				for _, t := range ts.Tests {
					name := CanonicalName(pkgPath, mod.Name) + "." + ts.Name + "." + t.Name
					rt := ResolvedTest{
						CanonicalName: name,
						PackagePath:   pkgPath,
						Module:        mod,
						TestSet:       ts,
						Test:          t,
					}
					all[name] = rt

					pkgName := CanonicalName(pkgPath, "")
					modName := CanonicalName(pkgPath, mod.Name)
					tsName := modName + "." + ts.Name
					index[pkgName] = append(index[pkgName], name)
					index[modName] = append(index[modName], name)
					index[tsName] = append(index[tsName], name)
				}
			}
		})
	}

	if sel.Empty() {
		names := make([]string, 0, len(all))
		for n := range all {
			names = append(names, n)
		}
		sort.Strings(names)
		return materialize(all, names), nil
	}

	seen := map[string]bool{}
	var ordered []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				ordered = append(ordered, n)
			}
		}
	}

	for _, p := range sel.Packages {
		names, ok := index[p]
		if !ok {
			return nil, fmt.Errorf("testpkg: unknown package %q", p)
		}
		add(names)
	}
	for _, m := range sel.Modules {
		names, ok := index[m]
		if !ok {
			return nil, fmt.Errorf("testpkg: unknown module %q", m)
		}
		add(names)
	}
	for _, ts := range sel.TestSets {
		names, ok := index[ts]
		if !ok {
			return nil, fmt.Errorf("testpkg: unknown test set %q", ts)
		}
		add(names)
	}
	for _, t := range sel.Tests {
		if _, ok := all[t]; !ok {
			return nil, fmt.Errorf("testpkg: unknown test %q", t)
		}
		add([]string{t})
	}

	sort.Strings(ordered)
	return materialize(all, ordered), nil
}

func materialize(all map[string]ResolvedTest, names []string) []ResolvedTest {
	out := make([]ResolvedTest, 0, len(names))
	for _, n := range names {
		out = append(out, all[n])
	}
	return out
}

func sortedPackages(tree *Tree) []*Package {
	names := make([]string, 0, len(tree.Packages))
	for n := range tree.Packages {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Package, 0, len(names))
	for _, n := range names {
		out = append(out, tree.Packages[n])
	}
	return out
}

// ParseCSV splits a comma-separated query parameter value into a trimmed,
// non-empty list, per the "packages=a,b,c" selector wire format.
func ParseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
