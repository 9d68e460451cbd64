package testpkg

import (
	"sort"
	"sync/atomic"
)

// Tree is an immutable snapshot of the installed top-level packages.
type Tree struct {
	Packages map[string]*Package
}

// Registry holds the currently installed package tree and allows it to be
// atomically swapped, so a reader never observes a partially-updated tree
// and a failed reload never discards the previous good snapshot.
type Registry struct {
	ptr atomic.Pointer[Tree]
}

// NewRegistry creates a registry seeded with an empty tree.
func NewRegistry() *Registry {
	r := &Registry{}
	r.ptr.Store(&Tree{Packages: map[string]*Package{}})
	return r
}

// Load returns the current snapshot.
func (r *Registry) Load() *Tree {
	return r.ptr.Load()
}

// ReloadFromDisk re-discovers the tree at root and swaps it in. On error the
// previous snapshot is left untouched.
func (r *Registry) ReloadFromDisk(root string) error {
	packages, err := Discover(root)
	if err != nil {
		return err
	}
	r.ptr.Store(&Tree{Packages: packages})
	return nil
}

// Info returns the wire representation of every installed top-level package,
// sorted alphabetically.
func (t *Tree) Info() []PackageInfo {
	infos := make([]PackageInfo, 0, len(t.Packages))
	names := make([]string, 0, len(t.Packages))
	for name := range t.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		infos = append(infos, t.Packages[name].Info())
	}
	return infos
}
