package testpkg

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PackBundle writes a tar.gz archive containing the named top-level packages
// found under root. Only top-level package names are accepted.
func PackBundle(w io.Writer, root string, packageNames []string) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range packageNames {
		if strings.Contains(name, ".") || strings.Contains(name, string(filepath.Separator)) {
			return fmt.Errorf("testpkg: %q is not a top level package", name)
		}
		pkgPath := filepath.Join(root, name)
		info, err := os.Stat(pkgPath)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("testpkg: no package found with name %q", name)
		}
		if err := addDir(tw, pkgPath, name); err != nil {
			return err
		}
	}
	return nil
}

func addDir(tw *tar.Writer, srcDir, archiveRoot string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "__pycache__" {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := archiveRoot
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(archiveRoot, rel))
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// UnpackBundle extracts a tar.gz stream into root, rejecting any entry that
// escapes root (via "..", an absolute path or a symlink) and validating that
// every top-level member is a package (carries package.yaml). Existing
// packages with the same top-level name are deleted before extraction
// (delete-then-extract merge semantics). Returns the names of the top-level
// packages installed.
func UnpackBundle(r io.Reader, root string) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("testpkg: invalid gzip stream: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	type entry struct {
		hdr  *tar.Header
		data []byte
	}
	var entries []entry
	topLevel := map[string]bool{}
	hasMarkerFile := map[string]bool{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("testpkg: reading tar entry: %w", err)
		}

		cleaned := filepath.ToSlash(filepath.Clean(hdr.Name))
		if cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." || filepath.IsAbs(cleaned) {
			return nil, fmt.Errorf("testpkg: rejected unsafe path %q", hdr.Name)
		}
		if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
			return nil, fmt.Errorf("testpkg: rejected link entry %q", hdr.Name)
		}

		parts := strings.Split(cleaned, "/")
		topLevel[parts[0]] = true
		if len(parts) == 2 && parts[1] == packageMarker {
			hasMarkerFile[parts[0]] = true
		}

		var data []byte
		if hdr.Typeflag == tar.TypeReg {
			data, err = io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("testpkg: reading entry %q: %w", hdr.Name, err)
			}
		}
		entries = append(entries, entry{hdr: hdr, data: data})
	}

	var names []string
	for name := range topLevel {
		if !hasMarkerFile[name] {
			return nil, fmt.Errorf("testpkg: top level member %q is not a package", name)
		}
		names = append(names, name)
	}

	for _, name := range names {
		if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
			return nil, fmt.Errorf("testpkg: removing existing package %q: %w", name, err)
		}
	}

	for _, e := range entries {
		cleaned := filepath.ToSlash(filepath.Clean(e.hdr.Name))
		dest := filepath.Join(root, filepath.FromSlash(cleaned))
		switch e.hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(dest, e.data, 0o644); err != nil {
				return nil, err
			}
		}
	}

	return names, nil
}
