package testpkg

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sampleTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "timing", "package.yaml"), "")
	writeFile(t, filepath.Join(root, "timing", "clock.yaml"), `
test_sets:
  - name: ClockSkew
    description: checks timing anomalies
    tests:
      - name: sleep_accuracy
        description: sleep rounding
        kind: sleep_budget
        params: { requested_ms: 1, tolerance_ms: 50 }
`)
	writeFile(t, filepath.Join(root, "timing", "sub", "package.yaml"), "")
	writeFile(t, filepath.Join(root, "timing", "sub", "nested.yaml"), `
test_sets:
  - name: Nested
    tests:
      - name: always_pass
        kind: env_equals
        params: { name: NONEXISTENT_VAR_XYZ, value: "" }
`)
	return root
}

func TestDiscover_BuildsSortedTree(t *testing.T) {
	root := sampleTree(t)
	packages, err := Discover(root)
	require.NoError(t, err)
	require.Contains(t, packages, "timing")

	tree := &Tree{Packages: packages}
	info := tree.Info()
	require.Len(t, info, 1)
	assert.Equal(t, "timing", info[0].Name)
	require.Len(t, info[0].Modules, 1)
	assert.Equal(t, "clock", info[0].Modules[0].Name)
	require.Len(t, info[0].Subpackages, 1)
	assert.Equal(t, "sub", info[0].Subpackages[0].Name)
}

func TestResolve_UnknownNameErrors(t *testing.T) {
	root := sampleTree(t)
	packages, err := Discover(root)
	require.NoError(t, err)
	tree := &Tree{Packages: packages}

	_, err = Resolve(tree, Selector{Packages: []string{"does_not_exist"}})
	assert.Error(t, err)
}

func TestResolve_EmptySelectorRunsEverything(t *testing.T) {
	root := sampleTree(t)
	packages, err := Discover(root)
	require.NoError(t, err)
	tree := &Tree{Packages: packages}

	resolved, err := Resolve(tree, Selector{})
	require.NoError(t, err)
	assert.Len(t, resolved, 2)
	assert.True(t, resolved[0].CanonicalName < resolved[1].CanonicalName)
}

func TestRunner_RunExecutesProbes(t *testing.T) {
	root := sampleTree(t)
	packages, err := Discover(root)
	require.NoError(t, err)
	tree := &Tree{Packages: packages}

	resolved, err := Resolve(tree, Selector{})
	require.NoError(t, err)

	runner := NewRunner(map[string]ProbeFunc{
		"sleep_budget": func(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
			return 1, map[string]interface{}{}, nil
		},
		"env_equals": func(ctx context.Context, params map[string]interface{}) (int, map[string]interface{}, error) {
			return 1, map[string]interface{}{}, nil
		},
	})
	reports := runner.Run(context.Background(), resolved)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, 1, r.ResultCode)
		assert.NotEmpty(t, r.TimestampStart)
	}
}

func TestPackAndUnpackBundle_RoundTrip(t *testing.T) {
	root := sampleTree(t)
	var buf bytes.Buffer
	require.NoError(t, PackBundle(&buf, root, []string{"timing"}))

	dest := t.TempDir()
	names, err := UnpackBundle(&buf, dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"timing"}, names)

	_, err = os.Stat(filepath.Join(dest, "timing", "package.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "timing", "sub", "nested.yaml"))
	assert.NoError(t, err)
}

func TestPackBundle_RejectsNonTopLevel(t *testing.T) {
	root := sampleTree(t)
	var buf bytes.Buffer
	err := PackBundle(&buf, root, []string{"timing.sub"})
	assert.Error(t, err)
}
