package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadNode_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
c2_host: c2.internal
keyId: node-1
secret: s3cr3t
`)
	cfg, err := LoadNode(path)
	require.NoError(t, err)
	assert.Equal(t, 4900, cfg.ListenPort)
	assert.Equal(t, 5000, cfg.C2Port)
	assert.Equal(t, "./test_sets", cfg.TestRoot)
	assert.Equal(t, 5000, cfg.TimeoutMS)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
}

func TestLoadNode_MissingRequiredFieldFails(t *testing.T) {
	path := writeTempConfig(t, `
keyId: node-1
secret: s3cr3t
`)
	_, err := LoadNode(path)
	assert.Error(t, err)
}

func TestLoadNode_MissingFileFails(t *testing.T) {
	_, err := LoadNode("/nonexistent/path/node.yaml")
	assert.Error(t, err)
}

func TestLoadNode_RespectsExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
c2_host: c2.internal
c2_port: 6000
listen_ip: 0.0.0.0
listen_port: 4901
keyId: node-1
secret: s3cr3t
test_root: /data/tests
timeout_ms: 10000
`)
	cfg, err := LoadNode(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.C2Port)
	assert.Equal(t, 4901, cfg.ListenPort)
	assert.Equal(t, "/data/tests", cfg.TestRoot)
	assert.Equal(t, 10*time.Second, cfg.Timeout())
}
