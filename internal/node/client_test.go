package node

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secchiware/secchiware/internal/config"
	"github.com/secchiware/secchiware/pkg/signing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, c2URL string) *config.NodeConfig {
	t.Helper()
	u, err := url.Parse(c2URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.NodeConfig{
		C2Host:        host,
		C2Port:        port,
		ListenIP:      "127.0.0.1",
		ListenPort:    4900,
		KeyID:         "node-1",
		Secret:        "node-1-secret",
		C2PublicKeyID: "c2",
		C2Secret:      "c2-secret",
		TimeoutMS:     2000,
	}
}

func TestC2Client_Connect_SignsRequest(t *testing.T) {
	var gotAuth string
	var gotDigest string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDigest = r.Header.Get("Digest")
		assert.Equal(t, "/environments", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client := NewC2Client(cfg, discardLogger())

	connected, err := client.Connect(context.Background(), map[string]string{"system": "linux"})
	require.NoError(t, err)
	assert.True(t, connected)
	assert.Contains(t, gotAuth, "keyId=node-1")
	assert.NotEmpty(t, gotDigest)
}

func TestC2Client_Connect_UnreachableFallsBackStandalone(t *testing.T) {
	cfg := &config.NodeConfig{
		C2Host:     "127.0.0.1",
		C2Port:     1, // nothing listens here
		ListenIP:   "127.0.0.1",
		ListenPort: 4900,
		KeyID:      "node-1",
		Secret:     "node-1-secret",
		TimeoutMS:  200,
	}
	client := NewC2Client(cfg, discardLogger())

	connected, err := client.Connect(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestC2Client_Connect_RejectedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client := NewC2Client(cfg, discardLogger())

	_, err := client.Connect(context.Background(), nil)
	assert.Error(t, err)
}

func TestC2Client_Disconnect_SignsRequestWithoutDigest(t *testing.T) {
	var gotAuth string
	var gotMethod string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	client := NewC2Client(cfg, discardLogger())

	err := client.Disconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/environments/127.0.0.1/4900", gotPath)

	params, err := signing.ParseAuthorizationHeader(gotAuth)
	require.NoError(t, err)
	assert.Equal(t, "node-1", params.KeyID)
	assert.Equal(t, []string{"host", "timestamp"}, params.Headers)
}
