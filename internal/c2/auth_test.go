package c2

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secchiware/secchiware/pkg/broker/memorybroker"
	"github.com/secchiware/secchiware/pkg/signing"
)

func newTestServer() *Server {
	return &Server{
		clientSecret: "client-secret",
		nodeSecrets:  map[string]string{"node-1": "node-1-secret"},
		broker:       memorybroker.New(),
	}
}

// freshnessRecover builds a HeaderRecoverer that also answers "host" from
// req.Host, and stamps req with a current "timestamp" header.
func freshnessRecover(req *http.Request) signing.HeaderRecoverer {
	req.Header.Set("timestamp", time.Now().UTC().Format(time.RFC3339))
	return func(name string) (string, bool) {
		if name == "host" {
			if req.Host == "" {
				return "", false
			}
			return req.Host, true
		}
		v := req.Header.Get(name)
		if v == "" {
			return "", false
		}
		return v, true
	}
}

func TestVerifyClientRequest_ValidSignature(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/environments", nil)
	recover := freshnessRecover(req)
	headers := []string{"host", "timestamp"}
	sig, err := signing.NewSignature([]byte(s.clientSecret), "GET", "/environments", "", headers, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.NewAuthorizationHeader(clientKeyID, sig, headers))

	err = s.verifyClientRequest(req, nil, nil)
	assert.NoError(t, err)
}

func TestVerifyClientRequest_WrongSecretFails(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/environments", nil)
	recover := freshnessRecover(req)
	headers := []string{"host", "timestamp"}
	sig, err := signing.NewSignature([]byte("wrong-secret"), "GET", "/environments", "", headers, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.NewAuthorizationHeader(clientKeyID, sig, headers))

	err = s.verifyClientRequest(req, nil, nil)
	require.Error(t, err)
	ve, ok := err.(*signing.VerifyError)
	require.True(t, ok)
	assert.Equal(t, signing.ErrBadSignature, ve.Kind)
}

func TestVerifyClientRequest_ReplayRejected(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("GET", "/environments", nil)
	recover := freshnessRecover(req)
	headers := []string{"host", "timestamp"}
	sig, err := signing.NewSignature([]byte(s.clientSecret), "GET", "/environments", "", headers, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.NewAuthorizationHeader(clientKeyID, sig, headers))

	require.NoError(t, s.verifyClientRequest(req, nil, nil))

	err = s.verifyClientRequest(req, nil, nil)
	require.Error(t, err)
	ve, ok := err.(*signing.VerifyError)
	require.True(t, ok)
	assert.Equal(t, signing.ErrBadSignature, ve.Kind)
}

func TestVerifyNodeRequest_ReturnsMatchedKeyID(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("DELETE", "/environments/10.0.0.1/4900", nil)
	recover := freshnessRecover(req)
	headers := []string{"host", "timestamp"}
	sig, err := signing.NewSignature([]byte("node-1-secret"), "DELETE", req.URL.Path, "", headers, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.NewAuthorizationHeader("node-1", sig, headers))

	keyID, err := s.verifyNodeRequest(req, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "node-1", keyID)
}

func TestVerifyNodeRequest_UnknownKeyFails(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest("DELETE", "/environments/10.0.0.1/4900", nil)
	recover := freshnessRecover(req)
	headers := []string{"host", "timestamp"}
	sig, err := signing.NewSignature([]byte("whatever"), "DELETE", req.URL.Path, "", headers, recover)
	require.NoError(t, err)
	req.Header.Set("Authorization", signing.NewAuthorizationHeader("node-unknown", sig, headers))

	_, err = s.verifyNodeRequest(req, nil, nil)
	require.Error(t, err)
	ve, ok := err.(*signing.VerifyError)
	require.True(t, ok)
	assert.Equal(t, signing.ErrUnknownKey, ve.Kind)
}

func TestVerifyDigest_MismatchFails(t *testing.T) {
	req := httptest.NewRequest("PATCH", "/test_sets", nil)
	req.Header.Set("Digest", "sha-256=not-the-real-digest")
	err := verifyDigest(req, []byte(`{"hello":"world"}`))
	require.Error(t, err)
	ve, ok := err.(*signing.VerifyError)
	require.True(t, ok)
	assert.Equal(t, signing.ErrBadSignature, ve.Kind)
}

func TestVerifyDigest_MissingHeaderFails(t *testing.T) {
	req := httptest.NewRequest("PATCH", "/test_sets", nil)
	err := verifyDigest(req, []byte(`{}`))
	require.Error(t, err)
	ve, ok := err.(*signing.VerifyError)
	require.True(t, ok)
	assert.Equal(t, signing.ErrMissingMandatoryHeader, ve.Kind)
}

func TestVerifyDigest_MatchesBody(t *testing.T) {
	body := []byte(`{"packages":["demo"]}`)
	sum := sha256.Sum256(body)
	req := httptest.NewRequest("PATCH", "/environments/10.0.0.1/4900/installed", nil)
	req.Header.Set("Digest", "sha-256="+base64.StdEncoding.EncodeToString(sum[:]))
	assert.NoError(t, verifyDigest(req, body))
}
