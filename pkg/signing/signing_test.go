package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalString_NoQueryNoHeaders(t *testing.T) {
	got, err := CanonicalString("GET", "/environments", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "get\n/environments", got)
}

func TestCanonicalString_WithQueryAndHeaders(t *testing.T) {
	headers := map[string]string{"digest": "sha-256=abc123="}
	got, err := CanonicalString(
		"PATCH", "/test_sets", "packages=a b",
		[]string{"Digest"},
		func(name string) (string, bool) { v, ok := headers[name]; return v, ok },
	)
	require.NoError(t, err)
	assert.Equal(t, "patch\n/test_sets\npackages%3Da%20b\ndigest: sha-256=abc123=", got)
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	key := []byte("shared-secret")
	canonical, err := CanonicalString("GET", "/environments", "", nil, nil)
	require.NoError(t, err)
	sig := Sign(key, canonical)

	header := NewAuthorizationHeader("node-1", sig, nil)
	err = Verify(header,
		func(keyID string) ([]byte, bool) {
			if keyID == "node-1" {
				return key, true
			}
			return nil, false
		},
		nil, "GET", "/environments", "", nil)
	assert.NoError(t, err)
}

func TestVerify_WithSignedHeaders(t *testing.T) {
	key := []byte("secret")
	headerValues := map[string]string{"digest": "sha-256=deadbeef="}
	recover := func(name string) (string, bool) { v, ok := headerValues[name]; return v, ok }

	sig, err := NewSignature(key, "PATCH", "/test_sets", "", []string{"Digest"}, recover)
	require.NoError(t, err)
	header := NewAuthorizationHeader("C2", sig, []string{"Digest"})

	err = Verify(header,
		func(keyID string) ([]byte, bool) {
			if keyID == "C2" {
				return key, true
			}
			return nil, false
		},
		recover, "PATCH", "/test_sets", "", []string{"Digest"})
	assert.NoError(t, err)
}

func TestVerify_MissingMandatoryHeader(t *testing.T) {
	key := []byte("secret")
	sig := Sign(key, "get\n/x")
	header := NewAuthorizationHeader("node-1", sig, nil)

	err := Verify(header,
		func(string) ([]byte, bool) { return key, true },
		nil, "GET", "/x", "", []string{"Digest"})
	require.Error(t, err)
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrMissingMandatoryHeader, verr.Kind)
}

func TestVerify_UnknownKey(t *testing.T) {
	header := NewAuthorizationHeader("ghost", "irrelevant", nil)
	err := Verify(header,
		func(string) ([]byte, bool) { return nil, false },
		nil, "GET", "/x", "", nil)
	require.Error(t, err)
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrUnknownKey, verr.Kind)
}

func TestVerify_BadSignature(t *testing.T) {
	key := []byte("secret")
	header := NewAuthorizationHeader("node-1", "bm90LWEtcmVhbC1zaWc=", nil)
	err := Verify(header,
		func(string) ([]byte, bool) { return key, true },
		nil, "GET", "/x", "", nil)
	require.Error(t, err)
	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrBadSignature, verr.Kind)
}

func TestParseAuthorizationHeader_Malformed(t *testing.T) {
	_, err := ParseAuthorizationHeader("Bearer abc")
	require.Error(t, err)
}
