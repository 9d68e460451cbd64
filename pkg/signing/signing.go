// Package signing implements the SECCHIWARE-HMAC-256 request authentication
// scheme: canonicalization of an HTTP request into a signing string, HMAC-SHA256
// signature generation, and Authorization header encoding/decoding.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const scheme = "SECCHIWARE-HMAC-256"

// HeaderRecoverer returns the value of the named header (lowercase name) for
// the request being signed or verified, and whether it is present.
type HeaderRecoverer func(name string) (string, bool)

// KeyRecoverer resolves a keyId to its shared secret, or ok=false if unknown.
type KeyRecoverer func(keyID string) (key []byte, ok bool)

// CanonicalString builds the signing string per the algorithm:
//
//	lower(method) '\n'
//	canonicalURI '\n'
//	[urlencode(query) '\n']
//	for each header: lower(name) ": " value '\n'
//
// with the trailing newline of the last line stripped.
func CanonicalString(method, canonicalURI, query string, headers []string, recover HeaderRecoverer) (string, error) {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	b.WriteByte('\n')
	b.WriteString(canonicalURI)
	b.WriteByte('\n')

	if query != "" {
		b.WriteString(quote(query))
		b.WriteByte('\n')
	}

	for _, h := range headers {
		h = strings.ToLower(h)
		if recover == nil {
			return "", fmt.Errorf("signing: header_recoverer is nil but headers were requested")
		}
		value, ok := recover(h)
		if !ok {
			return "", fmt.Errorf("signing: header %q not present", h)
		}
		b.WriteString(h)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

// quote percent-encodes s the way Python's urllib.parse.quote does with its
// default safe="/": letters, digits, "_.-~" and "/" pass through unescaped;
// everything else, including space, is percent-encoded (space = %20, never
// "+"). net/url's QueryEscape encodes space as "+" instead, which does not
// match the reference implementation's urllib.parse.quote call.
func quote(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedOrSlash(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isUnreservedOrSlash(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-' || c == '~' || c == '/':
		return true
	default:
		return false
	}
}

// Sign computes the base64-encoded HMAC-SHA256 digest of the canonical string.
func Sign(key []byte, canonical string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// NewSignature is a convenience wrapper composing CanonicalString and Sign.
func NewSignature(key []byte, method, canonicalURI, query string, headers []string, recover HeaderRecoverer) (string, error) {
	canonical, err := CanonicalString(method, canonicalURI, query, headers, recover)
	if err != nil {
		return "", err
	}
	return Sign(key, canonical), nil
}

// NewAuthorizationHeader renders the value of an Authorization header for the
// scheme:
//
//	SECCHIWARE-HMAC-256 keyId={kid},[headers={h1;h2;...},]signature={sgn}
func NewAuthorizationHeader(keyID, signature string, headers []string) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(" keyId=")
	b.WriteString(keyID)
	b.WriteByte(',')
	if len(headers) > 0 {
		lower := make([]string, len(headers))
		for i, h := range headers {
			lower[i] = strings.ToLower(h)
		}
		b.WriteString("headers=")
		b.WriteString(strings.Join(lower, ";"))
		b.WriteByte(',')
	}
	b.WriteString("signature=")
	b.WriteString(signature)
	return b.String()
}

// Params is a parsed Authorization header value.
type Params struct {
	KeyID     string
	Headers   []string
	Signature string
}

// ParseAuthorizationHeader parses the raw header value into its parameters,
// without validating the signature itself.
func ParseAuthorizationHeader(value string) (Params, error) {
	if !strings.HasPrefix(value, scheme) {
		return Params{}, &VerifyError{Kind: ErrMalformed, msg: "invalid signature algorithm"}
	}
	rest := strings.TrimSpace(strings.TrimPrefix(value, scheme))
	parts := strings.Split(rest, ",")
	if len(parts) == 0 {
		return Params{}, &VerifyError{Kind: ErrMalformed, msg: "missing authorization parameters"}
	}

	var p Params
	idx := 0
	if !strings.HasPrefix(parts[idx], "keyId=") {
		return Params{}, &VerifyError{Kind: ErrMalformed, msg: "missing 'keyId' authorization parameter"}
	}
	p.KeyID = strings.TrimPrefix(parts[idx], "keyId=")
	idx++

	if idx < len(parts) && strings.HasPrefix(parts[idx], "headers=") {
		headerList := strings.TrimPrefix(parts[idx], "headers=")
		p.Headers = strings.Split(headerList, ";")
		idx++
	}

	if idx >= len(parts) || !strings.HasPrefix(parts[idx], "signature=") {
		return Params{}, &VerifyError{Kind: ErrMalformed, msg: "missing 'signature' authorization parameter"}
	}
	p.Signature = strings.TrimPrefix(parts[idx], "signature=")
	return p, nil
}

// ErrKind classifies a verification failure so the HTTP layer can choose the
// right status code (malformed/unknown-key -> 400/401, bad signature -> 401).
type ErrKind int

const (
	ErrMalformed ErrKind = iota
	ErrUnknownKey
	ErrMissingMandatoryHeader
	ErrBadSignature
)

// VerifyError carries the classification alongside a human-readable message.
type VerifyError struct {
	Kind ErrKind
	msg  string
}

func (e *VerifyError) Error() string { return e.msg }

// NewVerifyError constructs a VerifyError for callers outside this package
// that need to report the same failure taxonomy (e.g. a Digest mismatch
// caught by the HTTP layer rather than by Verify itself).
func NewVerifyError(kind ErrKind, msg string) *VerifyError {
	return &VerifyError{Kind: kind, msg: msg}
}

// Verify checks an incoming Authorization header value against the request
// it was supposed to sign. mandatoryHeaders lists header names the endpoint
// requires to be part of the signed set (e.g. "Digest").
func Verify(authorizationHeader string, keys KeyRecoverer, headers HeaderRecoverer, method, canonicalURI, query string, mandatoryHeaders []string) error {
	params, err := ParseAuthorizationHeader(authorizationHeader)
	if err != nil {
		return err
	}

	key, ok := keys(params.KeyID)
	if !ok {
		return &VerifyError{Kind: ErrUnknownKey, msg: "no key matches the given keyId"}
	}

	if len(params.Headers) > 0 {
		present := make(map[string]struct{}, len(params.Headers))
		for _, h := range params.Headers {
			present[strings.ToLower(h)] = struct{}{}
		}
		var missing []string
		for _, m := range mandatoryHeaders {
			if _, ok := present[strings.ToLower(m)]; !ok {
				missing = append(missing, strings.ToLower(m))
			}
		}
		if len(missing) > 0 {
			return &VerifyError{Kind: ErrMissingMandatoryHeader, msg: fmt.Sprintf("mandatory header(s) not specified: %s", strings.Join(missing, ","))}
		}
	} else if len(mandatoryHeaders) > 0 {
		return &VerifyError{Kind: ErrMissingMandatoryHeader, msg: fmt.Sprintf("mandatory header(s) not specified: %s", strings.Join(mandatoryHeaders, ","))}
	}

	expected, err := NewSignature(key, method, canonicalURI, query, params.Headers, headers)
	if err != nil {
		return &VerifyError{Kind: ErrMalformed, msg: err.Error()}
	}

	// Constant-time comparison: an intentional hardening over the reference
	// implementation's plain string equality.
	if !hmac.Equal([]byte(expected), []byte(params.Signature)) {
		return &VerifyError{Kind: ErrBadSignature, msg: "invalid signature"}
	}
	return nil
}
