package c2

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/secchiware/secchiware/pkg/signing"
)

// forwardResult carries the Node's response body and status back to the
// handler, already drained so the connection can be closed eagerly.
type forwardResult struct {
	Status int
	Body   []byte
	Header http.Header
}

// forwardToNode issues method against the Node at ip:port, signing the
// request with the C2's own keyId and secret, and
// returns a classified error when the Node could not be reached at all
// (caller maps that to 504 per spec §7's Unreachable category).
func (s *Server) forwardToNode(ctx context.Context, ip string, port int, method, path, query string, body []byte) (*forwardResult, error) {
	url := fmt.Sprintf("http://%s:%d%s", ip, port, path)
	if query != "" {
		url += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("c2: building forward request: %w", err)
	}

	headers := []string{"host", "timestamp"}
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		digest := "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
		req.Header.Set("Digest", digest)
		req.Header.Set("Content-Type", "application/octet-stream")
		headers = append(headers, "digest")
	}
	if req.Host == "" {
		req.Host = req.URL.Host
	}
	req.Header.Set("timestamp", time.Now().UTC().Format(time.RFC3339))

	recover := func(name string) (string, bool) {
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
	sig, err := signing.NewSignature([]byte(s.c2Secret), method, path, query, headers, recover)
	if err != nil {
		return nil, fmt.Errorf("c2: signing forward request: %w", err)
	}
	req.Header.Set("Authorization", signing.NewAuthorizationHeader(s.c2KeyID, sig, headers))

	resp, err := s.nodeClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errNodeTimeout
		}
		return nil, errNodeUnreachable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("c2: reading node response: %w", err)
	}
	return &forwardResult{Status: resp.StatusCode, Body: respBody, Header: resp.Header}, nil
}

// forwardBundleToNode pushes a tar.gz test-package bundle to a Node's
// PATCH /test_sets, encoded as multipart/form-data with a "packages" file
// field, matching the reference Node's upload contract (node.py expects
// request.files['packages']).
func (s *Server) forwardBundleToNode(ctx context.Context, ip string, port int, bundle []byte) (*forwardResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("packages", "bundle.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("c2: building multipart body: %w", err)
	}
	if _, err := part.Write(bundle); err != nil {
		return nil, fmt.Errorf("c2: writing multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("c2: closing multipart body: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/test_sets", ip, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("c2: building forward request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	sum := sha256.Sum256(buf.Bytes())
	digest := "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
	req.Header.Set("Digest", digest)
	if req.Host == "" {
		req.Host = req.URL.Host
	}
	req.Header.Set("timestamp", time.Now().UTC().Format(time.RFC3339))

	headers := []string{"host", "timestamp", "digest"}
	recover := func(name string) (string, bool) {
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
	sig, err := signing.NewSignature([]byte(s.c2Secret), http.MethodPatch, "/test_sets", "", headers, recover)
	if err != nil {
		return nil, fmt.Errorf("c2: signing forward request: %w", err)
	}
	req.Header.Set("Authorization", signing.NewAuthorizationHeader(s.c2KeyID, sig, headers))

	resp, err := s.nodeClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errNodeTimeout
		}
		return nil, errNodeUnreachable
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("c2: reading node response: %w", err)
	}
	return &forwardResult{Status: resp.StatusCode, Body: respBody, Header: resp.Header}, nil
}

// errNodeTimeout and errNodeUnreachable classify transport failures talking
// to a Node; both map to 504 per spec §7's "Unreachable" category (timeout
// or connection refused).
var (
	errNodeTimeout     = errors.New("c2: node request timed out")
	errNodeUnreachable = errors.New("c2: node unreachable")
)
