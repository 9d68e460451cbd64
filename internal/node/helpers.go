package node

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/secchiware/secchiware/pkg/signing"
)

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("node: failed to encode response", slog.String("error", err.Error()))
	}
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// verifyDigestBytes recomputes sha-256 over body and compares it against
// the request's Digest header.
func verifyDigestBytes(r *http.Request, body []byte) error {
	header := r.Header.Get("Digest")
	if header == "" {
		return signing.NewVerifyError(signing.ErrMissingMandatoryHeader, "missing Digest header")
	}
	sum := sha256.Sum256(body)
	expected := "sha-256=" + base64.StdEncoding.EncodeToString(sum[:])
	if header != expected {
		return signing.NewVerifyError(signing.ErrBadSignature, "digest does not match body")
	}
	return nil
}

func removePackageDir(root, pkg string) error {
	dir := filepath.Join(root, pkg)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("node: stat package %q: %w", pkg, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("node: %q is not a directory", pkg)
	}
	return os.RemoveAll(dir)
}
