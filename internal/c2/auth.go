package c2

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"

	"github.com/secchiware/secchiware/internal/httperr"
	"github.com/secchiware/secchiware/internal/replay"
	"github.com/secchiware/secchiware/pkg/signing"
)

const authRealm = "secchiware-c2"

// clientKeyID is the single identity a Client authenticates as, per spec §5:
// one shared secret for the whole Client role rather than per-operator keys.
const clientKeyID = "client"

func headerRecoverer(r *http.Request) signing.HeaderRecoverer {
	return func(name string) (string, bool) {
		if name == "host" {
			if r.Host == "" {
				return "", false
			}
			return r.Host, true
		}
		v := r.Header.Get(name)
		if v == "" {
			return "", false
		}
		return v, true
	}
}

// withFreshness prepends the mandatory "host" and "timestamp" headers
// required on every signed request by spec §4.1.
func withFreshness(mandatoryHeaders []string) []string {
	return append([]string{"host", "timestamp"}, mandatoryHeaders...)
}

// checkFreshnessAndReplay rejects stale timestamps and replays of a
// previously-accepted signature, per spec §4.1 and §8 scenario 6.
func (s *Server) checkFreshnessAndReplay(r *http.Request) error {
	params, err := signing.ParseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return err
	}
	return replay.Check(r.Context(), s.broker, r.Header.Get("timestamp"), params.Signature)
}

// verifyDigest recomputes sha-256 over body and compares it against the
// request's Digest header, required whenever a signed request carries a
// body (spec §4.1).
func verifyDigest(r *http.Request, body []byte) error {
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

// verifyClientRequest checks the Authorization header against the single
// Client shared secret, requiring mandatoryHeaders to be part of the signed
// set. When body is non-nil the Digest header is also verified.
func (s *Server) verifyClientRequest(r *http.Request, body []byte, mandatoryHeaders []string) error {
	keys := func(keyID string) ([]byte, bool) {
		if keyID != clientKeyID {
			return nil, false
		}
		return []byte(s.clientSecret), true
	}
	if err := signing.Verify(r.Header.Get("Authorization"), keys, headerRecoverer(r), r.Method, r.URL.Path, r.URL.RawQuery, withFreshness(mandatoryHeaders)); err != nil {
		return err
	}
	if err := s.checkFreshnessAndReplay(r); err != nil {
		return err
	}
	if body != nil {
		return verifyDigest(r, body)
	}
	return nil
}

// verifyNodeRequest checks the Authorization header against the shared
// secret registered for the request's keyId, restricted to known Node
// identities (spec §5's per-Node shared secret model).
func (s *Server) verifyNodeRequest(r *http.Request, body []byte, mandatoryHeaders []string) (string, error) {
	var matchedKeyID string
	keys := func(keyID string) ([]byte, bool) {
		secret, ok := s.nodeSecrets[keyID]
		if ok {
			matchedKeyID = keyID
		}
		return []byte(secret), ok
	}
	if err := signing.Verify(r.Header.Get("Authorization"), keys, headerRecoverer(r), r.Method, r.URL.Path, r.URL.RawQuery, withFreshness(mandatoryHeaders)); err != nil {
		return "", err
	}
	if err := s.checkFreshnessAndReplay(r); err != nil {
		return "", err
	}
	if body != nil {
		if err := verifyDigest(r, body); err != nil {
			return "", err
		}
	}
	return matchedKeyID, nil
}

// readAndVerifyClient reads the full body then authenticates the request as a
// Client, writing the appropriate error envelope and returning ok=false if
// verification fails.
func (s *Server) readAndVerifyClient(w http.ResponseWriter, r *http.Request, requireDigest bool) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeVerifyError(w, s.logger, err)
		return nil, false
	}
	mandatory := []string{}
	var digestBody []byte
	if requireDigest {
		mandatory = append(mandatory, "digest")
		digestBody = body
	}
	if err := s.verifyClientRequest(r, digestBody, mandatory); err != nil {
		writeVerifyError(w, s.logger, err)
		return nil, false
	}
	return body, true
}

func writeVerifyError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if ve, ok := err.(*signing.VerifyError); ok {
		switch ve.Kind {
		case signing.ErrUnknownKey, signing.ErrBadSignature, signing.ErrMissingMandatoryHeader:
			httperr.Unauthorized(w, logger, authRealm, err, ve.Error())
			return
		default:
			httperr.BadRequest(w, logger, err, ve.Error())
			return
		}
	}
	httperr.BadRequest(w, logger, err, err.Error())
}
