package node

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/secchiware/secchiware/internal/config"
	"github.com/secchiware/secchiware/pkg/signing"
)

// C2Client drives this Node's registration lifecycle against its C2,
// grounded on the reference node.py's connect_to_c2/exit_gracefully pair.
type C2Client struct {
	cfg    *config.NodeConfig
	client *http.Client
	logger *slog.Logger
}

func NewC2Client(cfg *config.NodeConfig, logger *slog.Logger) *C2Client {
	return &C2Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout()}, logger: logger}
}

type registerBody struct {
	IP       string      `json:"ip"`
	Port     int         `json:"port"`
	Platform interface{} `json:"platform"`
}

// Connect registers this Node with its C2. A connection failure is not
// fatal: the Node falls back to standalone mode, matching the reference
// implementation's "Connection refused -> run installed tests locally"
// behavior (the standalone run itself lives in cmd/node).
func (c *C2Client) Connect(ctx context.Context, platform interface{}) (connected bool, err error) {
	body, err := json.Marshal(registerBody{IP: c.cfg.ListenIP, Port: c.cfg.ListenPort, Platform: platform})
	if err != nil {
		return false, fmt.Errorf("node: encoding registration body: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/environments", c.cfg.C2Host, c.cfg.C2Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("node: building registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.sign(req, body); err != nil {
		return false, fmt.Errorf("node: signing registration request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("node: could not reach c2, falling back to standalone mode", slog.String("error", err.Error()))
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("node: c2 rejected registration with status %d", resp.StatusCode)
	}
	return true, nil
}

// Disconnect unregisters this Node from its C2, per exit_gracefully.
func (c *C2Client) Disconnect(ctx context.Context) error {
	path := fmt.Sprintf("/environments/%s/%d", c.cfg.ListenIP, c.cfg.ListenPort)
	url := fmt.Sprintf("http://%s:%d%s", c.cfg.C2Host, c.cfg.C2Port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("node: building disconnect request: %w", err)
	}
	if err := c.sign(req, nil); err != nil {
		return fmt.Errorf("node: signing disconnect request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("node: could not contact c2 to unregister: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("node: c2 rejected unregistration with status %d", resp.StatusCode)
	}
	return nil
}

func (c *C2Client) sign(req *http.Request, body []byte) error {
	headers := []string{"host", "timestamp"}
	if body != nil {
		sum := sha256.Sum256(body)
		req.Header.Set("Digest", "sha-256="+base64.StdEncoding.EncodeToString(sum[:]))
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
	sig, err := signing.NewSignature([]byte(c.cfg.Secret), req.Method, req.URL.Path, req.URL.RawQuery, headers, recover)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", signing.NewAuthorizationHeader(c.cfg.KeyID, sig, headers))
	return nil
}
