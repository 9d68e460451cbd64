// Command c2cli is a reference Client for the Secchiware C2: it lists
// environments, pushes test-package bundles, and triggers/reads reports over
// the signed HTTP API. Grounded on the teacher's urfave/cli-based CLI
// structure (perfgo-perfgo's cli.App) and its automation/runner.go HTTP
// client conventions (multipart uploads, JSON decoding of API responses).
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/secchiware/secchiware/pkg/signing"
)

const clientKeyID = "client"

type app struct {
	baseURL string
	secret  []byte
	client  *http.Client
}

func main() {
	_ = godotenv.Load()

	a := &app{
		baseURL: getenv("C2_URL", "http://localhost:5000"),
		secret:  []byte(os.Getenv("CLIENT_SECRET")),
		client:  &http.Client{Timeout: 30 * time.Second},
	}

	cliApp := &cli.App{
		Name:  "c2cli",
		Usage: "drive a Secchiware C2 from the command line",
		Commands: []*cli.Command{
			{
				Name:   "environments",
				Usage:  "list active analysis environments",
				Action: a.listEnvironments,
			},
			{
				Name:      "push",
				Usage:     "push a test-package bundle to the C2's repository",
				ArgsUsage: "<bundle.tar.gz>",
				Action:    a.pushBundle,
			},
			{
				Name:      "install",
				Usage:     "install packages from the repository onto a node",
				ArgsUsage: "<ip> <port> <package...>",
				Action:    a.installPackages,
			},
			{
				Name:      "reports",
				Usage:     "trigger and fetch test reports from a node",
				ArgsUsage: "<ip> <port>",
				Action:    a.reports,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func (a *app) signedRequest(method, path string, body []byte, contentType string) (*http.Response, error) {
	req, err := http.NewRequest(method, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	headers := []string{"host", "timestamp"}
	if body != nil {
		sum := sha256.Sum256(body)
		req.Header.Set("Digest", "sha-256="+base64.StdEncoding.EncodeToString(sum[:]))
		headers = append(headers, "digest")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
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
	sig, err := signing.NewSignature(a.secret, method, req.URL.Path, req.URL.RawQuery, headers, recover)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", signing.NewAuthorizationHeader(clientKeyID, sig, headers))
	return a.client.Do(req)
}

func (a *app) listEnvironments(ctx *cli.Context) error {
	resp, err := http.Get(a.baseURL + "/environments")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp)
}

func (a *app) pushBundle(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one bundle path")
	}
	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	resp, err := a.signedRequest(http.MethodPatch, "/test_sets", data, "application/gzip")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp)
}

func (a *app) installPackages(ctx *cli.Context) error {
	if ctx.Args().Len() < 3 {
		return fmt.Errorf("usage: install <ip> <port> <package...>")
	}
	args := ctx.Args().Slice()
	ip, port := args[0], args[1]
	packages := args[2:]

	body, err := json.Marshal(map[string]interface{}{"packages": packages})
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/environments/%s/%s/installed", ip, port)
	resp, err := a.signedRequest(http.MethodPatch, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp)
}

func (a *app) reports(ctx *cli.Context) error {
	if ctx.Args().Len() != 2 {
		return fmt.Errorf("usage: reports <ip> <port>")
	}
	ip, port := ctx.Args().Get(0), ctx.Args().Get(1)
	path := fmt.Sprintf("/environments/%s/%s/reports", ip, port)
	resp, err := http.Get(a.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp)
}

func printJSON(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}
