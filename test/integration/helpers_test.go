//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var env *Env

// Env holds shared state for all integration tests. The suite expects a
// running agent (and browser) reachable at TAB_AGENT_BASE_URL.
type Env struct {
	BaseURL string
	Client  *http.Client
}

func TestMain(m *testing.M) {
	base := os.Getenv("TAB_AGENT_BASE_URL")
	if base == "" {
		base = "http://127.0.0.1:8190"
	}
	env = &Env{
		BaseURL: base,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}

	resp, err := env.Client.Get(base + "/api/v1/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration: agent not reachable at %s: %v\n", base, err)
		os.Exit(1)
	}
	resp.Body.Close()

	os.Exit(m.Run())
}

// doJSON performs an HTTP request with a JSON body, returning the response.
func (e *Env) doJSON(method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.BaseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.Client.Do(req)
}

// GET performs a GET request, failing the test on transport errors.
func (e *Env) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.Client.Get(e.BaseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a POST request with a JSON body.
func (e *Env) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	resp, err := e.doJSON(http.MethodPost, path, body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// DELETE performs a DELETE request.
func (e *Env) DELETE(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.doJSON(http.MethodDelete, path, nil)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d; want %d; body: %s", resp.StatusCode, want, body)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}
