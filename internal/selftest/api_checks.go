package selftest

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiKeyHeader = "x-api-key"

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// ProtectedEndpointCheck verifies the deployment's API enforces its key
// scheme: an unauthenticated request to a protected path is rejected, an
// authenticated health request succeeds.
type ProtectedEndpointCheck struct {
	BaseURL string
	APIKey  string
	Path    string // protected path, default "/health"
	Timeout time.Duration
}

func (c ProtectedEndpointCheck) Name() string { return "protected-endpoint" }

func (c ProtectedEndpointCheck) Run(ctx context.Context) error {
	path := c.Path
	if path == "" {
		path = "/health"
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	client := httpClient(c.Timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("unauthenticated request: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return fmt.Errorf("unauthenticated %s returned %d, want 401/403", path, resp.StatusCode)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, c.APIKey)
	resp, err = client.Do(req)
	if err != nil {
		return fmt.Errorf("authenticated request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authenticated %s returned %d, want 200", path, resp.StatusCode)
	}
	return nil
}

// PinnedOverrideCheck teaches the deployment a pinned fact carrying a random
// nonce, asks it back, and requires the nonce in the answer. This proves the
// teach/ask pipeline works end to end and that pinned facts actually
// override generated answers.
type PinnedOverrideCheck struct {
	BaseURL string
	APIKey  string
	Topic   string // default "selfcheck-pinned"
	Timeout time.Duration
}

func (c PinnedOverrideCheck) Name() string { return "pinned-override" }

func (c PinnedOverrideCheck) Run(ctx context.Context) error {
	topic := c.Topic
	if topic == "" {
		topic = "selfcheck-pinned"
	}
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	marker := "pin-" + hex.EncodeToString(nonce)
	client := httpClient(c.Timeout)
	base := strings.TrimRight(c.BaseURL, "/")

	teach := map[string]any{"topic": topic, "text": marker, "pinned": true}
	if _, err := c.post(ctx, client, base+"/teach", teach); err != nil {
		return fmt.Errorf("teach: %w", err)
	}
	answer, err := c.post(ctx, client, base+"/ask", map[string]any{"question": topic})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if !strings.Contains(answer, marker) {
		return fmt.Errorf("pinned marker %s missing from answer", marker)
	}
	return nil
}

func (c PinnedOverrideCheck) post(ctx context.Context, client *http.Client, url string, body map[string]any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.APIKey)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
