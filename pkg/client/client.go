// Package client provides HTTP client functionality to communicate with a
// running evolve daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const apiKeyHeader = "x-api-key"

// Client talks to the evolve daemon's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string // e.g. "http://127.0.0.1:8787/api"
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8787/api",
		Timeout: 10 * time.Second,
	}
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// Proposal mirrors one queue entry as returned by the daemon.
type Proposal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	LogPath   string    `json:"log_path,omitempty"`
}

// ApplyResult mirrors the daemon's apply response.
type ApplyResult struct {
	Status     string `json:"status"`
	ProposalID string `json:"proposal_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	LogPath    string `json:"log_path,omitempty"`
}

// List returns all proposals, newest first.
func (c *Client) List(ctx context.Context) ([]Proposal, error) {
	var out struct {
		Proposals []Proposal `json:"proposals"`
	}
	if err := c.do(ctx, http.MethodGet, "/proposals", nil, &out); err != nil {
		return nil, err
	}
	return out.Proposals, nil
}

// Propose queues a new proposal and returns its id.
func (c *Client) Propose(ctx context.Context, title, payload string) (string, error) {
	body := map[string]string{"title": title, "payload": payload}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/proposals", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ApplyLatest asks the daemon to apply the newest pending proposal. The call
// is synchronous; a skipped or failed apply is reported in the result, not
// as an error.
func (c *Client) ApplyLatest(ctx context.Context) (ApplyResult, error) {
	var out ApplyResult
	if err := c.do(ctx, http.MethodPost, "/apply", nil, &out); err != nil {
		return ApplyResult{}, err
	}
	return out, nil
}

// WatchdogTick runs one health pass on the daemon side.
func (c *Client) WatchdogTick(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/watchdog/tick", nil, nil)
}

// Selftest runs the daemon's self-test suite and returns its diagnostic
// output. A failing suite is reported with ok=false, not as an error.
func (c *Client) Selftest(ctx context.Context) (ok bool, output string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/selftest", nil)
	if err != nil {
		return false, "", err
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	// The daemon answers 503 for a failing suite with the same body shape.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return false, "", fmt.Errorf("daemon error: status %d", resp.StatusCode)
	}
	var out struct {
		OK     bool   `json:"ok"`
		Output string `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", err
	}
	return out.OK, out.Output, nil
}

// IsReachable checks if the daemon is running and answering.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/proposals", nil, nil)
	return err == nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp struct {
			Error string `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&errResp); derr == nil && errResp.Error != "" {
			return fmt.Errorf("daemon error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("daemon error: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
