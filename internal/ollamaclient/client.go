// Package ollamaclient is a small HTTP client for an optional remote model
// catalog: a plain file server or index that lists downloadable .rkllm
// artifacts. Disabled unless model_catalog.base_url is configured. This is
// not the Ollama registry protocol — it's a thin JSON listing + streamed
// download, grounded on the teacher's HTTP-client idiom (context-scoped
// requests, a shared *http.Client, typed response structs).
package ollamaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Client talks to a remote catalog server at BaseURL.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// NewClient creates a Client pointing at baseURL (e.g. "https://models.example.com").
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		httpClient: &http.Client{Timeout: 0},
	}
}

// Entry is one listed catalog artifact.
type Entry struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	SizeBytes  int64  `json:"size_bytes"`
	ContextLen int    `json:"context_len"`
}

// List fetches the catalog's model index.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollamaclient: list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollamaclient: catalog %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Models []Entry `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollamaclient: decode catalog: %w", err)
	}
	return out.Models, nil
}

// Download streams entry's artifact into destDir/{entry.Name}/{entry.Name}.rkllm,
// creating the model's folder as the registry expects.
func (c *Client) Download(ctx context.Context, entry Entry, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollamaclient: download %s: %w", entry.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollamaclient: download %s: %d: %s", entry.Name, resp.StatusCode, string(b))
	}

	modelDir := filepath.Join(destDir, entry.Name)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("ollamaclient: mkdir %s: %w", modelDir, err)
	}

	dest := filepath.Join(modelDir, entry.Name+".rkllm")
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("ollamaclient: create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("ollamaclient: write %s: %w", dest, err)
	}
	return dest, nil
}
