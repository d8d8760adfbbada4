// Package vault talks to the note vault's Local REST API.
package vault

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	probeTimeout = 5 * time.Second
	writeTimeout = 10 * time.Second
	maxErrorBody = 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// VaultError is returned when the vault answers a write with a non-2xx status.
type VaultError struct {
	Status int
	Body   string
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("vault write failed (HTTP %d): %s", e.Status, e.Body)
}

// Client writes notes into the vault.
type Client struct {
	client  HTTPClient
	baseURL string
	apiKey  string
}

// New creates a Client for the API rooted at baseURL.
func New(client HTTPClient, baseURL, apiKey string) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Probe reports whether the vault API is reachable and answering with 2xx.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return isSuccess(resp.StatusCode)
}

// WriteNote creates or replaces the note at path.
func (c *Client) WriteNote(ctx context.Context, path, content string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"vault/"+EscapePath(path), strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/markdown")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("put note: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &VaultError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// EscapePath escapes each segment of a vault path, keeping the separators.
func EscapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
