package carectx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/neurocare/go-companion/internal/httpc"
)

// Client reads and patches the remote context store.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a context store client for the given base URL.
func NewClient(url string) *Client {
	return &Client{url: url, http: httpc.Client}
}

// Get fetches the current context.
func (c *Client) Get(ctx context.Context) (Context, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Context{}, fmt.Errorf("carectx: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Context{}, fmt.Errorf("carectx: get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Context{}, fmt.Errorf("carectx: get HTTP %d", resp.StatusCode)
	}

	var result Context
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Context{}, fmt.Errorf("carectx: decode: %w", err)
	}
	return result, nil
}

// Update posts a partial patch; the store merges it (shallow at the
// top level, nested for patient and caregiver) and returns the result.
func (c *Client) Update(ctx context.Context, patch Context) (Context, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return Context{}, fmt.Errorf("carectx: marshal patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Context{}, fmt.Errorf("carectx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Context{}, fmt.Errorf("carectx: update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Context{}, fmt.Errorf("carectx: update HTTP %d", resp.StatusCode)
	}

	var result Context
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Context{}, fmt.Errorf("carectx: decode: %w", err)
	}
	return result, nil
}
