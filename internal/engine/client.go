package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 2048

// Client calls a remote renderer over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates an engine client. A zero timeout defaults to 60s.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type enhanceRequest struct {
	ItemID     string   `json:"item_id"`
	BadgeTypes []string `json:"badge_types"`
}

// Enhance posts the item to the renderer's /enhance endpoint
func (c *Client) Enhance(ctx context.Context, itemID string, badgeTypes []string) (Result, error) {
	body, err := json.Marshal(enhanceRequest{ItemID: itemID, BadgeTypes: badgeTypes})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enhance", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build enhance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("enhance %s: %w", itemID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var result Result
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
			return Result{}, fmt.Errorf("decode enhance response: %w", err)
		}
	}
	return result, nil
}
