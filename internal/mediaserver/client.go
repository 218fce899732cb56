// Package mediaserver talks to a Plex-compatible media server to list library
// items and to read and write the label that marks an item's poster as
// already enhanced.
package mediaserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMarker is the label written on items whose poster carries badges
const DefaultMarker = "posterbadge"

// ErrNotConfigured is returned when no server URL is set
var ErrNotConfigured = errors.New("media server not configured")

// Client is a minimal media server API client
type Client struct {
	baseURL    string
	token      string
	marker     string
	httpClient *http.Client
}

// NewClient creates a client. An empty marker uses DefaultMarker.
func NewClient(baseURL, token, marker string) *Client {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		marker:     marker,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Marker returns the label used to mark processed items
func (c *Client) Marker() string {
	return c.marker
}

type mediaContainer struct {
	MediaContainer struct {
		Metadata []metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type metadata struct {
	RatingKey string `json:"ratingKey"`
	Title     string `json:"title"`
	Label     []tag  `json:"Label"`
}

type tag struct {
	Tag string `json:"tag"`
}

// LibraryItems returns the ids of every item in a library section
func (c *Client) LibraryItems(ctx context.Context, libraryID string) ([]string, error) {
	var mc mediaContainer
	if err := c.get(ctx, "/library/sections/"+url.PathEscape(libraryID)+"/all", &mc); err != nil {
		return nil, fmt.Errorf("list library %s: %w", libraryID, err)
	}
	ids := make([]string, 0, len(mc.MediaContainer.Metadata))
	for _, m := range mc.MediaContainer.Metadata {
		ids = append(ids, m.RatingKey)
	}
	return ids, nil
}

// HasMarker reports whether the item carries the marker label
func (c *Client) HasMarker(ctx context.Context, itemID string) (bool, error) {
	var mc mediaContainer
	if err := c.get(ctx, "/library/metadata/"+url.PathEscape(itemID), &mc); err != nil {
		return false, fmt.Errorf("get item %s: %w", itemID, err)
	}
	for _, m := range mc.MediaContainer.Metadata {
		for _, l := range m.Label {
			if strings.EqualFold(l.Tag, c.marker) {
				return true, nil
			}
		}
	}
	return false, nil
}

// SetMarker adds the marker label to an item
func (c *Client) SetMarker(ctx context.Context, itemID string) error {
	q := url.Values{}
	q.Set("label[0].tag.tag", c.marker)
	q.Set("label.locked", "1")
	if err := c.put(ctx, "/library/metadata/"+url.PathEscape(itemID), q); err != nil {
		return fmt.Errorf("set marker on %s: %w", itemID, err)
	}
	return nil
}

// ClearMarker removes the marker label from an item
func (c *Client) ClearMarker(ctx context.Context, itemID string) error {
	q := url.Values{}
	q.Set("label[].tag.tag-", c.marker)
	if err := c.put(ctx, "/library/metadata/"+url.PathEscape(itemID), q); err != nil {
		return fmt.Errorf("clear marker on %s: %w", itemID, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, path string, q url.Values) error {
	resp, err := c.do(ctx, http.MethodPut, path, q)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-Plex-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("media server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
