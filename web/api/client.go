package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hochfrequenz/posterbadge/internal/debugcapture"
	"github.com/hochfrequenz/posterbadge/internal/domain"
)

// JobResponse decodes every JobView variant into one struct
type JobResponse struct {
	domain.JobHeader
	QueuePosition      int        `json:"queue_position,omitempty"`
	QueuedSince        *time.Time `json:"queued_since,omitempty"`
	ProgressPercentage float64    `json:"progress_percentage"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
}

// Percentage returns the progress, computed from the counters when the
// server did not send it
func (j JobResponse) Percentage() float64 {
	if j.ProgressPercentage > 0 {
		return j.ProgressPercentage
	}
	return domain.Percentage(j.CompletedItems+j.FailedItems, j.TotalItems)
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code back to a domain error
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusConflict:
		return domain.ErrInvalidTransition
	}
	return nil
}

// Client talks to a running server
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the server address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateJob submits a new batch and returns its id
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (string, error) {
	var resp CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// ListJobs lists jobs, optionally filtered by status
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]JobResponse, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var jobs []JobResponse
	err := c.do(ctx, http.MethodGet, path, nil, &jobs)
	return jobs, err
}

// GetJob returns one job
func (c *Client) GetJob(ctx context.Context, id string) (*JobResponse, error) {
	var job JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Results returns the item results of a job
func (c *Client) Results(ctx context.Context, id string) ([]ItemResultResponse, error) {
	var results []ItemResultResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/results", nil, &results)
	return results, err
}

// DeleteJob removes a finished job
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// Control sends pause, resume, cancel or restart
func (c *Client) Control(ctx context.Context, id, action string) (*ControlResponse, error) {
	switch action {
	case "pause", "resume", "cancel", "restart":
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
	var resp ControlResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/"+action, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DebugEnable starts a debug capture session
func (c *Client) DebugEnable(ctx context.Context, minutes int) (*debugcapture.Session, error) {
	var s debugcapture.Session
	if err := c.do(ctx, http.MethodPost, "/api/debug/enable", DebugEnableRequest{DurationMinutes: minutes}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DebugDisable ends the running debug session
func (c *Client) DebugDisable(ctx context.Context) (*debugcapture.Status, error) {
	var st debugcapture.Status
	if err := c.do(ctx, http.MethodPost, "/api/debug/disable", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DebugStatus returns the debug capture state
func (c *Client) DebugStatus(ctx context.Context) (*debugcapture.Status, error) {
	var st debugcapture.Status
	if err := c.do(ctx, http.MethodGet, "/api/debug/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DebugSummary returns the captured request summary of a job
func (c *Client) DebugSummary(ctx context.Context, id string) (*debugcapture.Summary, error) {
	var s debugcapture.Summary
	if err := c.do(ctx, http.MethodGet, "/api/debug/jobs/"+url.PathEscape(id)+"/summary", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DebugLog downloads the captured requests of a job as JSON lines
func (c *Client) DebugLog(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/debug/jobs/"+url.PathEscape(id)+"/log", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// DebugCleanup removes captures older than days
func (c *Client) DebugCleanup(ctx context.Context, days int) (int, error) {
	var resp DebugCleanupResponse
	if err := c.do(ctx, http.MethodPost, "/api/debug/cleanup", DebugCleanupRequest{Days: days}, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// Health checks the server
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response of %s %s: %w", method, path, err)
	}
	return nil
}

// send performs a request and turns non-2xx answers into *APIError
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}
