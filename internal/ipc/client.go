package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"talkreel/internal/httpapi"
	"talkreel/internal/tasks"
)

// ErrDaemonUnavailable reports that nothing answered at the API address.
var ErrDaemonUnavailable = errors.New("talkreel daemon is not reachable")

const maxResponseBytes = 8 << 20

// APIError is a non-2xx answer decoded from the error envelope.
type APIError struct {
	StatusCode int
	Message    string
	Hint       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Hint != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Hint)
	}
	return msg
}

// Client provides HTTP access to the daemon.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// Dial validates the base URL and prepares a client. No request is made.
func Dial(baseURL, token string) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		return nil, errors.New("daemon api url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse daemon api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("daemon api url %q must use http or https", raw)
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &Client{
		base:  parsed,
		token: strings.TrimSpace(token),
		http:  &http.Client{Transport: transport},
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c != nil && c.http != nil {
		c.http.CloseIdleConnections()
	}
	return nil
}

// Submit posts a job to /api/jobs.
func (c *Client) Submit(ctx context.Context, req httpapi.JobRequest) (*httpapi.SubmitResponse, error) {
	var resp httpapi.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TextToVideo posts to the dialogue shortcut endpoint.
func (c *Client) TextToVideo(ctx context.Context, req httpapi.JobRequest) (*httpapi.SubmitResponse, error) {
	var resp httpapi.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/text_to_video", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Progress fetches one task snapshot.
func (c *Client) Progress(ctx context.Context, id string) (*httpapi.ProgressResponse, error) {
	var resp httpapi.ProgressResponse
	if err := c.do(ctx, http.MethodGet, "/api/progress/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tasks lists recent tasks. A non-positive limit uses the server default.
func (c *Client) Tasks(ctx context.Context, limit int) (*httpapi.TaskListResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp httpapi.TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Personas returns the daemon's persona catalog.
func (c *Client) Personas(ctx context.Context) (*httpapi.PersonaResponse, error) {
	var resp httpapi.PersonaResponse
	if err := c.do(ctx, http.MethodGet, "/api/personas", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*httpapi.StatusResponse, error) {
	var resp httpapi.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForTask polls until the task leaves the running state or ctx ends.
// onUpdate, when set, sees every snapshot including the final one.
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration, onUpdate func(httpapi.TaskView)) (httpapi.TaskView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		resp, err := c.Progress(ctx, id)
		if err != nil {
			return httpapi.TaskView{}, err
		}
		if onUpdate != nil {
			onUpdate(resp.Task)
		}
		if resp.Task.Status != tasks.StatusRunning {
			return resp.Task, nil
		}
		select {
		case <-ctx.Done():
			return resp.Task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.base.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("%w at %s: %v", ErrDaemonUnavailable, c.base, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope httpapi.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil {
			apiErr.Message = envelope.Message
			apiErr.Hint = envelope.Hint
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
