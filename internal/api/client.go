package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"genflow/internal/engine"
)

// ErrNotFound is returned by Client methods when the daemon answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx daemon response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Code)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the daemon listening on bind (host:port or a
// full URL). An empty token sends no Authorization header.
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// Submit starts a generation and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/generations", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Cancel cancels a queued or active generation.
func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	var resp CancelResponse
	if err := c.do(ctx, http.MethodDelete, "/api/generations/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// Retry clones a failed generation. It returns ErrNotRetryable when the record
// is missing or did not fail.
func (c *Client) Retry(ctx context.Context, id string) (string, error) {
	var resp RetryResponse
	err := c.do(ctx, http.MethodPost, "/api/generations/"+url.PathEscape(id)+"/retry", nil, nil, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict {
		return "", fmt.Errorf("%w: %s", ErrNotRetryable, statusErr.Message)
	}
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ErrNotRetryable reports a retry of a record that is missing or not failed.
var ErrNotRetryable = errors.New("generation is not retryable")

// Describe reports where a generation lives.
func (c *Client) Describe(ctx context.Context, id string) (GenerationResponse, error) {
	var resp GenerationResponse
	err := c.do(ctx, http.MethodGet, "/api/generations/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// Active lists executing generations and queued ids.
func (c *Client) Active(ctx context.Context) (ActiveListResponse, error) {
	var resp ActiveListResponse
	err := c.do(ctx, http.MethodGet, "/api/active", nil, nil, &resp)
	return resp, err
}

// Stream returns the text streamed so far by a generation.
func (c *Client) Stream(ctx context.Context, id string) (StreamResponse, error) {
	var resp StreamResponse
	err := c.do(ctx, http.MethodGet, "/api/active/"+url.PathEscape(id)+"/stream", nil, nil, &resp)
	return resp, err
}

// History queries terminal records.
func (c *Client) History(ctx context.Context, f engine.Filter) (HistoryResponse, error) {
	var resp HistoryResponse
	err := c.do(ctx, http.MethodGet, "/api/history", EncodeFilter(f), nil, &resp)
	return resp, err
}

// Stats returns history aggregates.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, nil, &resp)
	return resp, err
}

// Status returns daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp)
	return resp, err
}

// Events fetches lifecycle events after since. With wait set the daemon holds
// the request until an event arrives.
func (c *Client) Events(ctx context.Context, since uint64, limit int, wait bool) (EventStreamResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if wait {
		query.Set("wait", "1")
	}
	var resp EventStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/events", query, nil, &resp)
	return resp, err
}

// Logs tails the daemon log file. A negative offset returns the last limit
// lines; wait asks the daemon to hold the request until new lines arrive.
func (c *Client) Logs(ctx context.Context, offset int64, limit int, wait bool) (LogTailResponse, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if wait {
		query.Set("wait", "1")
	}
	var resp LogTailResponse
	err := c.do(ctx, http.MethodGet, "/api/logs", query, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
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
		return fmt.Errorf("connect to daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
