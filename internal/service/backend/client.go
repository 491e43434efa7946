// Package backend is the HTTP client for the remote SoulBuddy services.
// Every call carries its own timeout; a timeout surfaces exactly like a
// transport error.
package backend

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

// Config points the client at the chat and user services.
type Config struct {
	ChatBaseURL    string
	MoodBaseURL    string
	UserID         string
	AccessToken    string
	ChatTimeout    time.Duration
	PhotoTimeout   time.Duration
	MoodTimeout    time.Duration
	ProfileTimeout time.Duration
}

// DefaultConfig returns local-development endpoints and timeouts.
func DefaultConfig() Config {
	return Config{
		ChatBaseURL:    "http://localhost:8001/api/v1",
		MoodBaseURL:    "http://localhost:8004/users",
		ChatTimeout:    15 * time.Second,
		PhotoTimeout:   30 * time.Second,
		MoodTimeout:    5 * time.Second,
		ProfileTimeout: 5 * time.Second,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the remote services.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	defaults := DefaultConfig()
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = defaults.ChatTimeout
	}
	if cfg.PhotoTimeout <= 0 {
		cfg.PhotoTimeout = defaults.PhotoTimeout
	}
	if cfg.MoodTimeout <= 0 {
		cfg.MoodTimeout = defaults.MoodTimeout
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = defaults.ProfileTimeout
	}
	cfg.ChatBaseURL = strings.TrimRight(cfg.ChatBaseURL, "/")
	cfg.MoodBaseURL = strings.TrimRight(cfg.MoodBaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// UserID returns the configured user id.
func (c *Client) UserID() string {
	return c.cfg.UserID
}

type call struct {
	op          string
	method      string
	url         string
	timeout     time.Duration
	body        io.Reader
	contentType string
	auth        bool
}

// do runs the request and decodes a JSON body into out (when non-nil).
// It returns the HTTP status so callers can react to 202.
func (c *Client) do(ctx context.Context, req call, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, req.body)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.auth && c.cfg.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", req.op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%s: read body: %w", req.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{Op: req.op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode response: %w", req.op, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) postJSON(ctx context.Context, op, url string, timeout time.Duration, auth bool, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	return c.do(ctx, call{
		op:          op,
		method:      http.MethodPost,
		url:         url,
		timeout:     timeout,
		body:        body,
		contentType: "application/json",
		auth:        auth,
	}, out)
}

func (c *Client) getJSON(ctx context.Context, op, url string, timeout time.Duration, auth bool, out any) error {
	_, err := c.do(ctx, call{
		op:      op,
		method:  http.MethodGet,
		url:     url,
		timeout: timeout,
		auth:    auth,
	}, out)
	return err
}
