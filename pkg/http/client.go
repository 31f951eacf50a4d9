package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// StatusError is returned by SendAndParse for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the upstream may succeed on retry.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// ClientOption configures Client.
type ClientOption func(*Client)

// RequestOptions holds HTTP request parameters.
type RequestOptions struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string][]string
	Body        interface{}
}

// Client is a JSON HTTP client with a per-attempt timeout and bounded
// retries on transport errors and temporary statuses.
type Client struct {
	timeout   time.Duration
	retries   int
	backoff   time.Duration
	transport http.RoundTripper
	client    *http.Client
}

// NewClient creates a new HTTP client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		timeout: 30 * time.Second,
		backoff: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.client = &http.Client{Timeout: c.timeout, Transport: c.transport}
	return c
}

// SendAndParse sends the request and decodes a JSON response into dest
// (or copies raw bytes when dest is *[]byte).
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	body, err := encodeBody(opts.Body)
	if err != nil {
		return fmt.Errorf("create body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(c.backoff * time.Duration(1<<(attempt-1))):
			}
		}
		var retry bool
		retry, lastErr = c.once(ctx, opts, body, dest)
		if lastErr == nil || !retry || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// once performs a single attempt and reports whether a failure is worth
// retrying.
func (c *Client) once(ctx context.Context, opts *RequestOptions, body []byte, dest interface{}) (bool, error) {
	req, err := c.buildRequest(ctx, opts, body)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		se := &StatusError{Code: resp.StatusCode, Body: string(b)}
		return se.Temporary(), se
	}

	switch v := dest.(type) {
	case nil:
		return false, nil
	case *[]byte:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return true, fmt.Errorf("read body: %w", err)
		}
		*v = b
	default:
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return false, fmt.Errorf("decode json: %w", err)
		}
	}
	return false, nil
}

func (c *Client) buildRequest(ctx context.Context, opts *RequestOptions, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, r)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	if len(opts.QueryParams) > 0 {
		q := req.URL.Query()
		for key, values := range opts.QueryParams {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// encodeBody buffers the body so it can be replayed on retry.
func encodeBody(body interface{}) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case io.Reader:
		return io.ReadAll(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return b, nil
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRetry retries up to n extra times with exponential backoff starting
// at backoff.
func WithRetry(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithTransport overrides the round tripper, e.g. for tracing.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.transport = rt
	}
}
