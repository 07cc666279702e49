// Package api is the REST client for the marketplace backend. Every failed
// call yields an *Error with a Kind, and is handed once to the registered
// ErrorHooks before being returned.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrorHook observes every API error exactly once. Hooks must not block.
type ErrorHook func(*Error)

// TokenFunc returns the current bearer token, or "" when signed out.
type TokenFunc func() string

// Client is a thin HTTP client for the backend REST API.
// It handles Bearer token authentication, JSON marshaling, and
// automatic retry with exponential backoff on HTTP 429.
type Client struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	hooks []ErrorHook
}

// NewClient creates a new API client rooted at baseURL
// (e.g., http://localhost:3000/api).
func NewClient(baseURL string, token TokenFunc) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 2,
		sleep:      sleepCtx,
	}
}

// SetTimeout bounds every request.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetMaxRetries sets how many times a rate-limited request is retried.
func (c *Client) SetMaxRetries(n int) {
	if n >= 0 {
		c.maxRetries = n
	}
}

// BaseURL returns the REST root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// OnError registers a hook that sees every API error.
func (c *Client) OnError(hook ErrorHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, hook)
	c.mu.Unlock()
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(
	ctx context.Context,
	path string,
	result interface{},
) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(
	ctx context.Context,
	path string,
	body interface{},
	result interface{},
) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	err := c.roundTrip(ctx, method, path, body, result)
	if apiErr, ok := err.(*Error); ok {
		c.intercept(apiErr)
	}
	return err
}

// intercept runs the hooks. Cancellation by the caller is not an incident
// worth reporting.
func (c *Client) intercept(err *Error) {
	if isCanceled(err.Err) {
		return
	}
	c.mu.RLock()
	hooks := append([]ErrorHook(nil), c.hooks...)
	c.mu.RUnlock()

	for _, h := range hooks {
		h(err)
	}
}

// roundTrip builds the request, handles auth, rate limiting with
// exponential backoff, and JSON (de)serialization.
func (c *Client) roundTrip(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transportError(method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return transportError(method, path, readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			kind, msg := classify(resp.StatusCode, respBody)
			apiErr := &Error{
				Kind:    kind,
				Status:  resp.StatusCode,
				Method:  method,
				Path:    path,
				Message: msg,
			}
			if kind != KindRateLimit {
				return apiErr
			}

			apiErr.RetryAfter = retryAfterDuration(resp, attempt)
			lastErr = apiErr
			if attempt == c.maxRetries {
				break
			}
			if err := c.sleep(ctx, apiErr.RetryAfter); err != nil {
				return transportError(method, path, err)
			}
			continue
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{
				Kind:    KindUnknown,
				Status:  resp.StatusCode,
				Method:  method,
				Path:    path,
				Message: "malformed response body",
				Err:     err,
			}
		}

		return nil
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
