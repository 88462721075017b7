// Package openproject implements the shared HTTP client for the
// OpenProject HAL+JSON API.
//
// The client owns auth, the base URL, timeouts, and retries. It
// returns raw decoded payloads; tools own all domain decisions.
package openproject

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openproject-tools/openproject-mcp/internal/reqctx"
)

const (
	// DefaultTimeout bounds each individual HTTP attempt; the retry
	// schedule is on top of it.
	DefaultTimeout = 10 * time.Second

	// basicAuthUser is the fixed username the API expects; the API key
	// is the password.
	basicAuthUser = "apikey"

	// maxResponseSize caps body reads to keep a misbehaving server
	// from exhausting memory.
	maxResponseSize = 10 * 1024 * 1024

	// errorSnippetLimit bounds how much of a non-JSON error body is
	// kept for diagnostics.
	errorSnippetLimit = 500
)

// RetryPolicy decides which failures are worth another attempt and
// how long to wait between attempts. Backoff is exponential:
// attempt 0 waits BackoffBase, attempt 1 waits 2x, and so on.
type RetryPolicy struct {
	MaxRetries    int
	BackoffBase   time.Duration
	RetryStatuses []int
	RetryOn429    bool
}

// DefaultRetryPolicy retries twice on 502/503/504 with a 300ms base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		BackoffBase:   300 * time.Millisecond,
		RetryStatuses: []int{502, 503, 504},
	}
}

func (p RetryPolicy) retryableStatus(status int) bool {
	if p.RetryOn429 && status == http.StatusTooManyRequests {
		return true
	}
	for _, s := range p.RetryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Client is the shared OpenProject API client. Safe for concurrent
// use; all mutable state lives in the underlying http.Client pool.
type Client struct {
	baseURL string
	apiKey  string
	retry   RetryPolicy
	http    *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the structured logger for request events.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient replaces the underlying http.Client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the given instance. Both the base URL and
// the API key are required.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("openproject: base URL must be provided")
	}
	if apiKey == "" {
		return nil, errors.New("openproject: API key must be provided")
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		retry:   DefaultRetryPolicy(),
		http:    &http.Client{Timeout: DefaultTimeout},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured instance URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Request issues an authenticated call and decodes the JSON object
// response. path may be relative ("/api/v3/...") or absolute.
//
// Transient failures (configured status codes, optionally 429, and
// transport errors) are retried with exponential backoff up to the
// policy's budget; the backoff wait aborts promptly when ctx is
// cancelled. Non-2xx responses become *HTTPError, exhausted transport
// failures *ClientError, and 2xx bodies that are not JSON objects
// *ParseError. An empty 2xx body decodes to an empty object.
//
// tool tags the request for logging only; it never changes behavior.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body any, tool string) (map[string]any, error) {
	method = strings.ToUpper(method)
	reqURL, err := c.buildURL(path, params)
	if err != nil {
		return nil, &ClientError{Method: method, URL: path, Err: err}
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &ClientError{Method: method, URL: reqURL, Err: fmt.Errorf("encoding request body: %w", err)}
		}
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		resp, respBody, err := c.attempt(ctx, method, reqURL, payload)
		if err != nil {
			if ctx.Err() == nil && attempt < c.retry.MaxRetries {
				if werr := c.backoff(ctx, attempt); werr == nil {
					continue
				}
			}
			return nil, &ClientError{Method: method, URL: reqURL, Err: err}
		}

		c.logAttempt(ctx, tool, method, reqURL, resp.StatusCode, attempt, start)

		if c.retry.retryableStatus(resp.StatusCode) && attempt < c.retry.MaxRetries {
			if werr := c.backoff(ctx, attempt); werr != nil {
				return nil, &ClientError{Method: method, URL: reqURL, Err: werr}
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, toHTTPError(resp.StatusCode, method, reqURL, respBody)
		}
		return decodeObject(method, reqURL, respBody)
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, params url.Values, tool string) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, path, params, nil, tool)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, tool string) (map[string]any, error) {
	return c.Request(ctx, http.MethodPost, path, nil, body, tool)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any, tool string) (map[string]any, error) {
	return c.Request(ctx, http.MethodPatch, path, nil, body, tool)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, tool string) (map[string]any, error) {
	return c.Request(ctx, http.MethodDelete, path, nil, nil, tool)
}

// attempt performs one HTTP call and fully reads the body.
func (c *Client) attempt(ctx context.Context, method, reqURL string, payload []byte) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	c.setAuth(ctx, req)
	req.Header.Set("Accept", "application/hal+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rid := reqctx.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp, respBody, nil
}

// setAuth applies HTTP Basic auth, preferring a per-request API key
// carried on the context over the configured one.
func (c *Client) setAuth(ctx context.Context, req *http.Request) {
	key := c.apiKey
	if override := reqctx.APIKey(ctx); override != "" {
		key = override
	}
	req.SetBasicAuth(basicAuthUser, key)
}

// backoff waits BackoffBase * 2^attempt, aborting when ctx is done so
// a cancelled tool call never sits out a sleep.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.retry.BackoffBase << attempt)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) buildURL(path string, params url.Values) (string, error) {
	raw := path
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		raw = c.baseURL + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// logAttempt emits the per-attempt debug event. The API key is never
// part of the record.
func (c *Client) logAttempt(ctx context.Context, tool, method, reqURL string, status, attempt int, start time.Time) {
	c.log.DebugContext(ctx, "openproject.request",
		slog.String("tool", tool),
		slog.String("method", method),
		slog.String("url", reqURL),
		slog.Int("status", status),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		slog.Int("attempt", attempt),
		slog.String("request_id", reqctx.RequestID(ctx)),
	)
}

// decodeObject interprets a 2xx body: empty means {}, anything else
// must be a JSON object.
func decodeObject(method, reqURL string, body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, &ParseError{
			Method: method,
			URL:    reqURL,
			Reason: fmt.Sprintf("non-JSON body snippet %q", snippet(body)),
		}
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, &ParseError{
			Method: method,
			URL:    reqURL,
			Reason: fmt.Sprintf("top-level value is %T, not an object", value),
		}
	}
	return obj, nil
}

// toHTTPError extracts a best-effort message from an error body:
// the JSON "message" or "error" field when the body parses, otherwise
// a bounded text snippet.
func toHTTPError(status int, method, reqURL string, body []byte) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: status,
		Method:     method,
		URL:        reqURL,
		Message:    "request failed",
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		httpErr.ResponseJSON = parsed
		if msg, ok := parsed["message"].(string); ok && msg != "" {
			httpErr.Message = msg
		} else if msg, ok := parsed["error"].(string); ok && msg != "" {
			httpErr.Message = msg
		}
	} else {
		httpErr.ResponseText = snippet(body)
	}
	return httpErr
}

func snippet(body []byte) string {
	s := string(body)
	if len(s) > errorSnippetLimit {
		s = s[:errorSnippetLimit]
	}
	return s
}
