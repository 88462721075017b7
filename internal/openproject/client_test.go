package openproject

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openproject-tools/openproject-mcp/internal/reqctx"
)

// fastRetry keeps backoff waits negligible in tests.
func fastRetry(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    maxRetries,
		BackoffBase:   time.Millisecond,
		RetryStatuses: []int{502, 503, 504},
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, retry RetryPolicy) *Client {
	t.Helper()
	c, err := New(srv.URL, "secret-key", WithRetryPolicy(retry))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "key"); err == nil {
		t.Error("empty base URL accepted")
	}
	if _, err := New("https://op.example.com", ""); err == nil {
		t.Error("empty API key accepted")
	}
	c, err := New("https://op.example.com/", "key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.BaseURL() != "https://op.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash stripped", c.BaseURL())
	}
}

func TestRequestSendsBasicAuthAndHeaders(t *testing.T) {
	var gotAuthUser, gotAuthKey, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthUser, gotAuthKey, _ = r.BasicAuth()
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(0))
	if _, err := c.Get(context.Background(), "/api/v3/projects", nil, "test"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotAuthUser != "apikey" || gotAuthKey != "secret-key" {
		t.Errorf("basic auth = %q/%q, want apikey/secret-key", gotAuthUser, gotAuthKey)
	}
	if gotAccept != "application/hal+json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestRequestAPIKeyOverrideFromContext(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotKey, _ = r.BasicAuth()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(0))
	ctx := reqctx.WithAPIKey(context.Background(), "override-key")
	if _, err := c.Get(ctx, "/api/v3/users/me", nil, "test"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotKey != "override-key" {
		t.Errorf("API key = %q, want context override", gotKey)
	}
}

// N retryable responses followed by a success: with MaxRetries = N the
// executor performs exactly N+1 attempts and returns the payload.
func TestRetryUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(2))
	payload, err := c.Get(context.Background(), "/api/v3/work_packages/1", nil, "test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if payload["id"] != float64(1) {
		t.Errorf("payload = %v", payload)
	}
}

// With one retry fewer than the failure count, the typed HTTP error
// surfaces after the budget is spent.
func TestRetryExhaustion(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(1))
	_, err := c.Get(context.Background(), "/api/v3/projects", nil, "test")

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v (%T), want *HTTPError", err, err)
	}
	if httpErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d", httpErr.StatusCode)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func Test429NotRetriedByDefault(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(2))
	_, err := c.Get(context.Background(), "/api/v3/projects", nil, "test")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("error = %v, want 429 HTTPError", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (429 retry disabled)", got)
	}
}

func Test429RetriedWhenEnabled(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	retry := fastRetry(2)
	retry.RetryOn429 = true
	c := newTestClient(t, srv, retry)
	if _, err := c.Get(context.Background(), "/api/v3/projects", nil, "test"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestTransportErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c, err := New(srv.URL, "key", WithRetryPolicy(fastRetry(2)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Get(context.Background(), "/api/v3/projects", nil, "test")
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("error = %v (%T), want *ClientError", err, err)
	}
}

func TestEmptyBodyDecodesToEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(0))
	payload, err := c.Delete(context.Background(), "/api/v3/work_packages/1", "test")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("payload = %v, want empty object", payload)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"non-JSON body", "<html>gateway</html>"},
		{"top-level array", `[1, 2, 3]`},
		{"top-level scalar", `"ok"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, fastRetry(0))
			_, err := c.Get(context.Background(), "/api/v3/projects", nil, "test")
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("error = %v (%T), want *ParseError", err, err)
			}
		})
	}
}

func TestHTTPErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantMsg  string
		wantJSON bool
	}{
		{"message field", `{"message": "Project not visible"}`, "Project not visible", true},
		{"error field", `{"error": "boom"}`, "boom", true},
		{"no known field", `{"detail": "x"}`, "request failed", true},
		{"plain text", "upstream exploded", "request failed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv, fastRetry(0))
			_, err := c.Get(context.Background(), "/api/v3/projects/9", nil, "test")
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("error = %v", err)
			}
			if httpErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", httpErr.Message, tt.wantMsg)
			}
			if (httpErr.ResponseJSON != nil) != tt.wantJSON {
				t.Errorf("ResponseJSON presence = %v, want %v", httpErr.ResponseJSON != nil, tt.wantJSON)
			}
			if !tt.wantJSON && httpErr.ResponseText == "" {
				t.Error("ResponseText empty for non-JSON error body")
			}
		})
	}
}

func TestCancellationAbortsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	retry := RetryPolicy{
		MaxRetries:    3,
		BackoffBase:   time.Hour, // would hang without ctx abort
		RetryStatuses: []int{503},
	}
	c := newTestClient(t, srv, retry)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "/api/v3/projects", nil, "test")
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backoff did not abort on context cancellation")
	}
}

func TestRequestBodyAndParams(t *testing.T) {
	var gotQuery url.Values
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(0))
	params := url.Values{}
	params.Set("pageSize", "50")
	_, err := c.Request(context.Background(), "post", "/api/v3/work_packages", params,
		map[string]any{"subject": "New task"}, "test")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if gotQuery.Get("pageSize") != "50" {
		t.Errorf("pageSize param = %q", gotQuery.Get("pageSize"))
	}
	if gotBody["subject"] != "New task" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestRequestIDHeaderPropagated(t *testing.T) {
	var gotRID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRID = r.Header.Get("X-Request-Id")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, fastRetry(0))
	ctx := reqctx.WithRequestID(context.Background(), "rid-123")
	if _, err := c.Get(ctx, "/api/v3/projects", nil, "test"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotRID != "rid-123" {
		t.Errorf("X-Request-Id = %q", gotRID)
	}
}
