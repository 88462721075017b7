package openproject

import "fmt"

// ClientError is a transport-level failure (connect, read, timeout)
// after the retry budget is exhausted, or any local precondition the
// client checks before talking to the network.
type ClientError struct {
	Method string
	URL    string
	Err    error
}

func (e *ClientError) Error() string {
	if e.Method == "" && e.URL == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("network error calling %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response. It carries enough to rebuild a
// user-facing diagnostic without another round trip: the status code,
// the request identity, and the best-effort message pulled from the
// error body. Tool code inspects StatusCode to rewrite specific
// failures (403/404/409/422) into actionable messages while keeping
// the original structured body.
type HTTPError struct {
	StatusCode   int
	Method       string
	URL          string
	Message      string
	ResponseJSON map[string]any
	ResponseText string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s %s: %s", e.StatusCode, e.Method, e.URL, e.Message)
}

// ParseError is a 2xx response whose body is not a JSON object.
// Never retried: a malformed body will not fix itself.
type ParseError struct {
	Method string
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("expected JSON object from %s %s: %s", e.Method, e.URL, e.Reason)
}

// Rewrite returns a copy of the error with a domain-specific message,
// preserving the status code and the structured body. Tool code uses
// it to replace raw API messages with actionable ones.
func (e *HTTPError) Rewrite(message string) *HTTPError {
	clone := *e
	clone.Message = message
	return &clone
}
