// Package reqctx carries per-request state on context.Context.
//
// Every tool invocation gets a request ID (generated when the caller
// did not supply one) and may carry an API-key override so a shared
// server can act on behalf of different OpenProject users. The values
// travel explicitly with the context — there is no ambient or
// process-global request state, which keeps concurrent invocations
// provably isolated.
package reqctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	keyRequestID ctxKey = iota
	keyAPIKey
	keyUserAgent
)

// WithRequestID returns a context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the request ID on the context, or "" when unset.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

// EnsureRequestID returns a context that carries a request ID,
// generating one when the context has none, plus the ID itself.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// WithAPIKey returns a context carrying an API-key override that the
// HTTP client prefers over its configured key.
func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyAPIKey, key)
}

// APIKey returns the API-key override on the context, or "" when unset.
func APIKey(ctx context.Context) string {
	key, _ := ctx.Value(keyAPIKey).(string)
	return key
}

// WithUserAgent returns a context carrying the calling agent's
// user-agent string, used only for logging.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, keyUserAgent, ua)
}

// UserAgent returns the user agent on the context, or "" when unset.
func UserAgent(ctx context.Context) string {
	ua, _ := ctx.Value(keyUserAgent).(string)
	return ua
}
