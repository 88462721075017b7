package tools

import (
	"context"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// PingTool checks connectivity and authentication against the
// configured instance.
type PingTool struct {
	client *openproject.Client
}

func NewPingTool(client *openproject.Client) *PingTool {
	return &PingTool{client: client}
}

func (t *PingTool) Definition() mcp.Tool {
	return mcp.NewTool("system_ping",
		mcp.WithDescription(
			"Check connectivity and authentication against the OpenProject instance. "+
				"Returns latency and the authenticated user.",
		),
	)
}

func (t *PingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	payload, err := t.client.Get(ctx, "/api/v3/users/me", nil, "system_ping")
	if err != nil {
		return errorResult(err)
	}
	latency := math.Round(float64(time.Since(start).Microseconds())/10) / 100

	name, _ := payload["name"].(string)
	if name == "" {
		name = "Unknown"
	}
	result := map[string]any{
		"status":       "ok",
		"latency_ms":   latency,
		"user_name":    name,
		"instance_url": t.client.BaseURL(),
	}
	if id, ok := intFromPayload(payload, "id"); ok {
		result["user_id"] = id
	}
	return jsonResult(result)
}
