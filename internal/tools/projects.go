package tools

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// ListProjectsTool pages through visible projects with an optional
// client-side name filter.
type ListProjectsTool struct {
	client *openproject.Client
}

func NewListProjectsTool(client *openproject.Client) *ListProjectsTool {
	return &ListProjectsTool{client: client}
}

func (t *ListProjectsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_projects",
		mcp.WithDescription("List visible projects with offset pagination and an optional name filter."),
		mcp.WithNumber("offset",
			mcp.Description("Pagination offset (elements to skip). Defaults to 0."),
			mcp.DefaultNumber(0),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Page size, clamped to 1..200. Defaults to 50."),
			mcp.DefaultNumber(defaultPageSize),
		),
		mcp.WithString("name_contains",
			mcp.Description("Only return projects whose name contains this text (case-insensitive)."),
		),
	)
}

func (t *ListProjectsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return mcp.NewToolResultError("'offset' must be >= 0"), nil
	}
	pageSize := clampPageSize(req.GetInt("page_size", defaultPageSize))
	nameContains := strings.TrimSpace(req.GetString("name_contains", ""))

	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("pageSize", strconv.Itoa(pageSize))

	payload, err := t.client.Get(ctx, "/api/v3/projects", params, "projects")
	if err != nil {
		return errorResult(err)
	}
	elements, err := hal.Elements(payload)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(nameContains)
	items := make([]map[string]any, 0, len(elements))
	for _, el := range elements {
		name, _ := el["name"].(string)
		if needle != "" && !strings.Contains(strings.ToLower(name), needle) {
			continue
		}
		item := map[string]any{"name": name}
		if id, ok := intFromPayload(el, "id"); ok {
			item["id"] = id
		}
		if identifier, ok := el["identifier"].(string); ok {
			item["identifier"] = identifier
		}
		items = append(items, item)
	}

	result := map[string]any{
		"items":       items,
		"offset":      offset,
		"page_size":   pageSize,
		"total":       len(items),
		"next_offset": nil,
	}
	if total, ok := intFromPayload(payload, "total"); ok {
		result["total"] = total
		if offset+pageSize < total {
			result["next_offset"] = offset + pageSize
		}
	}
	return jsonResult(result)
}
