package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// ListQueriesTool lists saved queries (views), optionally scoped to a
// project.
type ListQueriesTool struct {
	client *openproject.Client
}

func NewListQueriesTool(client *openproject.Client) *ListQueriesTool {
	return &ListQueriesTool{client: client}
}

func (t *ListQueriesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_queries",
		mcp.WithDescription("List saved queries (views), optionally filtered to one project."),
		mcp.WithNumber("project_id",
			mcp.Description("Only list queries belonging to this project."),
		),
		mcp.WithNumber("offset",
			mcp.Description("Pagination offset. Defaults to 0."),
			mcp.DefaultNumber(0),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Page size, clamped to 1..200. Defaults to 50."),
			mcp.DefaultNumber(defaultPageSize),
		),
	)
}

func (t *ListQueriesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return mcp.NewToolResultError("'offset' must be >= 0"), nil
	}
	pageSize := clampPageSize(req.GetInt("page_size", defaultPageSize))

	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("pageSize", strconv.Itoa(pageSize))
	if projectID := req.GetInt("project_id", 0); projectID > 0 {
		params.Set("filters", filtersJSON([]filter{
			{field: "project_id", operator: "=", values: []string{strconv.Itoa(projectID)}},
		}))
	}

	payload, err := t.client.Get(ctx, "/api/v3/queries", params, "queries")
	if err != nil {
		return errorResult(err)
	}
	elements, err := hal.Elements(payload)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, len(elements))
	for i, el := range elements {
		item := map[string]any{
			"id":         nil,
			"name":       el["name"],
			"href":       nil,
			"project_id": nil,
			"public":     el["public"],
			"starred":    el["starred"],
		}
		if id, ok := intFromPayload(el, "id"); ok {
			item["id"] = id
		}
		if href := hal.LinkHref(el, "self"); href != "" {
			item["href"] = href
		}
		if projectID, ok := hal.IDFromHref(hal.LinkHref(el, "project")); ok {
			item["project_id"] = projectID
		}
		items[i] = item
	}

	total, totalOK := intFromPayload(payload, "total")
	pageSizeVal := pageSize
	if v, ok := intFromPayload(payload, "pageSize"); ok {
		pageSizeVal = v
	}
	offsetVal := offset
	if v, ok := intFromPayload(payload, "offset"); ok {
		offsetVal = v
	}
	count := len(items)
	if v, ok := intFromPayload(payload, "count"); ok {
		count = v
	}

	result := map[string]any{
		"items":       items,
		"offset":      offsetVal,
		"page_size":   pageSizeVal,
		"count":       count,
		"total":       nil,
		"next_offset": nil,
	}
	if totalOK {
		result["total"] = total
		if next, ok := nextPageOffset(total, pageSizeVal, offsetVal, count); ok {
			result["next_offset"] = next
		}
	}
	return jsonResult(result)
}

// nextPageOffset mirrors the API's paging for query results, where
// offset counts pages rather than elements.
func nextPageOffset(total, pageSize, offset, count int) (int, bool) {
	if pageSize <= 0 {
		return 0, false
	}
	if offset*pageSize < total {
		return offset + 1, true
	}
	if (offset-1)*pageSize+count < total {
		return offset + 1, true
	}
	return 0, false
}

// RunQueryTool executes a saved query and returns the matching work
// packages.
type RunQueryTool struct {
	client *openproject.Client
}

func NewRunQueryTool(client *openproject.Client) *RunQueryTool {
	return &RunQueryTool{client: client}
}

func (t *RunQueryTool) Definition() mcp.Tool {
	return mcp.NewTool("run_query",
		mcp.WithDescription(
			"Execute a saved query (view) and return its work packages. "+
				"For query results the offset is a page number starting at 1.",
		),
		mcp.WithNumber("query_id",
			mcp.Required(),
			mcp.Description("Saved query ID"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Page number, starting at 1."),
			mcp.DefaultNumber(1),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Page size, clamped to 1..200. Defaults to 50."),
			mcp.DefaultNumber(defaultPageSize),
		),
	)
}

func (t *RunQueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryID := req.GetInt("query_id", 0)
	if queryID <= 0 {
		return mcp.NewToolResultError("'query_id' must be a positive query ID"), nil
	}
	offset := req.GetInt("offset", 1)
	pageSize := clampPageSize(req.GetInt("page_size", defaultPageSize))

	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("pageSize", strconv.Itoa(pageSize))

	payload, err := t.client.Get(ctx, fmt.Sprintf("/api/v3/queries/%d", queryID), params, "queries")
	if err != nil {
		var httpErr *openproject.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			return errorResult(httpErr.Rewrite("Query not found."))
		}
		return errorResult(err)
	}

	// Query responses nest the collection one level down.
	results, _ := hal.Embedded(payload, "results").(map[string]any)
	elements, err := hal.Elements(results)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(elements))
	for i, el := range elements {
		items[i] = wpSummary(el)
	}

	total, totalOK := intFromPayload(results, "total")
	pageSizeVal := pageSize
	if v, ok := intFromPayload(results, "pageSize"); ok {
		pageSizeVal = v
	}
	offsetVal := offset
	if v, ok := intFromPayload(results, "offset"); ok {
		offsetVal = v
	}
	count := len(items)
	if v, ok := intFromPayload(results, "count"); ok {
		count = v
	}

	result := map[string]any{
		"query_id":    queryID,
		"items":       items,
		"count":       count,
		"page_size":   pageSizeVal,
		"offset":      offsetVal,
		"total":       nil,
		"next_offset": nil,
	}
	if totalOK {
		result["total"] = total
		if next, ok := nextPageOffset(total, pageSizeVal, offsetVal, count); ok {
			result["next_offset"] = next
		}
	}
	return jsonResult(result)
}
