// Package tools implements the MCP tool handlers for the OpenProject
// adapter.
//
// Each file holds one entity's tools. Every tool is a struct carrying
// its dependencies, with a Definition for registration and a Handle
// compatible with mcp-go's CallToolRequest signature. Domain failures
// (resolution, HTTP, validation) become tool error results the agent
// can read and correct; anything else propagates as a Go error.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/duration"
	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/metadata"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// clampPageSize keeps page sizes inside what the API serves.
func clampPageSize(pageSize int) int {
	if pageSize < 1 {
		return 1
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}

// jsonResult renders a tool result as indented JSON.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult maps the domain error taxonomy onto tool error results.
// Resolution failures, HTTP failures, and bad durations are things the
// calling agent can act on; transport and parse failures bubble up as
// internal errors.
func errorResult(err error) (*mcp.CallToolResult, error) {
	var (
		notFound    *metadata.NotFoundError
		ambiguous   *metadata.AmbiguousError
		unavailable *metadata.UnavailableError
		httpErr     *openproject.HTTPError
		durErr      *duration.ParseError
	)
	switch {
	case errors.As(err, &notFound),
		errors.As(err, &ambiguous),
		errors.As(err, &unavailable),
		errors.As(err, &httpErr),
		errors.As(err, &durErr):
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

// filtersJSON encodes the API's filter syntax:
// [{"field": {"operator": op, "values": [...]}}].
type filter struct {
	field    string
	operator string
	values   []string
}

func filtersJSON(filters []filter) string {
	out := make([]map[string]any, len(filters))
	for i, f := range filters {
		out[i] = map[string]any{
			f.field: map[string]any{"operator": f.operator, "values": f.values},
		}
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// linkRef projects one HAL relation into {id, name, href}, each nil
// when absent.
func linkRef(payload map[string]any, rel string) map[string]any {
	ref := map[string]any{"id": nil, "name": nil, "href": nil}
	if href := hal.LinkHref(payload, rel); href != "" {
		ref["href"] = href
		if id, ok := hal.IDFromHref(href); ok {
			ref["id"] = id
		}
	}
	if title := hal.LinkTitle(payload, rel); title != "" {
		ref["name"] = title
	}
	return ref
}

// descriptionText unwraps the API's {"format", "raw", "html"}
// description object to its raw markdown.
func descriptionText(value any) string {
	desc, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	raw, _ := desc["raw"].(string)
	return raw
}

// intFromPayload reads a numeric field JSON decoding delivered as
// float64.
func intFromPayload(payload map[string]any, key string) (int, bool) {
	v, ok := payload[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// totalAndPageSize pulls the collection paging fields when present.
func totalAndPageSize(payload map[string]any) (total, pageSize int, ok bool) {
	total, tok := intFromPayload(payload, "total")
	pageSize, pok := intFromPayload(payload, "pageSize")
	return total, pageSize, tok && pok
}
