package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// searchFallbackPages bounds the client-side scan when the server
// rejects the text filter.
const searchFallbackPages = 5

// SearchTool finds work packages by text. It asks the server to
// filter first and only falls back to scanning pages client-side when
// the server rejects the filter syntax.
type SearchTool struct {
	client *openproject.Client
}

func NewSearchTool(client *openproject.Client) *SearchTool {
	return &SearchTool{client: client}
}

func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("search_work_packages",
		mcp.WithDescription("Search work packages by text across subject and description."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search text"),
		),
	)
}

func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(maxPageSize))
	params.Set("filters", filtersJSON([]filter{{field: "text", operator: "~", values: []string{query}}}))

	scope := "server_filtered"
	var elements []map[string]any

	payload, err := t.client.Get(ctx, "/api/v3/work_packages", params, "work_packages")
	if err == nil {
		elements, err = hal.Elements(payload)
		if err != nil {
			return nil, err
		}
	} else {
		var httpErr *openproject.HTTPError
		if !errors.As(err, &httpErr) {
			return errorResult(err)
		}
		switch httpErr.StatusCode {
		case 400, 415, 422:
			scope = "client_filtered_paginated"
			elements, err = t.scanClientSide(ctx, query)
			if err != nil {
				return errorResult(err)
			}
		default:
			return errorResult(err)
		}
	}

	items := make([]map[string]any, len(elements))
	for i, el := range elements {
		items[i] = wpSummary(el)
	}
	return jsonResult(map[string]any{
		"items":     items,
		"scope":     scope,
		"page_size": maxPageSize,
	})
}

// scanClientSide pages through work packages matching the needle
// against subject and description locally.
func (t *SearchTool) scanClientSide(ctx context.Context, query string) ([]map[string]any, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	var matched []map[string]any
	offset := 0

	for page := 0; page < searchFallbackPages; page++ {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("pageSize", strconv.Itoa(maxPageSize))
		payload, err := t.client.Get(ctx, "/api/v3/work_packages", params, "work_packages")
		if err != nil {
			return nil, err
		}
		batch, err := hal.Elements(payload)
		if err != nil {
			return nil, err
		}
		for _, el := range batch {
			subject, _ := el["subject"].(string)
			desc := descriptionText(el["description"])
			if strings.Contains(strings.ToLower(subject), needle) ||
				strings.Contains(strings.ToLower(desc), needle) {
				matched = append(matched, el)
			}
		}

		if hal.LinkHref(payload, "nextByOffset") != "" {
			if _, serverPageSize, ok := totalAndPageSize(payload); ok {
				offset += serverPageSize
			} else {
				offset += maxPageSize
			}
			continue
		}
		if total, serverPageSize, ok := totalAndPageSize(payload); ok && offset+serverPageSize < total {
			offset += serverPageSize
			continue
		}
		break
	}
	return matched, nil
}

// ListWorkPackageVersionsTool lists the versions assignable to a work
// package through its project.
type ListWorkPackageVersionsTool struct {
	client *openproject.Client
}

func NewListWorkPackageVersionsTool(client *openproject.Client) *ListWorkPackageVersionsTool {
	return &ListWorkPackageVersionsTool{client: client}
}

func (t *ListWorkPackageVersionsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_work_package_versions",
		mcp.WithDescription("List the versions available for a work package's project, for use with update_work_package."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Work package ID"),
		),
	)
}

func (t *ListWorkPackageVersionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' must be a positive work package ID"), nil
	}

	wp, err := t.client.Get(ctx, fmt.Sprintf("/api/v3/work_packages/%d", id), nil, "work_packages")
	if err != nil {
		return errorResult(err)
	}
	projectHref := hal.LinkHref(wp, "project")
	if projectHref == "" {
		return mcp.NewToolResultError("Cannot list versions: work package project is unknown."), nil
	}
	if hal.Link(wp, "version") == nil {
		return mcp.NewToolResultError("Version field is not available for this work package."), nil
	}
	projectID, ok := hal.IDFromHref(projectHref)
	if !ok {
		return mcp.NewToolResultError("Cannot list versions: project id is missing."), nil
	}

	var versions []map[string]any
	offset := 0
	for {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("pageSize", strconv.Itoa(maxPageSize))
		payload, err := t.client.Get(ctx, fmt.Sprintf("/api/v3/projects/%d/versions", projectID), params, "work_packages")
		if err != nil {
			var httpErr *openproject.HTTPError
			if errors.As(err, &httpErr) && (httpErr.StatusCode == 403 || httpErr.StatusCode == 404) {
				return errorResult(httpErr.Rewrite("Unable to list versions for this project; check permissions or project versions configuration."))
			}
			return errorResult(err)
		}
		batch, err := hal.Elements(payload)
		if err != nil {
			return nil, err
		}
		for _, el := range batch {
			item := map[string]any{"id": nil, "name": el["name"]}
			if versionID, ok := intFromPayload(el, "id"); ok {
				item["id"] = versionID
			}
			versions = append(versions, item)
		}
		if len(batch) < maxPageSize {
			break
		}
		offset += maxPageSize
	}

	return jsonResult(map[string]any{
		"items":           versions,
		"total":           len(versions),
		"project_id":      projectID,
		"work_package_id": id,
	})
}
