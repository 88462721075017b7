package tools

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/metadata"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// ProjectMembershipsTool lists who belongs to a project and with
// which roles.
type ProjectMembershipsTool struct {
	client *openproject.Client
	meta   *metadata.Service
}

func NewProjectMembershipsTool(client *openproject.Client, meta *metadata.Service) *ProjectMembershipsTool {
	return &ProjectMembershipsTool{client: client, meta: meta}
}

func (t *ProjectMembershipsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_project_memberships",
		mcp.WithDescription("List a project's members (users and groups) with their roles."),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project ID, identifier, or name"),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Page size, clamped to 1..200. Defaults to 100."),
			mcp.DefaultNumber(100),
		),
		mcp.WithBoolean("sort",
			mcp.Description("Sort members by name for deterministic output."),
		),
	)
}

func (t *ProjectMembershipsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := strings.TrimSpace(req.GetString("project", ""))
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}
	pageSize := clampPageSize(req.GetInt("page_size", 100))

	projectID, err := t.meta.ResolveProject(ctx, project)
	if err != nil {
		return errorResult(err)
	}

	filters := filtersJSON([]filter{{field: "project", operator: "=", values: []string{strconv.Itoa(projectID)}}})
	var (
		items        []map[string]any
		offset       int
		pagesScanned int
		lastPayload  map[string]any
	)
	const maxPages = 5
	for pagesScanned < maxPages {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("pageSize", strconv.Itoa(pageSize))
		params.Set("filters", filters)

		payload, err := t.client.Get(ctx, "/api/v3/memberships", params, "memberships")
		if err != nil {
			var httpErr *openproject.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode == 403 {
				return errorResult(httpErr.Rewrite("Permission denied: unable to view project memberships."))
			}
			return errorResult(err)
		}
		lastPayload = payload

		batch, err := hal.Elements(payload)
		if err != nil {
			return nil, err
		}
		for _, el := range batch {
			items = append(items, membershipItem(el))
		}
		pagesScanned++
		offset += pageSize
		if len(batch) < pageSize {
			break
		}
	}

	if req.GetBool("sort", false) {
		sort.Slice(items, func(i, j int) bool {
			ni, _ := items[i]["principal_name"].(string)
			nj, _ := items[j]["principal_name"].(string)
			ni, nj = strings.ToLower(ni), strings.ToLower(nj)
			if ni != nj {
				return ni < nj
			}
			pi, _ := items[i]["principal_id"].(int)
			pj, _ := items[j]["principal_id"].(int)
			return pi < pj
		})
	}

	result := map[string]any{
		"items":         items,
		"scanned":       len(items),
		"pages_scanned": pagesScanned,
		"total":         nil,
	}
	if total, ok := intFromPayload(lastPayload, "total"); ok {
		result["total"] = total
	}
	return jsonResult(result)
}

// membershipItem flattens one membership: principal link first,
// embedded user as the fallback, roles from both embedded and link
// representations.
func membershipItem(el map[string]any) map[string]any {
	item := map[string]any{
		"membership_id":  nil,
		"principal_id":   nil,
		"principal_name": nil,
		"principal_href": nil,
		"principal_type": nil,
		"roles":          membershipRoles(el),
	}
	if id, ok := intFromPayload(el, "id"); ok {
		item["membership_id"] = id
	} else if id, ok := hal.IDFromHref(hal.LinkHref(el, "self")); ok {
		item["membership_id"] = id
	}

	href := hal.LinkHref(el, "principal")
	name := hal.LinkTitle(el, "principal")
	if href != "" {
		item["principal_href"] = href
		if id, ok := hal.IDFromHref(href); ok {
			item["principal_id"] = id
		}
		switch {
		case strings.Contains(href, "/users/"):
			item["principal_type"] = "User"
		case strings.Contains(href, "/groups/"):
			item["principal_type"] = "Group"
		}
	}
	if name != "" {
		item["principal_name"] = name
	}

	if href == "" || name == "" {
		if user, ok := hal.Embedded(el, "user").(map[string]any); ok {
			if item["principal_id"] == nil {
				if id, ok := intFromPayload(user, "id"); ok {
					item["principal_id"] = id
				}
			}
			if item["principal_name"] == nil {
				if userName, ok := user["name"].(string); ok && userName != "" {
					item["principal_name"] = userName
				}
			}
			if item["principal_href"] == nil {
				if selfHref := hal.LinkHref(user, "self"); selfHref != "" {
					item["principal_href"] = selfHref
				}
			}
			if item["principal_type"] == nil {
				item["principal_type"] = "User"
			}
		}
	}
	return item
}

func membershipRoles(el map[string]any) []string {
	var names []string
	if roles, ok := hal.Embedded(el, "roles").([]any); ok {
		for _, r := range roles {
			if obj, ok := r.(map[string]any); ok {
				if name, ok := obj["name"].(string); ok && name != "" {
					names = append(names, name)
				}
			}
		}
	}
	if links, ok := el["_links"].(map[string]any); ok {
		if roleLinks, ok := links["roles"].([]any); ok {
			for _, r := range roleLinks {
				if obj, ok := r.(map[string]any); ok {
					if title, ok := obj["title"].(string); ok && title != "" {
						names = append(names, title)
					}
				}
			}
		}
	}
	if names == nil {
		names = []string{}
	}
	return names
}
