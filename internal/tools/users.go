package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

var customFieldRE = regexp.MustCompile(`^customField(\d+)$`)

// GetUserTool fetches a user profile including any custom fields the
// token is allowed to see.
type GetUserTool struct {
	client *openproject.Client
}

func NewGetUserTool(client *openproject.Client) *GetUserTool {
	return &GetUserTool{client: client}
}

func (t *GetUserTool) Definition() mcp.Tool {
	return mcp.NewTool("get_user",
		mcp.WithDescription(
			"Fetch a user by ID with login, email, status, and custom fields. "+
				"Email may be hidden depending on permissions.",
		),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("User ID"),
		),
	)
}

func (t *GetUserTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' must be a positive user ID"), nil
	}

	payload, err := t.client.Get(ctx, fmt.Sprintf("/api/v3/users/%d", id), nil, "users")
	if err != nil {
		var httpErr *openproject.HTTPError
		if errors.As(err, &httpErr) {
			switch httpErr.StatusCode {
			case 403:
				return errorResult(httpErr.Rewrite("Permission denied: unable to view this user."))
			case 404:
				return errorResult(httpErr.Rewrite("User not found or insufficient permissions to view this user."))
			}
		}
		return errorResult(err)
	}

	email, _ := payload["mail"].(string)
	if email == "" {
		email, _ = payload["email"].(string)
	}
	profile := map[string]any{
		"name":          payload["name"],
		"login":         payload["login"],
		"status":        payload["status"],
		"email":         nil,
		"admin":         payload["admin"],
		"created_at":    payload["createdAt"],
		"updated_at":    payload["updatedAt"],
		"last_login":    payload["lastLogin"],
		"href":          nil,
		"custom_fields": extractCustomFields(payload),
	}
	if email != "" {
		profile["email"] = email
	}
	if userID, ok := intFromPayload(payload, "id"); ok {
		profile["id"] = userID
	}
	if href := hal.LinkHref(payload, "self"); href != "" {
		profile["href"] = href
	}
	return jsonResult(profile)
}

type customField struct {
	Key   string            `json:"key"`
	ID    *int              `json:"id"`
	Value any               `json:"value"`
	Title *string           `json:"title"`
	Href  *string           `json:"href"`
	Links []customFieldLink `json:"links"`
}

type customFieldLink struct {
	Title *string `json:"title"`
	Href  *string `json:"href"`
}

// extractCustomFields collects customFieldN values from both root
// properties and _links entries, merging per key and ordering by the
// numeric field id. The API exposes scalar custom fields as root
// properties and list/assocation fields as links.
func extractCustomFields(payload map[string]any) []*customField {
	fields := map[string]*customField{}

	get := func(key, idPart string) *customField {
		if cf, ok := fields[key]; ok {
			return cf
		}
		cf := &customField{Key: key, Links: []customFieldLink{}}
		if id, err := strconv.Atoi(idPart); err == nil {
			cf.ID = &id
		}
		fields[key] = cf
		return cf
	}

	for key, value := range payload {
		m := customFieldRE.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		get(key, m[1]).Value = value
	}

	if links, ok := payload["_links"].(map[string]any); ok {
		for key, linkVal := range links {
			m := customFieldRE.FindStringSubmatch(key)
			if m == nil {
				continue
			}
			cf := get(key, m[1])
			switch v := linkVal.(type) {
			case []any:
				for _, item := range v {
					mergeCustomFieldLink(cf, item)
				}
			default:
				mergeCustomFieldLink(cf, v)
			}
		}
	}

	out := make([]*customField, 0, len(fields))
	for _, cf := range fields {
		out = append(out, cf)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := 0, 0
		if out[i].ID != nil {
			li = *out[i].ID
		}
		if out[j].ID != nil {
			lj = *out[j].ID
		}
		if li != lj {
			return li < lj
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func mergeCustomFieldLink(cf *customField, item any) {
	obj, ok := item.(map[string]any)
	if !ok {
		return
	}
	entry := customFieldLink{}
	if title, ok := obj["title"].(string); ok && title != "" {
		entry.Title = &title
	}
	if href, ok := obj["href"].(string); ok && href != "" {
		entry.Href = &href
	}
	cf.Links = append(cf.Links, entry)

	if cf.Title == nil && entry.Title != nil {
		cf.Title = entry.Title
	}
	if cf.Href == nil && entry.Href != nil {
		cf.Href = entry.Href
	}
	if cf.Value == nil && entry.Title != nil {
		cf.Value = *entry.Title
	}
}
