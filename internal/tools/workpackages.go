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
	"github.com/openproject-tools/openproject-mcp/internal/metadata"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

const listMaxPages = 5

// wpSummary shapes a raw work package payload into the concise form
// every work package tool returns.
func wpSummary(payload map[string]any) map[string]any {
	status := linkRef(payload, "status")
	priority := linkRef(payload, "priority")
	project := linkRef(payload, "project")
	wpType := linkRef(payload, "type")
	assignee := linkRef(payload, "assignee")

	summary := map[string]any{
		"subject":     payload["subject"],
		"description": descriptionText(payload["description"]),
		"status":      map[string]any{"id": status["id"], "name": status["name"]},
		"priority":    map[string]any{"id": priority["id"], "name": priority["name"]},
		"project":     map[string]any{"id": project["id"], "name": project["name"]},
		"type":        map[string]any{"id": wpType["id"], "name": wpType["name"]},
		"url":         linkRef(payload, "self")["href"],
	}
	if id, ok := intFromPayload(payload, "id"); ok {
		summary["id"] = id
	}
	if lv, ok := intFromPayload(payload, "lockVersion"); ok {
		summary["lock_version"] = lv
	}
	if assignee["id"] != nil || assignee["name"] != nil {
		summary["assignee"] = map[string]any{"id": assignee["id"], "name": assignee["name"]}
	} else {
		summary["assignee"] = nil
	}
	return summary
}

// fetchWorkPackage gets the current payload and its lockVersion,
// which every mutation must echo back.
func fetchWorkPackage(ctx context.Context, client *openproject.Client, id int, tool string) (map[string]any, int, error) {
	payload, err := client.Get(ctx, fmt.Sprintf("/api/v3/work_packages/%d", id), nil, tool)
	if err != nil {
		return nil, 0, err
	}
	lockVersion, ok := intFromPayload(payload, "lockVersion")
	if !ok {
		return nil, 0, &openproject.HTTPError{
			StatusCode: 422,
			Method:     "GET",
			URL:        fmt.Sprintf("%s/api/v3/work_packages/%d", client.BaseURL(), id),
			Message:    "lockVersion missing from work package response",
		}
	}
	return payload, lockVersion, nil
}

// rewriteConflict turns the generic 409/422 answers of a PATCH into
// actionable messages while preserving status code and body.
func rewriteConflict(err error) error {
	var httpErr *openproject.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	switch httpErr.StatusCode {
	case 409:
		return httpErr.Rewrite("Update conflict: lockVersion is outdated. Re-fetch and retry.")
	case 422:
		message := "Validation failed."
		if msgs := validationMessages(httpErr.ResponseJSON); len(msgs) > 0 {
			message = "Validation failed: " + strings.Join(msgs, "; ")
		} else if httpErr.Message != "" && httpErr.Message != "request failed" {
			message = httpErr.Message
		}
		return httpErr.Rewrite(message)
	}
	return err
}

// validationMessages collects the per-field messages a 422 body
// embeds under _embedded.errors.
func validationMessages(body map[string]any) []string {
	embedded, ok := hal.Embedded(body, "errors").([]any)
	if !ok {
		return nil
	}
	var msgs []string
	for _, e := range embedded {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if msg, ok := obj["message"].(string); ok && msg != "" {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// GetWorkPackageTool fetches one work package.
type GetWorkPackageTool struct {
	client *openproject.Client
}

func NewGetWorkPackageTool(client *openproject.Client) *GetWorkPackageTool {
	return &GetWorkPackageTool{client: client}
}

func (t *GetWorkPackageTool) Definition() mcp.Tool {
	return mcp.NewTool("get_work_package",
		mcp.WithDescription("Fetch a work package by ID, returning a concise summary with status, priority, project, type, and assignee."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Work package ID"),
		),
	)
}

func (t *GetWorkPackageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' must be a positive work package ID"), nil
	}
	payload, err := t.client.Get(ctx, fmt.Sprintf("/api/v3/work_packages/%d", id), nil, "work_packages")
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(wpSummary(payload))
}

// ListWorkPackagesTool lists work packages with server-side project
// and text filters.
type ListWorkPackagesTool struct {
	client *openproject.Client
	meta   *metadata.Service
}

func NewListWorkPackagesTool(client *openproject.Client, meta *metadata.Service) *ListWorkPackagesTool {
	return &ListWorkPackagesTool{client: client, meta: meta}
}

func (t *ListWorkPackagesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_work_packages",
		mcp.WithDescription("List work packages with optional project and subject filters, following pagination links up to a page budget."),
		mcp.WithNumber("offset",
			mcp.Description("Pagination offset. Defaults to 0."),
			mcp.DefaultNumber(0),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Page size, clamped to 1..200. Defaults to 50."),
			mcp.DefaultNumber(defaultPageSize),
		),
		mcp.WithString("project",
			mcp.Description("Project ID, identifier, or name to filter by."),
		),
		mcp.WithString("subject_contains",
			mcp.Description("Server-side text filter on subject/description."),
		),
	)
}

func (t *ListWorkPackagesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return mcp.NewToolResultError("'offset' must be >= 0"), nil
	}
	pageSize := clampPageSize(req.GetInt("page_size", defaultPageSize))
	project := strings.TrimSpace(req.GetString("project", ""))
	subjectContains := strings.TrimSpace(req.GetString("subject_contains", ""))

	var filters []filter
	if project != "" {
		projectID, err := t.meta.ResolveProject(ctx, project)
		if err != nil {
			return errorResult(err)
		}
		filters = append(filters, filter{field: "project", operator: "=", values: []string{strconv.Itoa(projectID)}})
	}
	if subjectContains != "" {
		filters = append(filters, filter{field: "text", operator: "~", values: []string{subjectContains}})
	}

	var (
		items         []map[string]any
		pagesScanned  int
		nextLink      string
		currentOffset = offset
		lastPayload   map[string]any
	)
	for pagesScanned < listMaxPages {
		var payload map[string]any
		var err error
		if nextLink != "" {
			payload, err = t.client.Get(ctx, nextLink, nil, "work_packages")
		} else {
			params := url.Values{}
			params.Set("offset", strconv.Itoa(currentOffset))
			params.Set("pageSize", strconv.Itoa(pageSize))
			if len(filters) > 0 {
				params.Set("filters", filtersJSON(filters))
			}
			payload, err = t.client.Get(ctx, "/api/v3/work_packages", params, "work_packages")
		}
		if err != nil {
			return errorResult(err)
		}
		lastPayload = payload

		elements, err := hal.Elements(payload)
		if err != nil {
			return nil, err
		}
		for _, el := range elements {
			items = append(items, wpSummary(el))
		}
		pagesScanned++
		if _, serverPageSize, ok := totalAndPageSize(payload); ok {
			currentOffset += serverPageSize
		} else {
			currentOffset += pageSize
		}

		nextLink = hal.LinkHref(payload, "nextByOffset")
		if nextLink != "" {
			continue
		}
		// Offset fallback when the server omits the next link.
		if total, _, ok := totalAndPageSize(payload); ok && currentOffset < total {
			continue
		}
		break
	}

	result := map[string]any{
		"items":         items,
		"offset":        offset,
		"page_size":     pageSize,
		"pages_scanned": pagesScanned,
		"total":         len(items),
		"next_offset":   nil,
	}
	if total, ok := intFromPayload(lastPayload, "total"); ok {
		result["total"] = total
	}
	if nextLink != "" {
		result["next_offset"] = currentOffset
	}
	return jsonResult(result)
}

// CreateWorkPackageTool creates a work package, resolving every
// name-based input to its ID first.
type CreateWorkPackageTool struct {
	client *openproject.Client
	meta   *metadata.Service
}

func NewCreateWorkPackageTool(client *openproject.Client, meta *metadata.Service) *CreateWorkPackageTool {
	return &CreateWorkPackageTool{client: client, meta: meta}
}

func (t *CreateWorkPackageTool) Definition() mcp.Tool {
	return mcp.NewTool("create_work_package",
		mcp.WithDescription("Create a work package. Project, type, priority, and status accept names or IDs; names are resolved case-insensitively."),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Work package subject/title"),
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project ID, identifier, or name"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Work package type name, e.g. 'Task' or 'Bug'"),
		),
		mcp.WithString("description",
			mcp.Description("Description in markdown"),
		),
		mcp.WithString("priority",
			mcp.Description("Priority name, e.g. 'High'"),
		),
		mcp.WithString("status",
			mcp.Description("Initial status name"),
		),
	)
}

func (t *CreateWorkPackageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subject := strings.TrimSpace(req.GetString("subject", ""))
	if subject == "" {
		return mcp.NewToolResultError("'subject' is required"), nil
	}
	project := strings.TrimSpace(req.GetString("project", ""))
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}
	typeName := strings.TrimSpace(req.GetString("type", ""))
	if typeName == "" {
		return mcp.NewToolResultError("'type' is required"), nil
	}

	projectID, err := t.meta.ResolveProject(ctx, project)
	if err != nil {
		return errorResult(err)
	}
	typeID, err := t.meta.ResolveTypeForProject(ctx, strconv.Itoa(projectID), typeName)
	if err != nil {
		return errorResult(err)
	}

	links := map[string]any{
		"project": map[string]any{"href": fmt.Sprintf("/api/v3/projects/%d", projectID)},
		"type":    map[string]any{"href": fmt.Sprintf("/api/v3/types/%d", typeID)},
	}
	if priority := strings.TrimSpace(req.GetString("priority", "")); priority != "" {
		priorityID, err := t.meta.ResolvePriority(ctx, priority)
		if err != nil {
			return errorResult(err)
		}
		links["priority"] = map[string]any{"href": fmt.Sprintf("/api/v3/priorities/%d", priorityID)}
	}
	if status := strings.TrimSpace(req.GetString("status", "")); status != "" {
		statusID, err := t.meta.ResolveStatus(ctx, status)
		if err != nil {
			return errorResult(err)
		}
		links["status"] = map[string]any{"href": fmt.Sprintf("/api/v3/statuses/%d", statusID)}
	}

	body := map[string]any{
		"subject":     subject,
		"description": map[string]any{"raw": req.GetString("description", "")},
		"_links":      links,
	}
	created, err := t.client.Post(ctx, "/api/v3/work_packages", body, "work_packages")
	if err != nil {
		return errorResult(rewriteConflict(err))
	}
	return jsonResult(wpSummary(created))
}

// UpdateStatusTool changes only the status, echoing lockVersion.
type UpdateStatusTool struct {
	client *openproject.Client
	meta   *metadata.Service
}

func NewUpdateStatusTool(client *openproject.Client, meta *metadata.Service) *UpdateStatusTool {
	return &UpdateStatusTool{client: client, meta: meta}
}

func (t *UpdateStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("update_work_package_status",
		mcp.WithDescription("Change a work package's status by name, handling lockVersion concurrency."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Work package ID"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("Target status name, e.g. 'In progress'"),
		),
	)
}

func (t *UpdateStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' must be a positive work package ID"), nil
	}
	status := strings.TrimSpace(req.GetString("status", ""))
	if status == "" {
		return mcp.NewToolResultError("'status' is required"), nil
	}

	_, lockVersion, err := fetchWorkPackage(ctx, t.client, id, "work_packages")
	if err != nil {
		return errorResult(err)
	}
	statusID, err := t.meta.ResolveStatus(ctx, status)
	if err != nil {
		return errorResult(err)
	}

	body := map[string]any{
		"lockVersion": lockVersion,
		"_links": map[string]any{
			"status": map[string]any{"href": fmt.Sprintf("/api/v3/statuses/%d", statusID)},
		},
	}
	patched, err := t.client.Patch(ctx, fmt.Sprintf("/api/v3/work_packages/%d", id), body, "work_packages")
	if err != nil {
		return errorResult(rewriteConflict(err))
	}
	return jsonResult(wpSummary(patched))
}

// AddCommentTool posts a comment activity.
type AddCommentTool struct {
	client *openproject.Client
}

func NewAddCommentTool(client *openproject.Client) *AddCommentTool {
	return &AddCommentTool{client: client}
}

func (t *AddCommentTool) Definition() mcp.Tool {
	return mcp.NewTool("add_comment",
		mcp.WithDescription("Add a comment to a work package."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Work package ID"),
		),
		mcp.WithString("comment",
			mcp.Required(),
			mcp.Description("Comment text in markdown"),
		),
	)
}

func (t *AddCommentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' must be a positive work package ID"), nil
	}
	comment := req.GetString("comment", "")
	if strings.TrimSpace(comment) == "" {
		return mcp.NewToolResultError("'comment' is required"), nil
	}

	body := map[string]any{"comment": map[string]any{"raw": comment}}
	resp, err := t.client.Post(ctx, fmt.Sprintf("/api/v3/work_packages/%d/activities", id), body, "work_packages")
	if err != nil {
		return errorResult(err)
	}

	selfHref := hal.LinkHref(resp, "self")
	result := map[string]any{
		"work_package_id": id,
		"comment":         comment,
		"url":             selfHref,
		"activity_id":     nil,
	}
	if activityID, ok := hal.IDFromHref(selfHref); ok {
		result["activity_id"] = activityID
	}
	return jsonResult(result)
}
