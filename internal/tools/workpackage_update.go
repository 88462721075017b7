package tools

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/duration"
	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/metadata"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// UpdateWorkPackageTool updates any combination of work package
// fields in a single PATCH. Only supplied arguments change; an empty
// string for assignee, accountable, or version clears the field.
type UpdateWorkPackageTool struct {
	client *openproject.Client
	meta   *metadata.Service
}

func NewUpdateWorkPackageTool(client *openproject.Client, meta *metadata.Service) *UpdateWorkPackageTool {
	return &UpdateWorkPackageTool{client: client, meta: meta}
}

func (t *UpdateWorkPackageTool) Definition() mcp.Tool {
	return mcp.NewTool("update_work_package",
		mcp.WithDescription(
			"Update a work package. Only the fields you supply are changed. "+
				"Names are resolved to IDs (status, priority, type, project, assignee, accountable, version). "+
				"Pass an empty string for assignee, accountable, or version to clear the field.",
		),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Work package ID"),
		),
		mcp.WithString("subject", mcp.Description("New subject")),
		mcp.WithString("description", mcp.Description("Replace the description (markdown)")),
		mcp.WithString("append_description", mcp.Description("Append to the existing description instead of replacing it")),
		mcp.WithString("status", mcp.Description("Status name")),
		mcp.WithString("priority", mcp.Description("Priority name")),
		mcp.WithString("type", mcp.Description("Type name, validated against the project's enabled types")),
		mcp.WithString("project", mcp.Description("Move to this project (ID, identifier, or name)")),
		mcp.WithString("assignee", mcp.Description("Assignee name, login, mail, or numeric ID; empty clears")),
		mcp.WithString("accountable", mcp.Description("Accountable/responsible person; empty clears")),
		mcp.WithString("version", mcp.Description("Version name or numeric ID; empty clears")),
		mcp.WithString("start_date", mcp.Description("Start date, YYYY-MM-DD")),
		mcp.WithString("due_date", mcp.Description("Due date, YYYY-MM-DD")),
		mcp.WithNumber("percent_done", mcp.Description("Percentage done, 0..100")),
		mcp.WithString("estimated_time", mcp.Description("Estimated time: ISO-8601 (PT2H30M) or human form like '2h 30m'")),
	)
}

func (t *UpdateWorkPackageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return mcp.NewToolResultError("'id' must be a positive work package ID"), nil
	}
	args := req.GetArguments()
	has := func(key string) bool { _, ok := args[key]; return ok }

	if has("description") && has("append_description") {
		return mcp.NewToolResultError("Provide either 'description' or 'append_description', not both."), nil
	}

	current, lockVersion, err := fetchWorkPackage(ctx, t.client, id, "work_packages")
	if err != nil {
		return errorResult(err)
	}

	body := map[string]any{"lockVersion": lockVersion}
	links := map[string]any{}

	if has("subject") {
		body["subject"] = req.GetString("subject", "")
	}
	if has("description") {
		body["description"] = map[string]any{"raw": req.GetString("description", "")}
	} else if has("append_description") {
		existing := strings.TrimRight(descriptionText(current["description"]), " \t\n")
		appended := req.GetString("append_description", "")
		if existing != "" {
			appended = existing + "\n\n" + appended
		}
		body["description"] = map[string]any{"raw": appended}
	}
	if has("start_date") {
		body["startDate"] = req.GetString("start_date", "")
	}
	if has("due_date") {
		body["dueDate"] = req.GetString("due_date", "")
	}
	if has("percent_done") {
		percent := req.GetInt("percent_done", 0)
		if percent < 0 || percent > 100 {
			return mcp.NewToolResultError("'percent_done' must be between 0 and 100"), nil
		}
		body["percentageDone"] = percent
	}
	if has("estimated_time") {
		estimated := strings.TrimSpace(req.GetString("estimated_time", ""))
		if !strings.HasPrefix(estimated, "PT") {
			estimated, err = duration.Parse(estimated)
			if err != nil {
				return errorResult(err)
			}
		}
		body["estimatedTime"] = estimated
	}

	if status := strings.TrimSpace(req.GetString("status", "")); status != "" {
		statusID, err := t.meta.ResolveStatus(ctx, status)
		if err != nil {
			return errorResult(err)
		}
		links["status"] = map[string]any{"href": fmt.Sprintf("/api/v3/statuses/%d", statusID)}
	}
	if priority := strings.TrimSpace(req.GetString("priority", "")); priority != "" {
		priorityID, err := t.meta.ResolvePriority(ctx, priority)
		if err != nil {
			return errorResult(err)
		}
		links["priority"] = map[string]any{"href": fmt.Sprintf("/api/v3/priorities/%d", priorityID)}
	}
	if has("version") {
		if version := strings.TrimSpace(req.GetString("version", "")); version == "" {
			links["version"] = map[string]any{"href": nil}
		} else {
			if hal.Link(current, "version") == nil {
				return mcp.NewToolResultError("Version is not writable for this work package; please check project/type settings."), nil
			}
			versionID, err := t.resolveVersion(ctx, current, version)
			if err != nil {
				return errorResult(err)
			}
			links["version"] = map[string]any{"href": fmt.Sprintf("/api/v3/versions/%d", versionID)}
		}
	}
	if has("assignee") {
		if assignee := strings.TrimSpace(req.GetString("assignee", "")); assignee == "" {
			links["assignee"] = map[string]any{"href": nil}
		} else {
			assigneeID, err := t.resolvePrincipal(ctx, current, assignee)
			if err != nil {
				return errorResult(err)
			}
			links["assignee"] = map[string]any{"href": fmt.Sprintf("/api/v3/users/%d", assigneeID)}
		}
	}
	if has("accountable") {
		if accountable := strings.TrimSpace(req.GetString("accountable", "")); accountable == "" {
			links["responsible"] = map[string]any{"href": nil}
		} else {
			responsibleID, err := t.resolvePrincipal(ctx, current, accountable)
			if err != nil {
				return errorResult(err)
			}
			links["responsible"] = map[string]any{"href": fmt.Sprintf("/api/v3/users/%d", responsibleID)}
		}
	}
	if typeName := strings.TrimSpace(req.GetString("type", "")); typeName != "" {
		typeID, err := t.resolveType(ctx, current, typeName)
		if err != nil {
			return errorResult(err)
		}
		links["type"] = map[string]any{"href": fmt.Sprintf("/api/v3/types/%d", typeID)}
	}
	if project := strings.TrimSpace(req.GetString("project", "")); project != "" {
		projectID, err := t.meta.ResolveProject(ctx, project)
		if err != nil {
			return errorResult(err)
		}
		links["project"] = map[string]any{"href": fmt.Sprintf("/api/v3/projects/%d", projectID)}
	}

	if len(links) > 0 {
		body["_links"] = links
	}

	patched, err := t.client.Patch(ctx, fmt.Sprintf("/api/v3/work_packages/%d", id), body, "work_packages")
	if err != nil {
		return errorResult(rewriteConflict(err))
	}
	return jsonResult(wpSummary(patched))
}

// resolveType prefers the work package's project context so names
// resolve against the types actually enabled there.
func (t *UpdateWorkPackageTool) resolveType(ctx context.Context, current map[string]any, typeName string) (int, error) {
	if projectID, ok := hal.IDFromHref(hal.LinkHref(current, "project")); ok {
		if id, err := t.meta.ResolveTypeForProject(ctx, strconv.Itoa(projectID), typeName); err == nil {
			return id, nil
		}
	}
	return t.meta.ResolveType(ctx, typeName)
}

// resolveVersion maps a version name to its ID within the work
// package's project. Numeric input is trusted as an ID.
func (t *UpdateWorkPackageTool) resolveVersion(ctx context.Context, current map[string]any, query string) (int, error) {
	if id, err := strconv.Atoi(strings.TrimSpace(query)); err == nil && id > 0 {
		return id, nil
	}
	projectID, ok := hal.IDFromHref(hal.LinkHref(current, "project"))
	if !ok {
		return 0, &metadata.UnavailableError{Query: query, Message: "Cannot resolve version: work package project is unknown."}
	}

	versions, err := t.projectVersions(ctx, projectID)
	if err != nil {
		var httpErr *openproject.HTTPError
		if errors.As(err, &httpErr) && (httpErr.StatusCode == 403 || httpErr.StatusCode == 404) {
			return 0, httpErr.Rewrite("Version list unavailable for this project; provide a numeric version id or check permissions.")
		}
		return 0, err
	}
	return matchNamed(query, versions, "version")
}

// projectVersions pages through /projects/{id}/versions.
func (t *UpdateWorkPackageTool) projectVersions(ctx context.Context, projectID int) ([]namedRef, error) {
	var versions []namedRef
	offset := 0
	for {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("pageSize", strconv.Itoa(maxPageSize))
		payload, err := t.client.Get(ctx, fmt.Sprintf("/api/v3/projects/%d/versions", projectID), params, "work_packages")
		if err != nil {
			return nil, err
		}
		batch, err := hal.Elements(payload)
		if err != nil {
			return nil, err
		}
		for _, el := range batch {
			ref := namedRef{}
			ref.Name, _ = el["name"].(string)
			ref.ID, _ = intFromPayload(el, "id")
			versions = append(versions, ref)
		}
		if len(batch) < maxPageSize {
			return versions, nil
		}
		offset += maxPageSize
	}
}

// resolvePrincipal maps a person query to a user ID. Numeric input is
// trusted; otherwise the work package's availableAssignees list is
// tried first, then the project's memberships, then the global user
// resolver.
func (t *UpdateWorkPackageTool) resolvePrincipal(ctx context.Context, current map[string]any, query string) (int, error) {
	if id, err := strconv.Atoi(strings.TrimSpace(query)); err == nil && id > 0 {
		return id, nil
	}

	if avail, err := t.availableAssignees(ctx, current); err == nil && len(avail) > 0 {
		if id, err := matchNamed(query, avail, "user"); err == nil {
			return id, nil
		}
	}

	if projectID, ok := hal.IDFromHref(hal.LinkHref(current, "project")); ok {
		if principals, err := t.membershipPrincipals(ctx, projectID); err == nil && len(principals) > 0 {
			if id, err := matchNamed(query, principals, "user"); err == nil {
				return id, nil
			}
		}
	}

	return t.meta.ResolveUser(ctx, query)
}

// availableAssignees follows the work package's availableAssignees
// link. Page offsets here are page numbers, starting at 1.
func (t *UpdateWorkPackageTool) availableAssignees(ctx context.Context, current map[string]any) ([]namedRef, error) {
	href := hal.LinkHref(current, "availableAssignees")
	if href == "" {
		return nil, nil
	}

	var principals []namedRef
	page := 1
	for {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(page))
		payload, err := t.client.Get(ctx, href, params, "work_packages")
		if err != nil {
			var httpErr *openproject.HTTPError
			if errors.As(err, &httpErr) && (httpErr.StatusCode == 403 || httpErr.StatusCode == 404) {
				return nil, nil
			}
			return nil, err
		}
		batch, err := hal.Elements(payload)
		if err != nil {
			return nil, err
		}
		for _, el := range batch {
			ref := namedRef{}
			ref.Name, _ = el["name"].(string)
			if ref.Name == "" {
				ref.Name, _ = el["fullName"].(string)
			}
			if id, ok := hal.IDFromHref(hal.LinkHref(el, "self")); ok {
				ref.ID = id
			} else {
				ref.ID, _ = intFromPayload(el, "id")
			}
			principals = append(principals, ref)
		}
		total, serverPageSize, ok := totalAndPageSize(payload)
		if !ok || page*serverPageSize >= total {
			return principals, nil
		}
		page++
	}
}

// membershipPrincipals lists the principals holding a membership in
// the project.
func (t *UpdateWorkPackageTool) membershipPrincipals(ctx context.Context, projectID int) ([]namedRef, error) {
	var principals []namedRef
	offset := 0
	filters := filtersJSON([]filter{{field: "project", operator: "=", values: []string{strconv.Itoa(projectID)}}})
	for {
		params := url.Values{}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("pageSize", strconv.Itoa(maxPageSize))
		params.Set("filters", filters)
		payload, err := t.client.Get(ctx, "/api/v3/memberships", params, "work_packages")
		if err != nil {
			return nil, err
		}
		batch, err := hal.Elements(payload)
		if err != nil {
			return nil, err
		}
		for _, el := range batch {
			ref := namedRef{Name: hal.LinkTitle(el, "principal")}
			if id, ok := hal.IDFromHref(hal.LinkHref(el, "principal")); ok {
				ref.ID = id
			}
			principals = append(principals, ref)
		}
		if len(batch) < maxPageSize {
			return principals, nil
		}
		offset += maxPageSize
	}
}

// namedRef is the minimal shape principal and version matching needs.
type namedRef struct {
	ID   int
	Name string
}

// matchNamed resolves exact-then-substring against a fetched list,
// asking for a numeric ID when the name is ambiguous or missing.
func matchNamed(query string, items []namedRef, kind string) (int, error) {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	q := norm(query)

	var exact, partial []namedRef
	for _, item := range items {
		n := norm(item.Name)
		if n == q {
			exact = append(exact, item)
		} else if q != "" && strings.Contains(n, q) {
			partial = append(partial, item)
		}
	}
	if len(exact) == 1 && exact[0].ID != 0 {
		return exact[0].ID, nil
	}
	if len(exact) == 0 && len(partial) == 1 && partial[0].ID != 0 {
		return partial[0].ID, nil
	}
	if len(exact) > 1 || len(partial) > 1 {
		return 0, &metadata.UnavailableError{
			Query:   query,
			Message: fmt.Sprintf("Name '%s' is ambiguous; please specify a numeric %s id.", query, kind),
		}
	}
	label := strings.ToUpper(kind[:1]) + kind[1:]
	return 0, &metadata.UnavailableError{
		Query:   query,
		Message: fmt.Sprintf("%s '%s' not found; provide a numeric %s id.", label, query, kind),
	}
}
