package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/metadata"
)

// ListTypesTool lists the available work package types.
type ListTypesTool struct {
	meta *metadata.Service
}

func NewListTypesTool(meta *metadata.Service) *ListTypesTool {
	return &ListTypesTool{meta: meta}
}

func (t *ListTypesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_types",
		mcp.WithDescription("List all work package types (Bug, Task, Feature, ...) with their IDs."),
	)
}

func (t *ListTypesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types, err := t.meta.Types(ctx)
	if err != nil {
		return errorResult(err)
	}
	items := make([]map[string]any, len(types))
	for i, ty := range types {
		items[i] = map[string]any{"id": ty.ID, "name": ty.Name}
	}
	return jsonResult(items)
}

// ListStatusesTool lists the available work package statuses.
type ListStatusesTool struct {
	meta *metadata.Service
}

func NewListStatusesTool(meta *metadata.Service) *ListStatusesTool {
	return &ListStatusesTool{meta: meta}
}

func (t *ListStatusesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_statuses",
		mcp.WithDescription("List all work package statuses with their IDs and whether each one counts as closed."),
	)
}

func (t *ListStatusesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statuses, err := t.meta.Statuses(ctx)
	if err != nil {
		return errorResult(err)
	}
	items := make([]map[string]any, len(statuses))
	for i, st := range statuses {
		items[i] = map[string]any{"id": st.ID, "name": st.Name, "is_closed": st.IsClosed}
	}
	return jsonResult(items)
}

// ListPrioritiesTool lists the available priorities.
type ListPrioritiesTool struct {
	meta *metadata.Service
}

func NewListPrioritiesTool(meta *metadata.Service) *ListPrioritiesTool {
	return &ListPrioritiesTool{meta: meta}
}

func (t *ListPrioritiesTool) Definition() mcp.Tool {
	return mcp.NewTool("list_priorities",
		mcp.WithDescription("List all work package priorities (Low, Normal, High, ...) with their IDs."),
	)
}

func (t *ListPrioritiesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	priorities, err := t.meta.Priorities(ctx)
	if err != nil {
		return errorResult(err)
	}
	items := make([]map[string]any, len(priorities))
	for i, p := range priorities {
		items[i] = map[string]any{"id": p.ID, "name": p.Name}
	}
	return jsonResult(items)
}
