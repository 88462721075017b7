// Package server wires all MCP components and creates the server
// instance.
//
// This is the composition root: it builds the HTTP client, the
// metadata service, and every tool, and registers them on the MCP
// server. No business logic lives here — only wiring.
package server

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/openproject-tools/openproject-mcp/internal/config"
	"github.com/openproject-tools/openproject-mcp/internal/metadata"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
	"github.com/openproject-tools/openproject-mcp/internal/reqctx"
	"github.com/openproject-tools/openproject-mcp/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// tool is the common shape every tool in this repo exposes.
type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// New creates and configures the MCP server with all tools registered.
// This is the single place where dependencies are resolved.
func New(cfg config.Config, log *slog.Logger) (*server.MCPServer, error) {
	if log == nil {
		log = slog.Default()
	}

	client, err := openproject.New(cfg.BaseURL, cfg.APIKey,
		openproject.WithTimeout(cfg.Timeout()),
		openproject.WithRetryPolicy(openproject.RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			BackoffBase:   cfg.Backoff(),
			RetryStatuses: []int{502, 503, 504},
			RetryOn429:    cfg.RetryOn429,
		}),
		openproject.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	meta := metadata.NewService(client, metadata.NewCache(cfg.CacheTTL()))

	s := server.NewMCPServer(
		"openproject-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(requestIDMiddleware(log)),
		server.WithInstructions(serverInstructions()),
	)

	for _, t := range []tool{
		// System
		tools.NewPingTool(client),

		// Metadata
		tools.NewListTypesTool(meta),
		tools.NewListStatusesTool(meta),
		tools.NewListPrioritiesTool(meta),

		// Projects
		tools.NewListProjectsTool(client),
		tools.NewProjectMembershipsTool(client, meta),

		// Work packages
		tools.NewGetWorkPackageTool(client),
		tools.NewListWorkPackagesTool(client, meta),
		tools.NewCreateWorkPackageTool(client, meta),
		tools.NewUpdateWorkPackageTool(client, meta),
		tools.NewUpdateStatusTool(client, meta),
		tools.NewAddCommentTool(client),
		tools.NewSearchTool(client),
		tools.NewListWorkPackageVersionsTool(client),

		// Users
		tools.NewGetUserTool(client),

		// Time tracking
		tools.NewLogTimeTool(client),

		// Attachments
		tools.NewAttachFileTool(client),
		tools.NewListAttachmentsTool(client),
		tools.NewDownloadAttachmentTool(client),
		tools.NewPreviewAttachmentTool(client),

		// Saved queries
		tools.NewListQueriesTool(client),
		tools.NewRunQueryTool(client),
	} {
		s.AddTool(t.Definition(), t.Handle)
	}

	return s, nil
}

// requestIDMiddleware gives every tool invocation a request ID and
// logs start/end around the handler.
func requestIDMiddleware(log *slog.Logger) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ctx, id := reqctx.EnsureRequestID(ctx)
			log.DebugContext(ctx, "tool.call",
				slog.String("tool", req.Params.Name),
				slog.String("request_id", id),
			)
			result, err := next(ctx, req)
			if err != nil {
				log.ErrorContext(ctx, "tool.error",
					slog.String("tool", req.Params.Name),
					slog.String("request_id", id),
					slog.String("error", err.Error()),
				)
			}
			return result, err
		}
	}
}

func serverInstructions() string {
	return `## OpenProject MCP Server

This server exposes one OpenProject instance as MCP tools: work
packages, projects, users, time entries, attachments, memberships,
and saved queries.

### Conventions
- Wherever a tool accepts a project, type, status, priority, or
  person, you may pass either the numeric ID or the display name.
  Names are matched case-insensitively; an ambiguous name returns the
  matching candidates so you can pick one.
- Durations ("2h", "30m", "2h 30m", "1.5h") are converted to the
  ISO-8601 form the API expects.
- Dates are YYYY-MM-DD.
- List tools page with 'offset' and 'page_size' and report
  'next_offset' when more data exists. run_query is the exception:
  its offset is a page number starting at 1.

### Typical flows
1. Call system_ping first to verify connectivity and credentials.
2. Discover context with list_projects, list_types, list_statuses.
3. Create and update work packages by name-based arguments; the
   server resolves them and handles lockVersion conflicts for you.
   On a conflict, re-fetch with get_work_package and retry.
4. Use search_work_packages for text search; it falls back to a
   client-side scan when the instance rejects the text filter.

### Permissions
Several tools (get_user, get_project_memberships, assignee
resolution) depend on the API key's permissions. A permission
failure is reported as such; prefer numeric IDs when a name cannot
be resolved.`
}
