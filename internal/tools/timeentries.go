package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/duration"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

// LogTimeTool records a time entry against a work package.
type LogTimeTool struct {
	client *openproject.Client
}

func NewLogTimeTool(client *openproject.Client) *LogTimeTool {
	return &LogTimeTool{client: client}
}

func (t *LogTimeTool) Definition() mcp.Tool {
	return mcp.NewTool("log_time",
		mcp.WithDescription("Log time spent on a work package. Durations accept human forms like '2h', '30m', '2h 30m', or '1.5h'."),
		mcp.WithNumber("work_package_id",
			mcp.Required(),
			mcp.Description("Target work package ID"),
		),
		mcp.WithString("duration",
			mcp.Required(),
			mcp.Description("Time spent, e.g. '2h 30m'"),
		),
		mcp.WithString("comment",
			mcp.Description("Optional comment"),
		),
		mcp.WithNumber("activity_id",
			mcp.Description("Time entry activity ID. Defaults to 1."),
			mcp.DefaultNumber(1),
		),
		mcp.WithString("spent_on",
			mcp.Description("Date the time was spent, YYYY-MM-DD. Defaults to today."),
		),
	)
}

func (t *LogTimeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wpID := req.GetInt("work_package_id", 0)
	if wpID <= 0 {
		return mcp.NewToolResultError("'work_package_id' must be a positive work package ID"), nil
	}
	rawDuration := req.GetString("duration", "")

	isoDuration, err := duration.Parse(rawDuration)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(
			"%s Accepted examples: '2h', '30m', '2h 30m'. Use hours (h) and minutes (m).", err,
		)), nil
	}

	spentOn := strings.TrimSpace(req.GetString("spent_on", ""))
	if spentOn == "" {
		spentOn = time.Now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", spentOn); err != nil {
		return mcp.NewToolResultError("'spent_on' must be a date in YYYY-MM-DD form"), nil
	}
	activityID := req.GetInt("activity_id", 1)

	body := map[string]any{
		"hours":   isoDuration,
		"comment": map[string]any{"raw": req.GetString("comment", "")},
		"spentOn": spentOn,
		"_links": map[string]any{
			"entity":   map[string]any{"href": fmt.Sprintf("/api/v3/work_packages/%d", wpID)},
			"activity": map[string]any{"href": fmt.Sprintf("/api/v3/time_entries/activities/%d", activityID)},
		},
	}
	if _, err := t.client.Post(ctx, "/api/v3/time_entries", body, "time_entries"); err != nil {
		return errorResult(err)
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Logged %s to work package %d on %s.", rawDuration, wpID, spentOn,
	)), nil
}
