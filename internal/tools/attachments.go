package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/openproject-tools/openproject-mcp/internal/hal"
	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

const defaultPreviewBytes = 1024

// AttachFileTool uploads a file as a work package attachment, from a
// server-side path or inline base64 content.
type AttachFileTool struct {
	client *openproject.Client
}

func NewAttachFileTool(client *openproject.Client) *AttachFileTool {
	return &AttachFileTool{client: client}
}

func (t *AttachFileTool) Definition() mcp.Tool {
	return mcp.NewTool("attach_file",
		mcp.WithDescription(
			"Attach a file to a work package. Provide either a server-side file_path "+
				"or content_base64, not both. The upload is never retried.",
		),
		mcp.WithNumber("work_package_id",
			mcp.Required(),
			mcp.Description("Target work package ID"),
		),
		mcp.WithString("file_path",
			mcp.Description("Path of the file on the server running this adapter"),
		),
		mcp.WithString("content_base64",
			mcp.Description("Inline file content, base64-encoded"),
		),
		mcp.WithString("file_name",
			mcp.Description("File name to record; defaults to the path's base name"),
		),
		mcp.WithString("description",
			mcp.Description("Attachment description"),
		),
		mcp.WithString("content_type",
			mcp.Description("MIME type; guessed from the file name when omitted"),
		),
	)
}

func (t *AttachFileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wpID := req.GetInt("work_package_id", 0)
	if wpID <= 0 {
		return mcp.NewToolResultError("'work_package_id' must be a positive work package ID"), nil
	}
	filePath := strings.TrimSpace(req.GetString("file_path", ""))
	contentB64 := strings.TrimSpace(req.GetString("content_base64", ""))
	if filePath != "" && contentB64 != "" {
		return mcp.NewToolResultError("Provide either 'file_path' or 'content_base64', not both."), nil
	}
	if filePath == "" && contentB64 == "" {
		return mcp.NewToolResultError("Either 'file_path' or 'content_base64' must be provided."), nil
	}

	up := openproject.Upload{
		FilePath:    filePath,
		FileName:    strings.TrimSpace(req.GetString("file_name", "")),
		Description: req.GetString("description", ""),
		ContentType: req.GetString("content_type", ""),
	}
	if contentB64 != "" {
		content, err := base64.StdEncoding.DecodeString(contentB64)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid base64 content: %v", err)), nil
		}
		up.Content = content
	}

	payload, err := t.client.UploadAttachment(ctx,
		fmt.Sprintf("/api/v3/work_packages/%d/attachments", wpID), up, "attachments")
	if err != nil {
		var clientErr *openproject.ClientError
		if errors.As(err, &clientErr) {
			return mcp.NewToolResultError(clientErr.Error()), nil
		}
		return errorResult(err)
	}

	result := map[string]any{
		"work_package_id": wpID,
		"file_name":       payload["fileName"],
		"id":              nil,
	}
	if id, ok := intFromPayload(payload, "id"); ok {
		result["id"] = id
	}
	return jsonResult(result)
}

// ListAttachmentsTool lists a work package's attachments.
type ListAttachmentsTool struct {
	client *openproject.Client
}

func NewListAttachmentsTool(client *openproject.Client) *ListAttachmentsTool {
	return &ListAttachmentsTool{client: client}
}

func (t *ListAttachmentsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_attachments",
		mcp.WithDescription("List attachments on a work package. A 404 can mean the work package is hidden from this token."),
		mcp.WithNumber("work_package_id",
			mcp.Required(),
			mcp.Description("Work package ID"),
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

func (t *ListAttachmentsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wpID := req.GetInt("work_package_id", 0)
	if wpID <= 0 {
		return mcp.NewToolResultError("'work_package_id' must be a positive work package ID"), nil
	}
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return mcp.NewToolResultError("'offset' must be >= 0"), nil
	}
	pageSize := clampPageSize(req.GetInt("page_size", defaultPageSize))

	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("pageSize", strconv.Itoa(pageSize))
	payload, err := t.client.Get(ctx, fmt.Sprintf("/api/v3/work_packages/%d/attachments", wpID), params, "attachments")
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
			"id":            nil,
			"file_name":     nil,
			"file_size":     el["fileSize"],
			"download_href": nil,
		}
		if id, ok := intFromPayload(el, "id"); ok {
			item["id"] = id
		} else if id, ok := hal.IDFromHref(hal.LinkHref(el, "self")); ok {
			item["id"] = id
		}
		if name, ok := el["fileName"].(string); ok && name != "" {
			item["file_name"] = name
		} else if title := hal.LinkTitle(el, "self"); title != "" {
			item["file_name"] = title
		}
		if href := hal.LinkHref(el, "downloadLocation"); href != "" {
			item["download_href"] = href
		}
		items[i] = item
	}

	result := map[string]any{
		"items":       items,
		"offset":      offset,
		"page_size":   pageSize,
		"total":       nil,
		"next_offset": nil,
	}
	if total, ok := intFromPayload(payload, "total"); ok {
		result["total"] = total
		if offset+pageSize < total {
			result["next_offset"] = offset + pageSize
		}
	}
	return jsonResult(result)
}

// downloadLocation resolves an attachment's downloadLocation link.
func downloadLocation(ctx context.Context, client *openproject.Client, attachmentID int) (href, fileName string, err error) {
	payload, err := client.Get(ctx, fmt.Sprintf("/api/v3/attachments/%d", attachmentID), nil, "attachments")
	if err != nil {
		return "", "", err
	}
	href = hal.LinkHref(payload, "downloadLocation")
	if href == "" {
		return "", "", fmt.Errorf("attachment %d has no downloadLocation link", attachmentID)
	}
	fileName, _ = payload["fileName"].(string)
	return href, fileName, nil
}

// DownloadAttachmentTool saves an attachment to the server-side
// filesystem.
type DownloadAttachmentTool struct {
	client *openproject.Client
}

func NewDownloadAttachmentTool(client *openproject.Client) *DownloadAttachmentTool {
	return &DownloadAttachmentTool{client: client}
}

func (t *DownloadAttachmentTool) Definition() mcp.Tool {
	return mcp.NewTool("download_attachment",
		mcp.WithDescription("Download an attachment to a path on the server running this adapter. Returns the absolute saved path."),
		mcp.WithNumber("attachment_id",
			mcp.Required(),
			mcp.Description("Attachment ID"),
		),
		mcp.WithString("dest_path",
			mcp.Description("Destination file or directory; defaults to the working directory with the original file name."),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Overwrite an existing destination file."),
		),
	)
}

func (t *DownloadAttachmentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	attachmentID := req.GetInt("attachment_id", 0)
	if attachmentID <= 0 {
		return mcp.NewToolResultError("'attachment_id' must be a positive attachment ID"), nil
	}

	href, fileName, err := downloadLocation(ctx, t.client, attachmentID)
	if err != nil {
		return errorResult(err)
	}

	dest := strings.TrimSpace(req.GetString("dest_path", ""))
	if dest == "" || strings.HasSuffix(dest, string(filepath.Separator)) || isDir(dest) {
		if fileName == "" {
			fileName = fmt.Sprintf("attachment-%d", attachmentID)
		}
		dest = filepath.Join(dest, fileName)
	}

	saved, err := t.client.Download(ctx, href, dest, req.GetBool("overwrite", false), "attachments")
	if err != nil {
		var clientErr *openproject.ClientError
		if errors.As(err, &clientErr) {
			return mcp.NewToolResultError(clientErr.Error()), nil
		}
		return errorResult(err)
	}
	return jsonResult(map[string]any{
		"attachment_id": attachmentID,
		"path":          saved,
	})
}

// PreviewAttachmentTool returns the first bytes of an attachment,
// base64-encoded, using a Range request.
type PreviewAttachmentTool struct {
	client *openproject.Client
}

func NewPreviewAttachmentTool(client *openproject.Client) *PreviewAttachmentTool {
	return &PreviewAttachmentTool{client: client}
}

func (t *PreviewAttachmentTool) Definition() mcp.Tool {
	return mcp.NewTool("preview_attachment",
		mcp.WithDescription("Fetch the first bytes of an attachment (base64) to inspect its content without a full download."),
		mcp.WithNumber("attachment_id",
			mcp.Required(),
			mcp.Description("Attachment ID"),
		),
		mcp.WithNumber("max_bytes",
			mcp.Description("How many bytes to fetch. Defaults to 1024."),
			mcp.DefaultNumber(defaultPreviewBytes),
		),
	)
}

func (t *PreviewAttachmentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	attachmentID := req.GetInt("attachment_id", 0)
	if attachmentID <= 0 {
		return mcp.NewToolResultError("'attachment_id' must be a positive attachment ID"), nil
	}
	maxBytes := req.GetInt("max_bytes", defaultPreviewBytes)
	if maxBytes <= 0 {
		return mcp.NewToolResultError("'max_bytes' must be > 0"), nil
	}

	href, _, err := downloadLocation(ctx, t.client, attachmentID)
	if err != nil {
		return errorResult(err)
	}
	data, contentType, err := t.client.Preview(ctx, href, maxBytes, "attachments")
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(map[string]any{
		"attachment_id": attachmentID,
		"bytes":         base64.StdEncoding.EncodeToString(data),
		"size":          len(data),
		"content_type":  contentType,
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
