package openproject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"
)

// Upload describes one attachment upload. Exactly one of FilePath and
// Content must be set; FileName defaults to the file's base name and
// ContentType is guessed from the name when empty.
type Upload struct {
	FilePath    string
	Content     []byte
	FileName    string
	Description string
	ContentType string
}

// UploadAttachment posts a multipart attachment with the two part
// names the API requires: "metadata" (JSON) and "file" (binary).
// File content streams from disk rather than being buffered.
//
// Uploads are deliberately NOT retried — a retry after an ambiguous
// failure could attach the file twice.
func (c *Client) UploadAttachment(ctx context.Context, path string, up Upload, tool string) (map[string]any, error) {
	src, fileName, contentType, err := up.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	metadata := map[string]any{"fileName": fileName}
	if up.Description != "" {
		metadata["description"] = up.Description
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, &ClientError{Err: fmt.Errorf("encoding attachment metadata: %w", err)}
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(writer, metadataJSON, fileName, contentType, src))
	}()

	reqURL, err := c.buildURL(path, nil)
	if err != nil {
		return nil, &ClientError{Method: http.MethodPost, URL: path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, pr)
	if err != nil {
		return nil, &ClientError{Method: http.MethodPost, URL: reqURL, Err: err}
	}
	c.setAuth(ctx, req)
	req.Header.Set("Accept", "application/hal+json")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ClientError{Method: http.MethodPost, URL: reqURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ClientError{Method: http.MethodPost, URL: reqURL, Err: fmt.Errorf("reading response body: %w", err)}
	}

	c.logAttempt(ctx, tool, http.MethodPost, reqURL, resp.StatusCode, 0, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, toHTTPError(resp.StatusCode, http.MethodPost, reqURL, respBody)
	}
	return decodeObject(http.MethodPost, reqURL, respBody)
}

// open resolves the upload source, validating that the content is
// non-empty before any network traffic happens.
func (up Upload) open() (io.ReadCloser, string, string, error) {
	if up.FilePath != "" && up.Content != nil {
		return nil, "", "", &ClientError{Err: fmt.Errorf("provide either a file path or inline content, not both")}
	}

	var (
		src      io.ReadCloser
		fileName = up.FileName
	)
	switch {
	case up.FilePath != "":
		info, err := os.Stat(up.FilePath)
		if err != nil || info.IsDir() {
			return nil, "", "", &ClientError{Err: fmt.Errorf("file not found: %s", up.FilePath)}
		}
		if info.Size() == 0 {
			return nil, "", "", &ClientError{Err: fmt.Errorf("attachment content is empty; refusing to upload")}
		}
		f, err := os.Open(up.FilePath)
		if err != nil {
			return nil, "", "", &ClientError{Err: fmt.Errorf("opening %s: %w", up.FilePath, err)}
		}
		src = f
		if fileName == "" {
			fileName = filepath.Base(up.FilePath)
		}
	case up.Content != nil:
		if len(up.Content) == 0 {
			return nil, "", "", &ClientError{Err: fmt.Errorf("attachment content is empty; refusing to upload")}
		}
		src = io.NopCloser(bytes.NewReader(up.Content))
		if fileName == "" {
			fileName = "attachment.bin"
		}
	default:
		return nil, "", "", &ClientError{Err: fmt.Errorf("either a file path or inline content must be provided")}
	}

	contentType := up.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fileName))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return src, fileName, contentType, nil
}

func writeMultipart(writer *multipart.Writer, metadataJSON []byte, fileName, contentType string, src io.Reader) error {
	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Disposition", `form-data; name="metadata"`)
	metaHeader.Set("Content-Type", "application/json")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return err
	}
	if _, err := metaPart.Write(metadataJSON); err != nil {
		return err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	fileHeader.Set("Content-Type", contentType)
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return err
	}
	if _, err := io.Copy(filePart, src); err != nil {
		return err
	}
	return writer.Close()
}

// Download streams an attachment to destPath, creating parent
// directories. A partial file left by a failed transfer is removed.
func (c *Client) Download(ctx context.Context, href, destPath string, overwrite bool, tool string) (string, error) {
	if !overwrite {
		if _, err := os.Stat(destPath); err == nil {
			return "", &ClientError{Err: fmt.Errorf("file exists: %s", destPath)}
		}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", &ClientError{Err: fmt.Errorf("creating destination directory: %w", err)}
	}

	start := time.Now()
	resp, reqURL, err := c.rawGet(ctx, href, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
		return "", toHTTPError(resp.StatusCode, http.MethodGet, reqURL, body)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return "", &ClientError{Err: fmt.Errorf("creating %s: %w", destPath, err)}
	}
	if _, err := io.Copy(dest, resp.Body); err != nil {
		_ = dest.Close()
		_ = os.Remove(destPath)
		return "", &ClientError{Method: http.MethodGet, URL: reqURL, Err: fmt.Errorf("writing %s: %w", destPath, err)}
	}
	if err := dest.Close(); err != nil {
		_ = os.Remove(destPath)
		return "", &ClientError{Err: fmt.Errorf("closing %s: %w", destPath, err)}
	}

	c.logAttempt(ctx, tool, http.MethodGet, reqURL, resp.StatusCode, 0, start)

	abs, err := filepath.Abs(destPath)
	if err != nil {
		return destPath, nil
	}
	return abs, nil
}

// Preview fetches up to maxBytes of a resource using a Range request,
// retrying once without the Range header when the server answers 416.
// Returns the bytes and the response content type.
func (c *Client) Preview(ctx context.Context, href string, maxBytes int, tool string) ([]byte, string, error) {
	if maxBytes <= 0 {
		return nil, "", &ClientError{Err: fmt.Errorf("maxBytes must be > 0")}
	}

	start := time.Now()
	rangeHeader := fmt.Sprintf("bytes=0-%d", maxBytes-1)
	resp, reqURL, err := c.rawGet(ctx, href, map[string]string{"Range": rangeHeader})
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		_ = resp.Body.Close()
		resp, reqURL, err = c.rawGet(ctx, href, nil)
		if err != nil {
			return nil, "", err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
		return nil, "", toHTTPError(resp.StatusCode, http.MethodGet, reqURL, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)))
	if err != nil {
		return nil, "", &ClientError{Method: http.MethodGet, URL: reqURL, Err: fmt.Errorf("reading preview: %w", err)}
	}
	c.logAttempt(ctx, tool, http.MethodGet, reqURL, resp.StatusCode, 0, start)
	return data, resp.Header.Get("Content-Type"), nil
}

// rawGet issues a single authenticated GET without retries or body
// decoding, for streaming consumers.
func (c *Client) rawGet(ctx context.Context, href string, headers map[string]string) (*http.Response, string, error) {
	reqURL, err := c.buildURL(href, nil)
	if err != nil {
		return nil, "", &ClientError{Method: http.MethodGet, URL: href, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", &ClientError{Method: http.MethodGet, URL: reqURL, Err: err}
	}
	c.setAuth(ctx, req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", &ClientError{Method: http.MethodGet, URL: reqURL, Err: err}
	}
	return resp, reqURL, nil
}
