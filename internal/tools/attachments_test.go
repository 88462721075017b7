package tools

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAttachFileToolInlineContent(t *testing.T) {
	var gotMetadata, gotFile string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/work_packages/42/attachments", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart: %v", err)
			w.WriteHeader(400)
			return
		}
		gotMetadata = r.FormValue("metadata")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
			w.WriteHeader(400)
			return
		}
		defer file.Close()
		buf := make([]byte, 64)
		n, _ := file.Read(buf)
		gotFile = string(buf[:n])
		writeJSON(w, 201, map[string]any{"id": 9, "fileName": "notes.txt"})
	})
	client, _ := newFixture(t, mux)

	result, err := NewAttachFileTool(client).Handle(context.Background(), request(map[string]any{
		"work_package_id": 42,
		"content_base64":  base64.StdEncoding.EncodeToString([]byte("hello world")),
		"file_name":       "notes.txt",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	if !strings.Contains(gotMetadata, `"fileName":"notes.txt"`) {
		t.Errorf("metadata = %s", gotMetadata)
	}
	if gotFile != "hello world" {
		t.Errorf("file content = %q", gotFile)
	}
	if out["id"] != float64(9) || out["file_name"] != "notes.txt" {
		t.Errorf("result = %v", out)
	}
}

func TestAttachFileToolSourceValidation(t *testing.T) {
	client, _ := newFixture(t, http.NewServeMux())
	tool := NewAttachFileTool(client)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"no source", map[string]any{"work_package_id": 42}},
		{"both sources", map[string]any{
			"work_package_id": 42,
			"file_path":       "/tmp/a.txt",
			"content_base64":  "aGk=",
		}},
		{"bad base64", map[string]any{
			"work_package_id": 42,
			"content_base64":  "!!not-base64!!",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Handle(context.Background(), request(tt.args))
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if !isErrorResult(result) {
				t.Fatal("expected tool error")
			}
		})
	}
}

func TestAttachFileToolMissingFile(t *testing.T) {
	client, _ := newFixture(t, http.NewServeMux())

	result, err := NewAttachFileTool(client).Handle(context.Background(), request(map[string]any{
		"work_package_id": 42,
		"file_path":       filepath.Join(t.TempDir(), "missing.txt"),
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected tool error for a missing file")
	}
}

func TestListAttachmentsTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/work_packages/42/attachments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, collection(
			map[string]any{
				"id": 9, "fileName": "notes.txt", "fileSize": 11,
				"_links": map[string]any{
					"self":             map[string]any{"href": "/api/v3/attachments/9"},
					"downloadLocation": map[string]any{"href": "/api/v3/attachments/9/content"},
				},
			},
			map[string]any{
				// Older payloads carry the name only on the self link.
				"fileSize": 2048,
				"_links": map[string]any{
					"self": map[string]any{"href": "/api/v3/attachments/10", "title": "diagram.png"},
				},
			},
		))
	})
	client, _ := newFixture(t, mux)

	result, err := NewListAttachmentsTool(client).Handle(context.Background(), request(map[string]any{
		"work_package_id": 42,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	items := out["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	first := items[0].(map[string]any)
	if first["id"] != float64(9) || first["file_name"] != "notes.txt" {
		t.Errorf("first = %v", first)
	}
	if first["download_href"] != "/api/v3/attachments/9/content" {
		t.Errorf("download_href = %v", first["download_href"])
	}
	second := items[1].(map[string]any)
	if second["id"] != float64(10) || second["file_name"] != "diagram.png" {
		t.Errorf("second should fall back to the self link: %v", second)
	}
	if second["download_href"] != nil {
		t.Errorf("second download_href = %v, want nil", second["download_href"])
	}
}

func TestDownloadAttachmentToolDirectoryDest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/attachments/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"id": 9, "fileName": "notes.txt",
			"_links": map[string]any{
				"downloadLocation": map[string]any{"href": "/api/v3/attachments/9/content"},
			},
		})
	})
	mux.HandleFunc("/api/v3/attachments/9/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello world"))
	})
	client, _ := newFixture(t, mux)

	dir := t.TempDir()
	result, err := NewDownloadAttachmentTool(client).Handle(context.Background(), request(map[string]any{
		"attachment_id": 9,
		"dest_path":     dir,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	path, _ := out["path"].(string)
	if filepath.Base(path) != "notes.txt" {
		t.Errorf("saved path = %q, want the original file name inside the directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q", data)
	}
}

func TestDownloadAttachmentToolRefusesOverwrite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/attachments/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"id": 9, "fileName": "notes.txt",
			"_links": map[string]any{
				"downloadLocation": map[string]any{"href": "/api/v3/attachments/9/content"},
			},
		})
	})
	mux.HandleFunc("/api/v3/attachments/9/content", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("new content"))
	})
	client, _ := newFixture(t, mux)

	dest := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(dest, []byte("old content"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	result, err := NewDownloadAttachmentTool(client).Handle(context.Background(), request(map[string]any{
		"attachment_id": 9,
		"dest_path":     dest,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected tool error without overwrite")
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "old content" {
		t.Errorf("file was clobbered: %q", data)
	}
}

func TestPreviewAttachmentTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/attachments/9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"id": 9, "fileName": "notes.txt",
			"_links": map[string]any{
				"downloadLocation": map[string]any{"href": "/api/v3/attachments/9/content"},
			},
		})
	})
	mux.HandleFunc("/api/v3/attachments/9/content", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello world"))
	})
	client, _ := newFixture(t, mux)

	result, err := NewPreviewAttachmentTool(client).Handle(context.Background(), request(map[string]any{
		"attachment_id": 9,
		"max_bytes":     5,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	raw, err := base64.StdEncoding.DecodeString(out["bytes"].(string))
	if err != nil {
		t.Fatalf("decoding preview: %v", err)
	}
	if string(raw) != "hello" {
		t.Errorf("preview = %q, want first 5 bytes", raw)
	}
	if out["size"] != float64(5) {
		t.Errorf("size = %v", out["size"])
	}
	if ct, _ := out["content_type"].(string); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content_type = %v", out["content_type"])
	}
}
