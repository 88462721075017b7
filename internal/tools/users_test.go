package tools

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestGetUserTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/users/5", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"id":     5,
			"name":   "Ana Lopez",
			"login":  "alopez",
			"mail":   "ana@example.com",
			"status": "active",
			"admin":  false,
			"_links": map[string]any{
				"self": map[string]any{"href": "/api/v3/users/5"},
			},
		})
	})
	client, _ := newFixture(t, mux)

	result, err := NewGetUserTool(client).Handle(context.Background(), request(map[string]any{"id": 5}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	if out["name"] != "Ana Lopez" || out["login"] != "alopez" {
		t.Errorf("profile = %v", out)
	}
	if out["email"] != "ana@example.com" {
		t.Errorf("email = %v", out["email"])
	}
	if out["href"] != "/api/v3/users/5" {
		t.Errorf("href = %v", out["href"])
	}
}

func TestGetUserToolHiddenEmail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/users/5", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"id": 5, "name": "Ana Lopez", "login": "alopez"})
	})
	client, _ := newFixture(t, mux)

	result, err := NewGetUserTool(client).Handle(context.Background(), request(map[string]any{"id": 5}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out := decodeResult(t, result); out["email"] != nil {
		t.Errorf("email = %v, want nil when the API hides it", out["email"])
	}
}

func TestGetUserToolPermissionErrors(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{403, "Permission denied: unable to view this user."},
		{404, "User not found or insufficient permissions to view this user."},
	}
	for _, tt := range tests {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/users/5", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tt.status, map[string]any{"message": "nope"})
		})
		client, _ := newFixture(t, mux)

		result, err := NewGetUserTool(client).Handle(context.Background(), request(map[string]any{"id": 5}))
		if err != nil {
			t.Fatalf("Handle(%d): %v", tt.status, err)
		}
		if !isErrorResult(result) {
			t.Fatalf("status %d should be a tool error", tt.status)
		}
		if text := getResultText(result); !strings.Contains(text, tt.want) {
			t.Errorf("status %d: text = %q, want %q", tt.status, text, tt.want)
		}
	}
}

func TestExtractCustomFields(t *testing.T) {
	payload := map[string]any{
		"id":            float64(5),
		"name":          "Ana Lopez",
		"customField7":  "on-call",
		"customField12": float64(3),
		"_links": map[string]any{
			"self":         map[string]any{"href": "/api/v3/users/5"},
			"customField3": map[string]any{"href": "/api/v3/custom_options/9", "title": "Berlin"},
			"customField7": []any{
				map[string]any{"href": "/api/v3/custom_options/1", "title": "Primary"},
				map[string]any{"href": "/api/v3/custom_options/2", "title": "Secondary"},
			},
		},
	}

	fields := extractCustomFields(payload)
	if len(fields) != 3 {
		t.Fatalf("got %d fields, want 3", len(fields))
	}

	// Sorted by numeric field id: 3, 7, 12.
	if fields[0].Key != "customField3" || fields[1].Key != "customField7" || fields[2].Key != "customField12" {
		t.Fatalf("order = %s, %s, %s", fields[0].Key, fields[1].Key, fields[2].Key)
	}

	// Link-only field takes its value from the link title.
	if fields[0].Value != "Berlin" {
		t.Errorf("customField3 value = %v", fields[0].Value)
	}
	if fields[0].Href == nil || *fields[0].Href != "/api/v3/custom_options/9" {
		t.Errorf("customField3 href = %v", fields[0].Href)
	}

	// Root property wins over link titles; links still recorded.
	if fields[1].Value != "on-call" {
		t.Errorf("customField7 value = %v", fields[1].Value)
	}
	if len(fields[1].Links) != 2 {
		t.Errorf("customField7 links = %d, want 2", len(fields[1].Links))
	}

	if fields[2].Value != float64(3) {
		t.Errorf("customField12 value = %v", fields[2].Value)
	}
	if fields[2].ID == nil || *fields[2].ID != 12 {
		t.Errorf("customField12 id = %v", fields[2].ID)
	}
}

func TestExtractCustomFieldsNone(t *testing.T) {
	fields := extractCustomFields(map[string]any{"id": float64(5), "name": "Ana"})
	if len(fields) != 0 {
		t.Errorf("got %d fields, want 0", len(fields))
	}
}
