package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func membershipElement(id int, principalHref, principalName string, roles ...string) map[string]any {
	roleLinks := make([]any, len(roles))
	for i, r := range roles {
		roleLinks[i] = map[string]any{"href": "/api/v3/roles/3", "title": r}
	}
	return map[string]any{
		"id": id,
		"_links": map[string]any{
			"self":      map[string]any{"href": fmt.Sprintf("/api/v3/memberships/%d", id)},
			"principal": map[string]any{"href": principalHref, "title": principalName},
			"roles":     roleLinks,
		},
	}
}

func TestProjectMembershipsTool(t *testing.T) {
	var gotFilters string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/memberships", func(w http.ResponseWriter, r *http.Request) {
		gotFilters = r.URL.Query().Get("filters")
		writeJSON(w, 200, collection(
			membershipElement(1, "/api/v3/users/5", "Ana Lopez", "Member"),
			membershipElement(2, "/api/v3/groups/12", "QA Team", "Reader", "Reviewer"),
		))
	})
	client, meta := newFixture(t, mux)

	result, err := NewProjectMembershipsTool(client, meta).Handle(context.Background(), request(map[string]any{
		"project": "3",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	if !strings.Contains(gotFilters, `"project":{"operator":"=","values":["3"]}`) {
		t.Errorf("project filter missing from %s", gotFilters)
	}
	items := out["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	user := items[0].(map[string]any)
	if user["principal_name"] != "Ana Lopez" || user["principal_type"] != "User" || user["principal_id"] != float64(5) {
		t.Errorf("user item = %v", user)
	}
	group := items[1].(map[string]any)
	if group["principal_type"] != "Group" || group["principal_id"] != float64(12) {
		t.Errorf("group item = %v", group)
	}
	roles := group["roles"].([]any)
	if len(roles) != 2 || roles[0] != "Reader" {
		t.Errorf("group roles = %v", roles)
	}
}

func TestProjectMembershipsToolEmbeddedUserFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/memberships", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, collection(map[string]any{
			"id": 1,
			"_embedded": map[string]any{
				"user": map[string]any{
					"id":   7,
					"name": "Bram de Vries",
					"_links": map[string]any{
						"self": map[string]any{"href": "/api/v3/users/7"},
					},
				},
			},
		}))
	})
	client, meta := newFixture(t, mux)

	result, err := NewProjectMembershipsTool(client, meta).Handle(context.Background(), request(map[string]any{
		"project": "3",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	item := out["items"].([]any)[0].(map[string]any)
	if item["principal_name"] != "Bram de Vries" || item["principal_id"] != float64(7) {
		t.Errorf("item = %v", item)
	}
	if item["principal_type"] != "User" {
		t.Errorf("principal_type = %v, want User for embedded fallback", item["principal_type"])
	}
}

func TestProjectMembershipsToolSorted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/memberships", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, collection(
			membershipElement(1, "/api/v3/users/9", "zoe", "Member"),
			membershipElement(2, "/api/v3/users/5", "Ana Lopez", "Member"),
		))
	})
	client, meta := newFixture(t, mux)

	result, err := NewProjectMembershipsTool(client, meta).Handle(context.Background(), request(map[string]any{
		"project": "3",
		"sort":    true,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	out := decodeResult(t, result)

	items := out["items"].([]any)
	first := items[0].(map[string]any)
	if first["principal_name"] != "Ana Lopez" {
		t.Errorf("sort should be case-insensitive by name, first = %v", first["principal_name"])
	}
}

func TestProjectMembershipsToolPermissionDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/memberships", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 403, map[string]any{"message": "forbidden"})
	})
	client, meta := newFixture(t, mux)

	result, err := NewProjectMembershipsTool(client, meta).Handle(context.Background(), request(map[string]any{
		"project": "3",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected tool error on 403")
	}
	if text := getResultText(result); !strings.Contains(text, "Permission denied: unable to view project memberships.") {
		t.Errorf("error text = %q", text)
	}
}
