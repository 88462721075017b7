// Package hal provides read-only accessors for HAL+JSON payloads.
//
// OpenProject responses embed hyperlinks under "_links" and nested
// resources under "_embedded". The API is inconsistent about where a
// logical field lives (root scalar, link title, or embedded object),
// so ResolveProperty hides that variance from callers.
//
// All accessors tolerate missing optional structure by returning the
// zero value; only a genuinely malformed collection is an error.
package hal

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedCollection is returned by Elements when a payload does
// not have the _embedded.elements array shape of a HAL collection.
var ErrMalformedCollection = errors.New("malformed collection: expected _embedded.elements array")

// Link returns the link object for rel, or nil when _links is absent
// or rel is not present.
func Link(payload map[string]any, rel string) map[string]any {
	links, ok := payload["_links"].(map[string]any)
	if !ok {
		return nil
	}
	link, ok := links[rel].(map[string]any)
	if !ok {
		return nil
	}
	return link
}

// LinkHref returns the href of the link for rel, or "" when absent.
func LinkHref(payload map[string]any, rel string) string {
	link := Link(payload, rel)
	if link == nil {
		return ""
	}
	href, _ := link["href"].(string)
	return href
}

// LinkTitle returns the title of the link for rel, or "" when absent.
func LinkTitle(payload map[string]any, rel string) string {
	link := Link(payload, rel)
	if link == nil {
		return ""
	}
	title, _ := link["title"].(string)
	return title
}

// Embedded returns _embedded[rel], or nil when absent.
func Embedded(payload map[string]any, rel string) any {
	embedded, ok := payload["_embedded"].(map[string]any)
	if !ok {
		return nil
	}
	return embedded[rel]
}

// IDFromHref parses the last non-empty path segment of a RESTful href
// as an integer. "/api/v3/work_packages/42" yields 42. Returns false
// for empty hrefs and non-numeric tails; it never fails hard.
func IDFromHref(href string) (int, bool) {
	trimmed := strings.Trim(href, "/")
	if trimmed == "" {
		return 0, false
	}
	segments := strings.Split(trimmed, "/")
	id, err := strconv.Atoi(segments[len(segments)-1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// ResolveProperty finds the best value for a named property:
// a root-level field wins (returned as-is, any type), then a non-empty
// link title for the same relation, then the embedded resource.
// Returns nil when none of the three are present.
func ResolveProperty(payload map[string]any, name string) any {
	if v, ok := payload[name]; ok {
		return v
	}
	if title := LinkTitle(payload, name); title != "" {
		return title
	}
	return Embedded(payload, name)
}

// Elements extracts the elements of a HAL collection payload.
// A payload without _embedded (or without elements) yields an empty
// slice; an _embedded.elements that is not an array is an error.
// Non-object entries are dropped.
func Elements(payload map[string]any) ([]map[string]any, error) {
	raw, ok := payload["_embedded"]
	if !ok {
		return nil, nil
	}
	embedded, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrMalformedCollection
	}
	rawElements, ok := embedded["elements"]
	if !ok {
		return nil, nil
	}
	list, ok := rawElements.([]any)
	if !ok {
		return nil, ErrMalformedCollection
	}
	elements := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			elements = append(elements, m)
		}
	}
	return elements, nil
}
