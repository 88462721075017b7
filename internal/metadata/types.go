// Package metadata resolves human-supplied names (types, statuses,
// priorities, projects, users) to OpenProject IDs, memoizing the
// small reference lists behind a TTL cache.
package metadata

import (
	"fmt"
)

// Ref is the minimal snapshot of a remote lookup entity.
type Ref struct {
	ID   int
	Name string
}

func (r Ref) refID() int      { return r.ID }
func (r Ref) refName() string { return r.Name }

// StatusRef adds the closed flag statuses carry.
type StatusRef struct {
	Ref
	IsClosed bool
}

// ProjectRef adds the URL-safe identifier projects carry.
type ProjectRef struct {
	Ref
	Identifier string
}

// UserRef adds the login and mail fields users carry.
type UserRef struct {
	Ref
	Login string
	Mail  string
}

// refItem is what the generic resolver needs from a reference type.
type refItem interface {
	refID() int
	refName() string
}

func parseRef(m map[string]any) (Ref, error) {
	id, ok := intField(m, "id")
	if !ok {
		return Ref{}, fmt.Errorf("metadata item has no integer id: %v", m["id"])
	}
	name, _ := m["name"].(string)
	return Ref{ID: id, Name: name}, nil
}

func parseStatusRef(m map[string]any) (StatusRef, error) {
	ref, err := parseRef(m)
	if err != nil {
		return StatusRef{}, err
	}
	closed, _ := m["isClosed"].(bool)
	return StatusRef{Ref: ref, IsClosed: closed}, nil
}

func parseProjectRef(m map[string]any) (ProjectRef, error) {
	ref, err := parseRef(m)
	if err != nil {
		return ProjectRef{}, err
	}
	identifier, _ := m["identifier"].(string)
	return ProjectRef{Ref: ref, Identifier: identifier}, nil
}

func parseUserRef(m map[string]any) (UserRef, error) {
	ref, err := parseRef(m)
	if err != nil {
		return UserRef{}, err
	}
	login, _ := m["login"].(string)
	mail, _ := m["email"].(string)
	if mail == "" {
		mail, _ = m["mail"].(string)
	}
	return UserRef{Ref: ref, Login: login, Mail: mail}, nil
}

// intField reads a numeric field that JSON decoding delivers as
// float64.
func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
