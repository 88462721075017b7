package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/openproject-tools/openproject-mcp/internal/openproject"
)

const (
	typesEndpoint      = "/api/v3/types"
	statusesEndpoint   = "/api/v3/statuses"
	prioritiesEndpoint = "/api/v3/priorities"
	projectsEndpoint   = "/api/v3/projects"
	usersEndpoint      = "/api/v3/users"

	// maxPageSize is the largest page the API serves.
	maxPageSize = 200

	// searchPages bounds how many pages project and user resolution
	// walk; larger instances need an exact identifier instead.
	searchPages = 3
)

// Service answers metadata lookups and name resolution against one
// OpenProject instance. Types, statuses, and priorities go through
// the cache; projects and users are searched live because those
// lists are both larger and more volatile.
type Service struct {
	client *openproject.Client
	cache  *Cache
}

// NewService wires a service to a client. A nil cache gets the
// default TTL.
func NewService(client *openproject.Client, cache *Cache) *Service {
	if cache == nil {
		cache = NewCache(DefaultTTL)
	}
	return &Service{client: client, cache: cache}
}

// Types returns all work package types.
func (s *Service) Types(ctx context.Context) ([]Ref, error) {
	return cachedList(ctx, s.cache, s.client, typesEndpoint, parseRef)
}

// Statuses returns all statuses with their closed flag.
func (s *Service) Statuses(ctx context.Context) ([]StatusRef, error) {
	return cachedList(ctx, s.cache, s.client, statusesEndpoint, parseStatusRef)
}

// Priorities returns all priorities.
func (s *Service) Priorities(ctx context.Context) ([]Ref, error) {
	return cachedList(ctx, s.cache, s.client, prioritiesEndpoint, parseRef)
}

// ResolveType maps a type name to its ID.
func (s *Service) ResolveType(ctx context.Context, name string) (int, error) {
	items, err := s.Types(ctx)
	if err != nil {
		return 0, err
	}
	return resolveRef(name, items)
}

// ResolveStatus maps a status name to its ID.
func (s *Service) ResolveStatus(ctx context.Context, name string) (int, error) {
	items, err := s.Statuses(ctx)
	if err != nil {
		return 0, err
	}
	return resolveRef(name, items)
}

// ResolvePriority maps a priority name to its ID.
func (s *Service) ResolvePriority(ctx context.Context, name string) (int, error) {
	items, err := s.Priorities(ctx)
	if err != nil {
		return 0, err
	}
	return resolveRef(name, items)
}

// ResolveProject maps a project identifier, name, or numeric ID to
// the project ID. A purely numeric query is trusted as an ID without
// a lookup.
func (s *Service) ResolveProject(ctx context.Context, query string) (int, error) {
	if id, err := strconv.Atoi(query); err == nil && id > 0 {
		return id, nil
	}
	items, err := paginatedList(ctx, s.client, projectsEndpoint, searchPages, maxPageSize, parseProjectRef)
	if err != nil {
		return 0, err
	}
	return resolveProject(query, items)
}

// ResolveUser maps a user name, login, or mail to the user ID.
// Listing users needs admin-ish permissions on most instances, so
// permission and missing-endpoint failures become a typed
// UnavailableError instead of a bare HTTP error.
func (s *Service) ResolveUser(ctx context.Context, query string) (int, error) {
	items, err := paginatedList(ctx, s.client, usersEndpoint, searchPages, maxPageSize, parseUserRef)
	if err != nil {
		var httpErr *openproject.HTTPError
		if errors.As(err, &httpErr) {
			switch httpErr.StatusCode {
			case 401, 403:
				return 0, &UnavailableError{Query: query, Message: "User listing unavailable: insufficient permissions."}
			case 404, 405, 501:
				return 0, &UnavailableError{Query: query, Message: "User listing endpoint not available on this OpenProject instance."}
			}
		}
		return 0, err
	}
	return resolveUser(query, items)
}

// ResolveTypeForProject resolves a type name against the set of
// types enabled for the project. When the scoped endpoint is missing
// (404/405/501 on older instances) it falls back to the global type
// list; callers cannot tell the difference.
func (s *Service) ResolveTypeForProject(ctx context.Context, project, typeName string) (int, error) {
	projectID, err := s.ResolveProject(ctx, project)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/%d/types", projectsEndpoint, projectID)
	items, err := fetchList(ctx, s.client, endpoint, nil, parseRef)
	if err != nil {
		var httpErr *openproject.HTTPError
		if errors.As(err, &httpErr) {
			switch httpErr.StatusCode {
			case 404, 405, 501:
				return s.ResolveType(ctx, typeName)
			}
		}
		return 0, err
	}
	return resolveRef(typeName, items)
}
