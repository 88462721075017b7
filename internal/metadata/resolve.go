package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// NotFoundError reports a query that matched no candidate. Available
// carries every candidate name, case-insensitively sorted, so the
// failure is self-explanatory without a follow-up call.
type NotFoundError struct {
	Query     string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Could not find '%s'. Available options: %s",
		e.Query, strings.Join(e.Available, ", "))
}

// AmbiguousError reports a query that matched more than one
// candidate. Candidates holds the matching names sorted by
// (normalized name, id); the message annotates each with its ID.
type AmbiguousError struct {
	Query      string
	Candidates []string
	annotated  []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("Ambiguous match for '%s'. Found multiple candidates: %s. Please be more specific.",
		e.Query, strings.Join(e.annotated, ", "))
}

// UnavailableError reports a lookup that could not be attempted at
// all, typically because the listing endpoint is missing or
// forbidden on this instance.
type UnavailableError struct {
	Query   string
	Message string
}

func (e *UnavailableError) Error() string { return e.Message }

// normalize trims, case-folds, and collapses internal whitespace so
// comparisons ignore formatting noise.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// resolveRef maps a human query to an ID: an exact name match wins
// immediately (first in original order); otherwise a unique substring
// match wins; zero or multiple substring matches fail with the typed
// resolution errors. An empty query is a substring of everything and
// deliberately falls through to the ambiguity report.
func resolveRef[T refItem](query string, items []T) (int, error) {
	q := normalize(query)

	for _, item := range items {
		if normalize(item.refName()) == q {
			return item.refID(), nil
		}
	}

	var matches []T
	for _, item := range items {
		if strings.Contains(normalize(item.refName()), q) {
			matches = append(matches, item)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0].refID(), nil
	case 0:
		return 0, &NotFoundError{Query: query, Available: sortedNames(items)}
	}

	sortByNameID(matches)
	annotated := make([]string, len(matches))
	names := make([]string, len(matches))
	for i, m := range matches {
		annotated[i] = fmt.Sprintf("%s (ID: %d)", m.refName(), m.refID())
		names[i] = m.refName()
	}
	return 0, &AmbiguousError{Query: query, Candidates: names, annotated: annotated}
}

// resolveProject layers the identifier field on top of the common
// logic: identifier-exact, then name-exact, then substring across
// both fields.
func resolveProject(query string, items []ProjectRef) (int, error) {
	q := normalize(query)

	for _, p := range items {
		if normalize(p.Identifier) == q {
			return p.ID, nil
		}
	}
	for _, p := range items {
		if normalize(p.Name) == q {
			return p.ID, nil
		}
	}

	var matches []ProjectRef
	for _, p := range items {
		if strings.Contains(normalize(p.Identifier), q) || strings.Contains(normalize(p.Name), q) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0].ID, nil
	case 0:
		return 0, &NotFoundError{Query: query, Available: sortedNames(items)}
	}

	sortByNameID(matches)
	annotated := make([]string, len(matches))
	names := make([]string, len(matches))
	for i, p := range matches {
		annotated[i] = fmt.Sprintf("%s (ID: %d, identifier: %s)", p.Name, p.ID, p.Identifier)
		names[i] = p.Name
	}
	return 0, &AmbiguousError{Query: query, Candidates: names, annotated: annotated}
}

// resolveUser matches exactly on name only; the substring pass also
// consults login and mail.
func resolveUser(query string, items []UserRef) (int, error) {
	q := normalize(query)

	for _, u := range items {
		if normalize(u.Name) == q {
			return u.ID, nil
		}
	}

	var matches []UserRef
	for _, u := range items {
		for _, field := range []string{u.Name, u.Login, u.Mail} {
			if field == "" {
				continue
			}
			if strings.Contains(normalize(field), q) {
				matches = append(matches, u)
				break
			}
		}
	}
	switch len(matches) {
	case 1:
		return matches[0].ID, nil
	case 0:
		return 0, &NotFoundError{Query: query, Available: sortedNames(items)}
	}

	sortByNameID(matches)
	annotated := make([]string, len(matches))
	names := make([]string, len(matches))
	for i, u := range matches {
		annotated[i] = fmt.Sprintf("%s (ID: %d, login: %s)", u.Name, u.ID, u.Login)
		names[i] = u.Name
	}
	return 0, &AmbiguousError{Query: query, Candidates: names, annotated: annotated}
}

func sortedNames[T refItem](items []T) []string {
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.refName()
	}
	sort.Slice(names, func(i, j int) bool {
		return normalize(names[i]) < normalize(names[j])
	})
	return names
}

func sortByNameID[T refItem](items []T) {
	sort.Slice(items, func(i, j int) bool {
		ni, nj := normalize(items[i].refName()), normalize(items[j].refName())
		if ni != nj {
			return ni < nj
		}
		return items[i].refID() < items[j].refID()
	})
}
