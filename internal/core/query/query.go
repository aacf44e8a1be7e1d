package query

import (
	"net/url"
	"slices"
	"sort"
	"strings"
)

// =============================================================================
// ResourceQuery
// =============================================================================

// ResourceQuery holds the JSON:API query parameters of one request.
// Nil fields mean the parameter was not sent.
type ResourceQuery struct {
	IncludePaths []string
	FieldSets    map[string][]string
	Sort         *SortFields
	Page         map[string]string
	Filter       map[string]string
}

// Rules describes what a resource type accepts. It is built from a
// schema by the caller.
type Rules struct {
	Sortable []string
	Filters  []string
	Includes []string
	Fields   map[string][]string
	PageKeys []string
}

// Parse reads JSON:API parameters from values without validating them
// against a schema. Malformed keys such as "fields" without a type are
// rejected.
func Parse(values url.Values) (*ResourceQuery, error) {
	q := &ResourceQuery{}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := lastValue(values[key])

		switch {
		case key == "include":
			q.IncludePaths = splitList(value)
		case key == "sort":
			fields := ParseSortFields(value)
			q.Sort = &fields
		case inFamily(key, "fields"):
			typ, ok := bracketKey(key, "fields")
			if !ok {
				return nil, paramError(key, "expecting fields[type]")
			}
			if q.FieldSets == nil {
				q.FieldSets = make(map[string][]string)
			}
			q.FieldSets[typ] = splitList(value)
		case inFamily(key, "page"):
			name, ok := bracketKey(key, "page")
			if !ok {
				return nil, paramError(key, "expecting page[key]")
			}
			if q.Page == nil {
				q.Page = make(map[string]string)
			}
			q.Page[name] = value
		case inFamily(key, "filter"):
			name, ok := bracketKey(key, "filter")
			if !ok {
				return nil, paramError(key, "expecting filter[key]")
			}
			if q.Filter == nil {
				q.Filter = make(map[string]string)
			}
			q.Filter[name] = value
		case isReservedName(key):
			return nil, paramError(key, "unsupported query parameter")
		}
	}

	return q, nil
}

// QueryMany parses and validates the parameters of a request that
// fetches zero-to-many resources.
func QueryMany(values url.Values, rules Rules) (*ResourceQuery, error) {
	q, err := Parse(values)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(rules); err != nil {
		return nil, err
	}
	return q, nil
}

// QueryOne parses and validates the parameters of a request that
// fetches or writes a single resource. Sorting and paging are rejected.
func QueryOne(values url.Values, rules Rules) (*ResourceQuery, error) {
	q, err := Parse(values)
	if err != nil {
		return nil, err
	}
	if q.Sort != nil {
		return nil, paramError("sort", "sorting is not supported for a single resource")
	}
	if q.Page != nil {
		return nil, paramError("page", "pagination is not supported for a single resource")
	}
	if err := q.Validate(rules); err != nil {
		return nil, err
	}
	return q, nil
}

// Validate checks every parameter against rules.
func (q *ResourceQuery) Validate(rules Rules) error {
	if q.Sort != nil {
		for f := range q.Sort.All() {
			if f.Name() == "" {
				return paramError("sort", "sort field must not be empty")
			}
			if !slices.Contains(rules.Sortable, f.Name()) {
				return paramError("sort", "sort field %q is not allowed", f.Name())
			}
		}
	}

	for _, key := range sortedKeys(q.Filter) {
		if !slices.Contains(rules.Filters, key) {
			return paramError("filter["+key+"]", "filter %q is not allowed", key)
		}
	}

	for _, path := range q.IncludePaths {
		if !slices.Contains(rules.Includes, path) {
			return paramError("include", "include path %q is not allowed", path)
		}
	}

	for _, typ := range sortedKeys(q.FieldSets) {
		allowed, ok := rules.Fields[typ]
		if !ok {
			return paramError("fields["+typ+"]", "resource type %q is not recognised", typ)
		}
		for _, field := range q.FieldSets[typ] {
			if !slices.Contains(allowed, field) {
				return paramError("fields["+typ+"]", "field %q is not recognised", field)
			}
		}
	}

	for _, key := range sortedKeys(q.Page) {
		if !slices.Contains(rules.PageKeys, key) {
			return paramError("page["+key+"]", "page parameter %q is not allowed", key)
		}
	}

	return nil
}

// SortFields returns the requested sort, or an empty list.
func (q *ResourceQuery) SortFields() SortFields {
	if q == nil || q.Sort == nil {
		return SortFields{}
	}
	return *q.Sort
}

// Includes reports whether path, or a path nested below it, was requested.
func (q *ResourceQuery) Includes(path string) bool {
	if q == nil {
		return false
	}
	for _, p := range q.IncludePaths {
		if p == path || strings.HasPrefix(p, path+".") {
			return true
		}
	}
	return false
}

// Fields returns the sparse fieldset for a type and whether one was sent.
func (q *ResourceQuery) Fields(resourceType string) ([]string, bool) {
	if q == nil || q.FieldSets == nil {
		return nil, false
	}
	f, ok := q.FieldSets[resourceType]
	return f, ok
}

// =============================================================================
// Helpers
// =============================================================================

func lastValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// bracketKey extracts "x" from "prefix[x]".
// inFamily reports whether key is name itself or name[...].
func inFamily(key, name string) bool {
	return key == name || strings.HasPrefix(key, name+"[")
}

func bracketKey(key, prefix string) (string, bool) {
	rest := strings.TrimPrefix(key, prefix)
	if len(rest) < 3 || rest[0] != '[' || rest[len(rest)-1] != ']' {
		return "", false
	}
	return rest[1 : len(rest)-1], true
}

// isReservedName reports whether key consists only of lowercase a-z.
// JSON:API reserves such names; implementation parameters must contain
// another character.
func isReservedName(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
