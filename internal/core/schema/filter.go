package schema

import "strings"

// FilterKind selects how a filter value is applied.
type FilterKind int

const (
	FilterWhere FilterKind = iota // column = value
	FilterWhereIn                 // column IN (values...)
)

// Filter maps a filter[key] query parameter onto a field.
type Filter struct {
	Key       string
	Field     string
	Kind      FilterKind
	Delimiter string
	Singular  bool
}

// Where filters on equality with the named field.
func Where(field string) Filter {
	return Filter{Key: field, Field: field, Kind: FilterWhere}
}

// WhereIn filters on a delimited list of values for the named field.
func WhereIn(field string) Filter {
	return Filter{Key: field, Field: field, Kind: FilterWhereIn, Delimiter: ","}
}

// WhereIDIn filters on a list of resource ids under filter[id].
func WhereIDIn() Filter {
	return WhereIn("id")
}

// WithKey returns a copy of the filter read from a different parameter.
func (f Filter) WithKey(key string) Filter { f.Key = key; return f }

// WithDelimiter returns a copy of the filter splitting its value on d.
func (f Filter) WithDelimiter(d string) Filter { f.Delimiter = d; return f }

// WithSingular returns a copy of the filter that matches at most one
// resource. A request using it fetches one resource, not a list.
func (f Filter) WithSingular() Filter { f.Singular = true; return f }

// Values splits a raw parameter value according to the filter kind.
func (f Filter) Values(raw string) []string {
	if f.Kind != FilterWhereIn || f.Delimiter == "" {
		return []string{raw}
	}
	var out []string
	for _, v := range strings.Split(raw, f.Delimiter) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
