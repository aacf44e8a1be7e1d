// Package query provides parsing of JSON:API query parameters.
// Everything here is pure: no I/O, no schema lookups beyond what the
// caller passes in.
package query

import (
	"fmt"
	"iter"
	"slices"
	"strings"
)

// =============================================================================
// Sort Direction
// =============================================================================

// Direction is the order in which a sort field is applied.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// String returns the SQL keyword for the direction.
func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// =============================================================================
// SortField
// =============================================================================

// SortField is a single sort directive: a field name and a direction.
// The zero value is an ascending sort on the empty field name.
type SortField struct {
	name      string
	direction Direction
}

// NewSortField creates a sort field.
func NewSortField(name string, direction Direction) SortField {
	return SortField{name: name, direction: direction}
}

// Asc creates an ascending sort field.
func Asc(name string) SortField {
	return SortField{name: name, direction: Ascending}
}

// Desc creates a descending sort field.
func Desc(name string) SortField {
	return SortField{name: name, direction: Descending}
}

// ParseSortField parses the string form of a sort field. A leading "-"
// marks the field as descending and is stripped. The remainder is the
// field name and is not validated here.
func ParseSortField(value string) SortField {
	if strings.HasPrefix(value, "-") {
		return Desc(value[1:])
	}
	return Asc(value)
}

// CastSortField coerces a string or SortField into a SortField.
func CastSortField(value any) (SortField, error) {
	switch v := value.(type) {
	case SortField:
		return v, nil
	case *SortField:
		if v == nil {
			return SortField{}, fmt.Errorf("%w: nil sort field", ErrInvalidInput)
		}
		return *v, nil
	case string:
		return ParseSortField(v), nil
	default:
		return SortField{}, fmt.Errorf("%w: unexpected sort field value of type %T", ErrInvalidInput, value)
	}
}

func (f SortField) Name() string { return f.name }
func (f SortField) Direction() Direction { return f.direction }
func (f SortField) IsAscending() bool { return f.direction == Ascending }
func (f SortField) IsDescending() bool { return f.direction == Descending }
func (f SortField) Equal(o SortField) bool { return f == o }

// String returns the canonical form: "-name" when descending, "name" otherwise.
func (f SortField) String() string {
	if f.direction == Descending {
		return "-" + f.name
	}
	return f.name
}

// =============================================================================
// SortFields
// =============================================================================

// SortFields is an ordered list of sort directives. Order defines the
// precedence of a multi-key sort. Duplicate names are kept as given.
type SortFields struct {
	stack []SortField
}

// NewSortFields creates a list from the given fields, in order.
func NewSortFields(fields ...SortField) SortFields {
	return SortFields{stack: slices.Clone(fields)}
}

// CastSortFields coerces value into SortFields. Accepted inputs:
//
//	nil                      empty list
//	string                   comma separated, e.g. "-createdAt,title"
//	[]string, []SortField    each element cast independently
//	[]any                    strings and SortField values mixed
//	SortField                single element list
//	SortFields, *SortFields  returned as is
//
// Any other input fails with ErrInvalidInput.
func CastSortFields(value any) (SortFields, error) {
	switch v := value.(type) {
	case nil:
		return SortFields{}, nil
	case SortFields:
		return v, nil
	case *SortFields:
		if v == nil {
			return SortFields{}, nil
		}
		return *v, nil
	case SortField:
		return NewSortFields(v), nil
	case string:
		return ParseSortFields(v), nil
	case []string, []SortField, []any:
		return SortFieldsFromSlice(v)
	default:
		return SortFields{}, fmt.Errorf("%w: unexpected sort fields value of type %T", ErrInvalidInput, value)
	}
}

// NullableSortFields is CastSortFields except that nil stays nil, so
// callers can tell "not requested" apart from an empty list.
func NullableSortFields(value any) (*SortFields, error) {
	if value == nil {
		return nil, nil
	}
	fields, err := CastSortFields(value)
	if err != nil {
		return nil, err
	}
	return &fields, nil
}

// ParseSortFields splits value on "," and parses every segment.
func ParseSortFields(value string) SortFields {
	parts := strings.Split(value, ",")
	stack := make([]SortField, 0, len(parts))
	for _, part := range parts {
		stack = append(stack, ParseSortField(part))
	}
	return SortFields{stack: stack}
}

// SortFieldsFromSlice casts every element of a slice with CastSortField.
func SortFieldsFromSlice(values any) (SortFields, error) {
	var items []any
	switch v := values.(type) {
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []SortField:
		return NewSortFields(v...), nil
	case []any:
		items = v
	default:
		return SortFields{}, fmt.Errorf("%w: expecting a slice, got %T", ErrInvalidInput, values)
	}

	stack := make([]SortField, 0, len(items))
	for i, item := range items {
		field, err := CastSortField(item)
		if err != nil {
			return SortFields{}, fmt.Errorf("sort field %d: %w", i, err)
		}
		stack = append(stack, field)
	}
	return SortFields{stack: stack}, nil
}

// String joins the canonical form of every field with ",".
func (s SortFields) String() string {
	return strings.Join(s.Strings(), ",")
}

// Strings returns the canonical form of every field, in order.
func (s SortFields) Strings() []string {
	out := make([]string, len(s.stack))
	for i, f := range s.stack {
		out[i] = f.String()
	}
	return out
}

func (s SortFields) Len() int { return len(s.stack) }
func (s SortFields) IsEmpty() bool { return len(s.stack) == 0 }
func (s SortFields) IsNotEmpty() bool { return len(s.stack) > 0 }
func (s SortFields) Fields() []SortField { return slices.Clone(s.stack) }

// All iterates the fields in insertion order.
func (s SortFields) All() iter.Seq[SortField] {
	return func(yield func(SortField) bool) {
		for _, f := range s.stack {
			if !yield(f) {
				return
			}
		}
	}
}

// Equal reports whether both lists hold the same fields in the same order.
func (s SortFields) Equal(o SortFields) bool {
	return slices.Equal(s.stack, o.stack)
}
