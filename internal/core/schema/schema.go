package schema

import (
	"errors"
	"fmt"

	"github.com/artpar/jsonapi-server/internal/core/query"
)

// IDKind selects how resource ids are generated and stored.
type IDKind int

const (
	IDInteger IDKind = iota // INTEGER PRIMARY KEY AUTOINCREMENT
	IDUUID                  // TEXT PRIMARY KEY, generated on create
)

// ErrInvalidSchema is wrapped by every schema definition error.
var ErrInvalidSchema = errors.New("invalid schema")

// Schema describes one resource type: its fields, filters and pagination.
type Schema struct {
	Type        string
	Table       string // defaults to Type
	IDKind      IDKind
	Fields      []Field
	Filters     []Filter
	Pagination  *PagePagination
	DefaultSort query.SortFields
	Timestamps  bool // maintain created_at / updated_at columns
}

// TableName returns the table the resource is stored in.
func (s *Schema) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return s.Type
}

// Field returns a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Attributes returns the attribute fields in declaration order.
func (s *Schema) Attributes() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.IsAttribute() {
			out = append(out, f)
		}
	}
	return out
}

// Relations returns the relationship fields in declaration order.
func (s *Schema) Relations() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// Relation returns a relationship field by name.
func (s *Schema) Relation(name string) (Field, bool) {
	f, ok := s.Field(name)
	if !ok || !f.IsRelation() {
		return Field{}, false
	}
	return f, true
}

// Filter returns the filter read from filter[key].
func (s *Schema) Filter(key string) (Filter, bool) {
	for _, f := range s.Filters {
		if f.Key == key {
			return f, true
		}
	}
	return Filter{}, false
}

// IsSortable reports whether name may be used in ?sort.
func (s *Schema) IsSortable(name string) bool {
	if name == "id" {
		return true
	}
	f, ok := s.Field(name)
	return ok && f.IsSortable()
}

// SortableFields returns every name accepted by ?sort.
func (s *Schema) SortableFields() []string {
	out := []string{"id"}
	for _, f := range s.Fields {
		if f.Name != "id" && f.IsSortable() {
			out = append(out, f.Name)
		}
	}
	return out
}

// Columns returns the columns selected for the resource, id first.
func (s *Schema) Columns() []string {
	cols := []string{"id"}
	seen := map[string]bool{"id": true}
	for _, f := range s.Fields {
		c := f.Column()
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, c)
	}
	if s.Timestamps {
		for _, c := range []string{"created_at", "updated_at"} {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// Validate checks the schema definition itself.
func (s *Schema) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("%w: resource type is empty", ErrInvalidSchema)
	}

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: %s has a field with no name", ErrInvalidSchema, s.Type)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %s declares field %q twice", ErrInvalidSchema, s.Type, f.Name)
		}
		seen[f.Name] = true

		if f.IsRelation() && (f.Related == "" || f.ForeignKey == "") {
			return fmt.Errorf("%w: %s.%s needs a related type and key", ErrInvalidSchema, s.Type, f.Name)
		}
		if f.Name != "id" && f.Kind == KindID {
			return fmt.Errorf("%w: %s.%s cannot be an id field", ErrInvalidSchema, s.Type, f.Name)
		}
	}

	for _, filter := range s.Filters {
		if filter.Field != "id" && !seen[filter.Field] {
			return fmt.Errorf("%w: %s filter %q references unknown field %q", ErrInvalidSchema, s.Type, filter.Key, filter.Field)
		}
	}

	for f := range s.DefaultSort.All() {
		if !s.IsSortable(f.Name()) {
			return fmt.Errorf("%w: %s default sort on %q which is not sortable", ErrInvalidSchema, s.Type, f.Name())
		}
	}

	return nil
}
