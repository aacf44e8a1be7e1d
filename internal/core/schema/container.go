package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/jsonapi-server/internal/core/query"
)

// ErrUnknownType is returned for a resource type no schema declares.
var ErrUnknownType = errors.New("unknown resource type")

// includeDepth bounds the include paths accepted by Rules.
const includeDepth = 3

// Container maps resource types to schemas. It is immutable once built.
type Container struct {
	schemas map[string]*Schema
	types   []string
}

// NewContainer validates schemas and indexes them by type. Duplicate
// types and relationships to undeclared types are rejected.
func NewContainer(schemas ...Schema) (*Container, error) {
	c := &Container{schemas: make(map[string]*Schema, len(schemas))}

	for i := range schemas {
		s := schemas[i]
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.schemas[s.Type]; dup {
			return nil, fmt.Errorf("%w: resource type %q declared twice", ErrInvalidSchema, s.Type)
		}
		s.Fields = append([]Field(nil), s.Fields...)
		s.Filters = append([]Filter(nil), s.Filters...)
		c.schemas[s.Type] = &s
		c.types = append(c.types, s.Type)
	}

	for _, typ := range c.types {
		for _, rel := range c.schemas[typ].Relations() {
			if _, ok := c.schemas[rel.Related]; !ok {
				return nil, fmt.Errorf("%w: %s.%s relates to undeclared type %q", ErrInvalidSchema, typ, rel.Name, rel.Related)
			}
		}
	}

	sort.Strings(c.types)
	return c, nil
}

// SchemaFor returns the schema of a resource type.
func (c *Container) SchemaFor(resourceType string) (*Schema, error) {
	s, ok := c.schemas[resourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, resourceType)
	}
	return s, nil
}

// Exists reports whether a schema is declared for resourceType.
func (c *Container) Exists(resourceType string) bool {
	_, ok := c.schemas[resourceType]
	return ok
}

// Types returns the declared resource types, sorted.
func (c *Container) Types() []string {
	return append([]string(nil), c.types...)
}

// Rules returns the query parameters a request for resourceType may use.
func (c *Container) Rules(resourceType string) (query.Rules, error) {
	s, err := c.SchemaFor(resourceType)
	if err != nil {
		return query.Rules{}, err
	}

	rules := query.Rules{
		Sortable: s.SortableFields(),
		Includes: c.includePaths(s, "", includeDepth),
		Fields:   make(map[string][]string, len(c.types)),
	}
	for _, f := range s.Filters {
		rules.Filters = append(rules.Filters, f.Key)
	}
	if s.Pagination != nil {
		rules.PageKeys = s.Pagination.Keys()
	}
	for _, typ := range c.types {
		rules.Fields[typ] = c.schemas[typ].MemberNames()
	}
	return rules, nil
}

func (c *Container) includePaths(s *Schema, prefix string, depth int) []string {
	if depth == 0 {
		return nil
	}
	var paths []string
	for _, rel := range s.Relations() {
		path := prefix + rel.Name
		paths = append(paths, path)
		paths = append(paths, c.includePaths(c.schemas[rel.Related], path+".", depth-1)...)
	}
	return paths
}

// MemberNames returns the attribute and relationship names a client can
// see, in declaration order.
func (s *Schema) MemberNames() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Kind == KindID || f.IsHidden() {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// =============================================================================
// DDL
// =============================================================================

// CreateTableSQL returns the CREATE TABLE statement for resourceType,
// followed by an index per foreign key.
func (c *Container) CreateTableSQL(resourceType string) (string, error) {
	s, err := c.SchemaFor(resourceType)
	if err != nil {
		return "", err
	}

	var cols []string
	if s.IDKind == IDUUID {
		cols = append(cols, "id TEXT PRIMARY KEY")
	} else {
		cols = append(cols, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	}

	var fks, indexes []string
	declared := make(map[string]bool)
	for _, f := range s.Fields {
		column := f.Column()
		if f.Kind == KindID || column == "" || declared[column] {
			continue
		}
		declared[column] = true

		sqlType := f.SQLType()
		if f.Kind == KindBelongsTo {
			related := c.schemas[f.Related]
			sqlType = "INTEGER"
			if related.IDKind == IDUUID {
				sqlType = "TEXT"
			}
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id)", column, related.TableName()))
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", s.TableName(), column, s.TableName(), column))
		}

		col := column + " " + sqlType
		if f.IsUnique() {
			col += " UNIQUE"
		}
		cols = append(cols, col)
	}

	if s.Timestamps {
		for _, column := range []string{"created_at", "updated_at"} {
			if !declared[column] {
				cols = append(cols, column+" DATETIME NOT NULL DEFAULT (datetime('now'))")
			}
		}
	}
	cols = append(cols, fks...)

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", s.TableName(), strings.Join(cols, ",\n  "))
	if len(indexes) > 0 {
		ddl += ";\n" + strings.Join(indexes, ";\n")
	}
	return ddl, nil
}
