// Package schema provides declarative resource schemas.
// A schema is data: the store, encoder and query validation all
// interpret it rather than relying on per-resource code.
package schema

// FieldKind is the kind of a schema field.
type FieldKind int

const (
	KindID        FieldKind = iota // primary key
	KindString                     // TEXT
	KindNumber                     // REAL or INTEGER
	KindBoolean                    // INTEGER (0/1)
	KindDateTime                   // DATETIME, RFC 3339 text
	KindHashed                     // TEXT, bcrypt hash of the written value
	KindBelongsTo                  // foreign key column on this table
	KindHasMany                    // foreign key column on the related table
)

// Field defines one member of a resource: its id, an attribute or a
// relationship.
type Field struct {
	Name       string
	Kind       FieldKind
	Related    string // related resource type for relationships
	ForeignKey string // BelongsTo: column here; HasMany: column on the related table

	column   string
	readOnly bool
	sortable bool
	hidden   bool
	unique   bool
	rules    string
}

// =============================================================================
// Field builder helpers
// =============================================================================

func ID() Field {
	return Field{Name: "id", Kind: KindID, column: "id", readOnly: true, sortable: true}
}

func Str(name string) Field {
	return Field{Name: name, Kind: KindString}
}

func Number(name string) Field {
	return Field{Name: name, Kind: KindNumber}
}

func Boolean(name string) Field {
	return Field{Name: name, Kind: KindBoolean}
}

func DateTime(name string) Field {
	return Field{Name: name, Kind: KindDateTime}
}

// Hashed is a write-only string attribute stored as a bcrypt hash.
func Hashed(name string) Field {
	return Field{Name: name, Kind: KindHashed, hidden: true}
}

// BelongsTo is a to-one relationship stored in a column on this table,
// "<name>_id" unless WithForeignKey says otherwise.
func BelongsTo(name, related string) Field {
	return Field{Name: name, Kind: KindBelongsTo, Related: related, ForeignKey: snakeCase(name) + "_id"}
}

// HasMany is a to-many relationship. inverseKey is the column on the
// related table that points back at this resource.
func HasMany(name, related, inverseKey string) Field {
	return Field{Name: name, Kind: KindHasMany, Related: related, ForeignKey: inverseKey, readOnly: true}
}

// WithReadOnly returns a copy of the field that clients cannot write.
func (f Field) WithReadOnly() Field { f.readOnly = true; return f }

// WithSortable returns a copy of the field that can appear in ?sort.
func (f Field) WithSortable() Field { f.sortable = true; return f }

// WithHidden returns a copy of the field that is never serialized.
func (f Field) WithHidden() Field { f.hidden = true; return f }

// WithUnique returns a copy of the field backed by a UNIQUE column.
func (f Field) WithUnique() Field { f.unique = true; return f }

// WithColumn returns a copy of the field stored in the given column.
func (f Field) WithColumn(column string) Field { f.column = column; return f }

// WithForeignKey returns a copy of the relationship using the given key column.
func (f Field) WithForeignKey(column string) Field { f.ForeignKey = column; return f }

// WithRules returns a copy of the field validated with a validator tag,
// e.g. "required,max=255".
func (f Field) WithRules(rules string) Field { f.rules = rules; return f }

// =============================================================================
// Accessors
// =============================================================================

// Column returns the database column holding the field. Relationships
// stored elsewhere (HasMany) have no column.
func (f Field) Column() string {
	switch {
	case f.column != "":
		return f.column
	case f.Kind == KindBelongsTo:
		return f.ForeignKey
	case f.Kind == KindHasMany:
		return ""
	default:
		return snakeCase(f.Name)
	}
}

func (f Field) IsReadOnly() bool { return f.readOnly }
func (f Field) IsSortable() bool { return f.sortable }
func (f Field) IsHidden() bool { return f.hidden }
func (f Field) IsUnique() bool { return f.unique }
func (f Field) Rules() string { return f.rules }

// IsAttribute reports whether the field is serialized under "attributes".
func (f Field) IsAttribute() bool {
	switch f.Kind {
	case KindID, KindBelongsTo, KindHasMany:
		return false
	}
	return true
}

// IsRelation reports whether the field is a relationship.
func (f Field) IsRelation() bool {
	return f.Kind == KindBelongsTo || f.Kind == KindHasMany
}

// IsToMany reports whether the field is a to-many relationship.
func (f Field) IsToMany() bool {
	return f.Kind == KindHasMany
}

// SQLType returns the SQLite column type for the field.
func (f Field) SQLType() string {
	switch f.Kind {
	case KindNumber:
		return "REAL"
	case KindBoolean:
		return "INTEGER"
	case KindDateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}
