package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
)

var validate = validator.New()

// Input is the resource object of a create or update request.
// Relationships holds related ids by name; an empty slice clears a to-one
// relationship.
type Input struct {
	ID            string
	Attributes    map[string]any
	Relationships map[string][]string
}

// =============================================================================
// Create
// =============================================================================

// CreateBuilder inserts one resource.
type CreateBuilder struct {
	store *Store
	typ   string
}

// Create starts a create of resourceType.
func (s *Store) Create(resourceType string) *CreateBuilder {
	return &CreateBuilder{store: s, typ: resourceType}
}

// Store validates in, inserts it and returns the stored model.
func (b *CreateBuilder) Store(ctx context.Context, in Input) (*resources.Model, error) {
	s := b.store
	sch, err := s.schemaFor("Create", b.typ)
	if err != nil {
		return nil, err
	}

	values, err := s.columnValues(ctx, sch, in, true)
	if err != nil {
		return nil, err
	}

	var id string
	switch {
	case in.ID != "" && sch.IDKind != schema.IDUUID:
		return nil, ValidationErrors{{Pointer: "/data/id", Detail: "client-generated ids are not supported"}}
	case in.ID != "":
		if _, err := uuid.Parse(in.ID); err != nil {
			return nil, ValidationErrors{{Pointer: "/data/id", Detail: "id must be a UUID"}}
		}
		id = in.ID
	case sch.IDKind == schema.IDUUID:
		id = uuid.NewString()
	}
	if id != "" {
		values["id"] = id
	}

	if sch.Timestamps {
		now := time.Now().UTC().Format(time.RFC3339)
		values["created_at"] = now
		values["updated_at"] = now
	}

	cols := slices.Sorted(maps.Keys(values))
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}

	var sqlText string
	if len(cols) == 0 {
		sqlText = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", sch.TableName())
	} else {
		sqlText = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", sch.TableName(),
			strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	}

	result, err := s.exec.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return nil, writeError("Create", b.typ, id, err)
	}

	if id == "" {
		n, err := result.LastInsertId()
		if err != nil {
			return nil, NewStoreError("Create", b.typ, "", "read inserted id", err)
		}
		id = strconv.FormatInt(n, 10)
	}

	s.logger.Debug("resource created", "type", b.typ, "id", id)
	return s.reload(ctx, "Create", b.typ, id)
}

// =============================================================================
// Update
// =============================================================================

// UpdateBuilder modifies one resource.
type UpdateBuilder struct {
	store *Store
	typ   string
	id    string
}

// Update starts an update of one resource.
func (s *Store) Update(resourceType, id string) *UpdateBuilder {
	return &UpdateBuilder{store: s, typ: resourceType, id: id}
}

// Store validates the members present in in and writes them. Members
// not sent are left unchanged.
func (b *UpdateBuilder) Store(ctx context.Context, in Input) (*resources.Model, error) {
	s := b.store
	sch, err := s.schemaFor("Update", b.typ)
	if err != nil {
		return nil, err
	}

	if in.ID != "" && in.ID != b.id {
		return nil, NewStoreError("Update", b.typ, b.id, "id does not match the resource being updated", ErrConflict)
	}

	exists, err := s.Exists(ctx, b.typ, b.id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, NewStoreError("Update", b.typ, b.id, "not found", ErrNotFound)
	}

	values, err := s.columnValues(ctx, sch, in, false)
	if err != nil {
		return nil, err
	}
	if sch.Timestamps {
		values["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	}

	if len(values) > 0 {
		cols := slices.Sorted(maps.Keys(values))
		sets := make([]string, len(cols))
		args := make([]any, 0, len(cols)+1)
		for i, c := range cols {
			sets[i] = c + " = ?"
			args = append(args, values[c])
		}
		args = append(args, b.id)

		sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", sch.TableName(), strings.Join(sets, ", "))
		if _, err := s.exec.ExecContext(ctx, sqlText, args...); err != nil {
			return nil, writeError("Update", b.typ, b.id, err)
		}
	}

	return s.reload(ctx, "Update", b.typ, b.id)
}

// =============================================================================
// Delete
// =============================================================================

// Delete removes one resource visible under the current scopes.
func (s *Store) Delete(ctx context.Context, resourceType, id string) error {
	sch, err := s.schemaFor("Delete", resourceType)
	if err != nil {
		return err
	}

	sel := s.selectFor(sch)
	sel.where("id = ?", id)

	result, err := s.exec.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", sch.TableName(), sel.whereClause()), sel.args...)
	if err != nil {
		return writeError("Delete", resourceType, id, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return NewStoreError("Delete", resourceType, id, "not found", ErrNotFound)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// reload reads a written resource back without scopes, so a write is
// always answered with what was stored.
func (s *Store) reload(ctx context.Context, op, resourceType, id string) (*resources.Model, error) {
	unscoped := *s
	unscoped.scopes = nil

	res, err := unscoped.QueryOne(resourceType, id).First(ctx)
	if err != nil {
		return nil, NewStoreError(op, resourceType, id, "reload after write", err)
	}
	return res.Model, nil
}

// columnValues validates the members of in and converts them to column
// values. When creating, required fields that are absent are reported.
func (s *Store) columnValues(ctx context.Context, sch *schema.Schema, in Input, creating bool) (map[string]any, error) {
	values := make(map[string]any)
	var errs ValidationErrors

	for _, name := range slices.Sorted(maps.Keys(in.Attributes)) {
		f, ok := sch.Field(name)
		if !ok || !f.IsAttribute() {
			errs = append(errs, FieldError{Pointer: attributePointer(name), Detail: fmt.Sprintf("%s is not an attribute of %s", name, sch.Type)})
			continue
		}
		if f.IsReadOnly() {
			errs = append(errs, FieldError{Pointer: attributePointer(name), Detail: fmt.Sprintf("%s is read-only", name)})
			continue
		}

		v, err := s.attributeValue(f, in.Attributes[name])
		if err != nil {
			errs = append(errs, FieldError{Pointer: attributePointer(name), Detail: err.Error()})
			continue
		}
		values[f.Column()] = v
	}

	if creating {
		for _, f := range sch.Fields {
			if _, sent := in.Attributes[f.Name]; sent || !f.IsAttribute() || !hasRule(f.Rules(), "required") {
				continue
			}
			errs = append(errs, FieldError{Pointer: attributePointer(f.Name), Detail: fmt.Sprintf("%s is required", f.Name)})
		}
	}

	for _, name := range slices.Sorted(maps.Keys(in.Relationships)) {
		f, ok := sch.Relation(name)
		switch {
		case !ok:
			errs = append(errs, FieldError{Pointer: relationshipPointer(name), Detail: fmt.Sprintf("%s is not a relationship of %s", name, sch.Type)})
			continue
		case f.IsToMany() || f.IsReadOnly():
			errs = append(errs, FieldError{Pointer: relationshipPointer(name), Detail: fmt.Sprintf("%s is read-only", name)})
			continue
		}

		ids := in.Relationships[name]
		if len(ids) == 0 {
			values[f.Column()] = nil
			continue
		}

		unscoped := *s
		unscoped.scopes = nil
		exists, err := unscoped.Exists(ctx, f.Related, ids[0])
		if err != nil {
			return nil, err
		}
		if !exists {
			errs = append(errs, FieldError{Pointer: relationshipPointer(name), Detail: fmt.Sprintf("%s %s does not exist", f.Related, ids[0])})
			continue
		}
		values[f.Column()] = ids[0]
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return values, nil
}

// attributeValue checks v against the field's kind and rules and returns
// the value to store.
func (s *Store) attributeValue(f schema.Field, v any) (any, error) {
	if v == nil {
		if hasRule(f.Rules(), "required") {
			return nil, fmt.Errorf("%s is required", f.Name)
		}
		return nil, nil
	}

	rules := f.Rules()
	if f.Kind != schema.KindString {
		// A present false or 0 satisfies required.
		rules = withoutRule(rules, "required")
	}
	if rules != "" {
		if err := validate.Var(v, rules); err != nil {
			return nil, ruleError(f.Name, err)
		}
	}

	switch f.Kind {
	case schema.KindString:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", f.Name)
		}
		return str, nil
	case schema.KindNumber:
		switch v.(type) {
		case float64, float32, int, int64:
			return v, nil
		}
		return nil, fmt.Errorf("%s must be a number", f.Name)
	case schema.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s must be a boolean", f.Name)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case schema.KindDateTime:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be an RFC 3339 date-time", f.Name)
		}
		t, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return nil, fmt.Errorf("%s must be an RFC 3339 date-time", f.Name)
		}
		return t.UTC().Format(time.RFC3339), nil
	case schema.KindHashed:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", f.Name)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(str), s.hashCost)
		if err != nil {
			return nil, fmt.Errorf("%s could not be hashed: %w", f.Name, err)
		}
		return string(hash), nil
	}
	return v, nil
}

func hasRule(rules, name string) bool {
	for _, r := range strings.Split(rules, ",") {
		if r == name {
			return true
		}
	}
	return false
}

func withoutRule(rules, name string) string {
	kept := slices.DeleteFunc(strings.Split(rules, ","), func(r string) bool { return r == name || r == "" })
	return strings.Join(kept, ",")
}

func ruleError(name string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Errorf("%s failed the %s=%s rule", name, fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%s failed the %s rule", name, fe.Tag())
	}
	return fmt.Errorf("%s: %w", name, err)
}

// writeError classifies driver errors from inserts, updates and deletes.
func writeError(op, resourceType, id string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return NewStoreError(op, resourceType, id, sqliteErr.Error(), ErrConflict)
		case sqlite3.ErrConstraintForeignKey:
			return NewStoreError(op, resourceType, id, "resource is still referenced", ErrConflict)
		}
	}
	return NewStoreError(op, resourceType, id, err.Error(), err)
}
