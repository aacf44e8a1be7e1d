package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/schema"
)

// selection accumulates one SELECT over a resource table.
type selection struct {
	schema  *schema.Schema
	columns []string
	conds   []string
	args    []any
	orderBy []string
	limit   int
	offset  int
}

// selectFor starts a selection over sch with the store's scopes applied.
func (s *Store) selectFor(sch *schema.Schema) *selection {
	sel := &selection{schema: sch, columns: sch.Columns()}
	for _, scope := range s.scopes[sch.Type] {
		sel.where("("+scope.Where+")", scope.Args...)
	}
	return sel
}

func (sel *selection) where(cond string, args ...any) {
	sel.conds = append(sel.conds, cond)
	sel.args = append(sel.args, args...)
}

// whereIn adds column IN (...). An empty list matches nothing.
func (sel *selection) whereIn(column string, values []any) {
	if len(values) == 0 {
		sel.where("1 = 0")
		return
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	sel.where(fmt.Sprintf("%s IN (%s)", column, placeholders), values...)
}

func (sel *selection) addColumn(column string) {
	for _, c := range sel.columns {
		if c == column {
			return
		}
	}
	sel.columns = append(sel.columns, column)
}

func (sel *selection) whereClause() string {
	if len(sel.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(sel.conds, " AND ")
}

func (sel *selection) selectSQL() string {
	q := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(sel.columns, ", "), sel.schema.TableName(), sel.whereClause())
	if len(sel.orderBy) > 0 {
		q += " ORDER BY " + strings.Join(sel.orderBy, ", ")
	}
	if sel.limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", sel.limit, sel.offset)
	}
	return q
}

func (sel *selection) countSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", sel.schema.TableName(), sel.whereClause())
}

// =============================================================================
// Filters and sorting
// =============================================================================

// applyFilters adds a condition per filter[key] value. It reports whether
// a singular filter was used.
func (sel *selection) applyFilters(filters map[string]string) (singular bool, err error) {
	for _, key := range slices.Sorted(maps.Keys(filters)) {
		filter, ok := sel.schema.Filter(key)
		if !ok {
			return false, &query.Error{Parameter: "filter[" + key + "]", Message: fmt.Sprintf("filter %q is not allowed", key)}
		}

		column, field := "id", schema.ID()
		if filter.Field != "id" {
			field, _ = sel.schema.Field(filter.Field)
			column = field.Column()
		}

		values := filter.Values(filters[key])
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = filterArg(field, v)
		}

		if filter.Kind == schema.FilterWhereIn {
			sel.whereIn(column, args)
		} else {
			sel.where(column+" = ?", args[0])
		}
		singular = singular || filter.Singular
	}
	return singular, nil
}

func filterArg(f schema.Field, raw string) any {
	if f.Kind == schema.KindBoolean {
		switch strings.ToLower(raw) {
		case "true", "1":
			return 1
		case "false", "0":
			return 0
		}
	}
	return raw
}

// applySort orders by the requested fields, or the schema default sort,
// with id as the final tie-breaker.
func (sel *selection) applySort(sort query.SortFields) error {
	if sort.IsEmpty() {
		sort = sel.schema.DefaultSort
	}

	byID := false
	for f := range sort.All() {
		if !sel.schema.IsSortable(f.Name()) {
			return &query.Error{Parameter: "sort", Message: fmt.Sprintf("sort field %q is not allowed", f.Name())}
		}
		column := "id"
		if f.Name() != "id" {
			field, _ := sel.schema.Field(f.Name())
			column = field.Column()
		}
		byID = byID || column == "id"
		sel.orderBy = append(sel.orderBy, column+" "+f.Direction().String())
	}
	if !byID {
		sel.orderBy = append(sel.orderBy, "id ASC")
	}
	return nil
}

// =============================================================================
// Execution
// =============================================================================

func (s *Store) fetch(ctx context.Context, sel *selection) ([]map[string]any, error) {
	sqlText := sel.selectSQL()
	s.logger.Debug("select", "type", sel.schema.Type, "sql", sqlText)

	rows, err := s.exec.QueryxContext(ctx, sqlText, sel.args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", sel.schema.Type, err)
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", sel.schema.Type, err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func (s *Store) count(ctx context.Context, sel *selection) (int, error) {
	var n int
	if err := s.exec.GetContext(ctx, &n, sel.countSQL(), sel.args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", sel.schema.Type, err)
	}
	return n, nil
}
