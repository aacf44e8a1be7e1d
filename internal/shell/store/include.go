package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
)

// loadIncludes eager loads the relationships named by paths for models,
// records linkage on them, and returns every related model loaded at any
// depth. Related reads honour the related type's scopes.
func (s *Store) loadIncludes(ctx context.Context, sch *schema.Schema, models []*resources.Model, paths []string) ([]*resources.Model, error) {
	if len(paths) == 0 || len(models) == 0 {
		return nil, nil
	}

	tree := includeTree(paths)
	var out []*resources.Model

	for _, name := range sortedNames(tree) {
		rel, ok := sch.Relation(name)
		if !ok {
			return nil, &query.Error{Parameter: "include", Message: fmt.Sprintf("%s has no relationship %q", sch.Type, name)}
		}
		related, err := s.schemaFor("Include", rel.Related)
		if err != nil {
			return nil, err
		}

		var loaded []*resources.Model
		if rel.IsToMany() {
			loaded, err = s.loadHasMany(ctx, related, rel, models)
		} else {
			loaded, err = s.loadBelongsTo(ctx, related, rel, models)
		}
		if err != nil {
			return nil, NewStoreError("Include", sch.Type, "", fmt.Sprintf("load %s: %v", name, err), err)
		}
		out = append(out, loaded...)

		nested, err := s.loadIncludes(ctx, related, loaded, tree[name])
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

func (s *Store) loadBelongsTo(ctx context.Context, related *schema.Schema, rel schema.Field, models []*resources.Model) ([]*resources.Model, error) {
	var ids []any
	seen := make(map[string]bool)
	for _, m := range models {
		if id := m.String(rel.Name); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	byID := make(map[string]*resources.Model)
	var loaded []*resources.Model
	if len(ids) > 0 {
		sel := s.selectFor(related)
		sel.whereIn("id", ids)
		sel.orderBy = []string{"id ASC"}
		rows, err := s.fetch(ctx, sel)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			m := decodeRow(related, row)
			byID[m.ID] = m
			loaded = append(loaded, m)
		}
	}

	for _, m := range models {
		if target, ok := byID[m.String(rel.Name)]; ok {
			m.SetRefs(rel.Name, target.ID)
		} else {
			m.SetRefs(rel.Name)
		}
	}
	return loaded, nil
}

func (s *Store) loadHasMany(ctx context.Context, related *schema.Schema, rel schema.Field, models []*resources.Model) ([]*resources.Model, error) {
	ids := make([]any, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}

	sel := s.selectFor(related)
	sel.addColumn(rel.ForeignKey)
	sel.whereIn(rel.ForeignKey, ids)
	if err := sel.applySort(query.SortFields{}); err != nil {
		return nil, err
	}

	rows, err := s.fetch(ctx, sel)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]string)
	loaded := make([]*resources.Model, 0, len(rows))
	for _, row := range rows {
		m := decodeRow(related, row)
		owner := idString(row[rel.ForeignKey])
		groups[owner] = append(groups[owner], m.ID)
		loaded = append(loaded, m)
	}

	for _, m := range models {
		m.SetRefs(rel.Name, groups[m.ID]...)
	}
	return loaded, nil
}

// includeTree groups include paths by their first segment:
// ["author", "comments.user"] becomes {author: [], comments: [user]}.
func includeTree(paths []string) map[string][]string {
	tree := make(map[string][]string)
	for _, path := range paths {
		head, rest, nested := strings.Cut(path, ".")
		if _, ok := tree[head]; !ok {
			tree[head] = nil
		}
		if nested && rest != "" {
			tree[head] = append(tree[head], rest)
		}
	}
	return tree
}

func sortedNames(tree map[string][]string) []string {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
