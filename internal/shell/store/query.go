package store

import (
	"context"

	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
)

// Result is the outcome of a read. Exactly one of Models or Model is
// meaningful: Singular reports which.
type Result struct {
	Models   []*resources.Model
	Model    *resources.Model
	Singular bool
	Included []*resources.Model

	// Page is set when the result is one page of a larger set.
	Page  *schema.Page
	Total int
}

// =============================================================================
// QueryAll
// =============================================================================

// QueryAllBuilder reads a collection of one resource type.
type QueryAllBuilder struct {
	store  *Store
	typ    string
	params *query.ResourceQuery
}

// QueryAll starts a collection query for resourceType.
func (s *Store) QueryAll(resourceType string) *QueryAllBuilder {
	return &QueryAllBuilder{store: s, typ: resourceType}
}

// Using applies the filters, sort and includes of q.
func (b *QueryAllBuilder) Using(q *query.ResourceQuery) *QueryAllBuilder {
	b.params = q
	return b
}

// Get returns every matching resource.
func (b *QueryAllBuilder) Get(ctx context.Context) (*Result, error) {
	sch, sel, _, err := b.prepare("QueryAll")
	if err != nil {
		return nil, err
	}
	return b.run(ctx, sch, sel, nil, 0)
}

// Paginate returns one page of matching resources and the total count.
func (b *QueryAllBuilder) Paginate(ctx context.Context, page schema.Page) (*Result, error) {
	sch, sel, _, err := b.prepare("Paginate")
	if err != nil {
		return nil, err
	}

	total, err := b.store.count(ctx, sel)
	if err != nil {
		return nil, NewStoreError("Paginate", b.typ, "", err.Error(), err)
	}

	sel.limit = page.Size
	sel.offset = page.Offset()
	return b.run(ctx, sch, sel, &page, total)
}

// First returns the first matching resource, or a nil Model.
func (b *QueryAllBuilder) First(ctx context.Context) (*Result, error) {
	sch, sel, _, err := b.prepare("First")
	if err != nil {
		return nil, err
	}
	sel.limit = 1

	res, err := b.run(ctx, sch, sel, nil, 0)
	if err != nil {
		return nil, err
	}
	res.Singular = true
	if len(res.Models) > 0 {
		res.Model = res.Models[0]
	}
	res.Models = nil
	return res, nil
}

// FirstOrPaginate fetches one resource when a singular filter is in use,
// otherwise a page when page is non-nil, otherwise everything.
func (b *QueryAllBuilder) FirstOrPaginate(ctx context.Context, page *schema.Page) (*Result, error) {
	_, _, singular, err := b.prepare("FirstOrPaginate")
	if err != nil {
		return nil, err
	}
	switch {
	case singular:
		return b.First(ctx)
	case page != nil:
		return b.Paginate(ctx, *page)
	default:
		return b.Get(ctx)
	}
}

func (b *QueryAllBuilder) prepare(op string) (*schema.Schema, *selection, bool, error) {
	sch, err := b.store.schemaFor(op, b.typ)
	if err != nil {
		return nil, nil, false, err
	}

	sel := b.store.selectFor(sch)
	singular, err := sel.applyFilters(filtersOf(b.params))
	if err != nil {
		return nil, nil, false, err
	}
	if err := sel.applySort(b.params.SortFields()); err != nil {
		return nil, nil, false, err
	}
	return sch, sel, singular, nil
}

func (b *QueryAllBuilder) run(ctx context.Context, sch *schema.Schema, sel *selection, page *schema.Page, total int) (*Result, error) {
	rows, err := b.store.fetch(ctx, sel)
	if err != nil {
		return nil, NewStoreError("QueryAll", b.typ, "", err.Error(), err)
	}

	res := &Result{Models: make([]*resources.Model, 0, len(rows)), Page: page, Total: total}
	for _, row := range rows {
		res.Models = append(res.Models, decodeRow(sch, row))
	}

	res.Included, err = b.store.loadIncludes(ctx, sch, res.Models, includesOf(b.params))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// =============================================================================
// QueryOne
// =============================================================================

// QueryOneBuilder reads one resource by id.
type QueryOneBuilder struct {
	store  *Store
	typ    string
	id     string
	params *query.ResourceQuery
}

// QueryOne starts a query for one resource.
func (s *Store) QueryOne(resourceType, id string) *QueryOneBuilder {
	return &QueryOneBuilder{store: s, typ: resourceType, id: id}
}

// Using applies the includes of q.
func (b *QueryOneBuilder) Using(q *query.ResourceQuery) *QueryOneBuilder {
	b.params = q
	return b
}

// First returns the resource, or ErrNotFound when it does not exist or a
// scope hides it.
func (b *QueryOneBuilder) First(ctx context.Context) (*Result, error) {
	sch, err := b.store.schemaFor("QueryOne", b.typ)
	if err != nil {
		return nil, err
	}

	sel := b.store.selectFor(sch)
	sel.where("id = ?", b.id)
	if _, err := sel.applyFilters(filtersOf(b.params)); err != nil {
		return nil, err
	}
	sel.limit = 1

	rows, err := b.store.fetch(ctx, sel)
	if err != nil {
		return nil, NewStoreError("QueryOne", b.typ, b.id, err.Error(), err)
	}
	if len(rows) == 0 {
		return nil, NewStoreError("QueryOne", b.typ, b.id, "not found", ErrNotFound)
	}

	res := &Result{Singular: true, Model: decodeRow(sch, rows[0])}
	res.Included, err = b.store.loadIncludes(ctx, sch, []*resources.Model{res.Model}, includesOf(b.params))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func filtersOf(q *query.ResourceQuery) map[string]string {
	if q == nil {
		return nil
	}
	return q.Filter
}

func includesOf(q *query.ResourceQuery) []string {
	if q == nil {
		return nil
	}
	return q.IncludePaths
}
