package actions

import (
	"net/http"
	"net/url"

	"github.com/artpar/jsonapi-server/internal/core/encoder"
	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// =============================================================================
// Fetch Many
// =============================================================================

// FetchMany handles GET /{type}. A singular filter answers with one
// resource or null; otherwise the collection is returned, one page at a
// time when the type is paginated.
func (c *Controller) FetchMany(w http.ResponseWriter, r *http.Request) {
	s, err := resolve(r)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	rules, err := s.schemas.Rules(s.schema.Type)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	q, err := query.QueryMany(r.URL.Query(), rules)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	page, err := s.page()
	if err != nil {
		c.write(w, nil, err)
		return
	}

	res, err := s.store.QueryAll(s.schema.Type).Using(q).FirstOrPaginate(r.Context(), page)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	path := s.encoder.BaseURL() + "/" + s.schema.Type
	doc, err := s.collection(s.schema, res, q, path, r.URL.Query())
	if err != nil {
		c.write(w, nil, err)
		return
	}
	c.write(w, respond.OK(doc), nil)
}

// collection encodes a collection result, adding page meta and links
// when the result is a page.
func (s *services) collection(sch *schema.Schema, res *store.Result, q *query.ResourceQuery, path string, params url.Values) (any, error) {
	opts := s.options(q, res.Included)
	if res.Singular {
		return s.encoder.One(res.Model, opts)
	}

	if res.Page != nil && sch.Pagination != nil {
		p := encoder.Pagination{
			Number:    res.Page.Number,
			Size:      res.Page.Size,
			Total:     res.Total,
			NumberKey: sch.Pagination.NumberKey,
			SizeKey:   sch.Pagination.SizeKey,
		}
		opts.Meta = p.Meta()
		opts.Links = p.Links(path, params)
	}
	return s.encoder.Many(res.Models, opts)
}

// =============================================================================
// Fetch One
// =============================================================================

// FetchOne handles GET /{type}/{id}.
func (c *Controller) FetchOne(w http.ResponseWriter, r *http.Request) {
	s, err := resolve(r)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	rules, err := s.schemas.Rules(s.schema.Type)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	q, err := query.QueryOne(r.URL.Query(), rules)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	res, err := s.store.QueryOne(s.schema.Type, s.route.ResourceID()).Using(q).First(r.Context())
	if err != nil {
		c.write(w, nil, err)
		return
	}

	doc, err := s.encoder.One(res.Model, s.options(q, res.Included))
	c.write(w, respond.OK(doc), err)
}

// =============================================================================
// Fetch Related
// =============================================================================

// FetchRelated handles GET /{type}/{id}/{relationship}. A to-many
// relationship is queried like a collection of the related type, so
// filters, sorting and pagination apply; a to-one relationship answers
// with the related resource or null.
func (c *Controller) FetchRelated(w http.ResponseWriter, r *http.Request) {
	s, err := resolve(r)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	owner, err := s.route.Model()
	if err != nil {
		c.write(w, nil, err)
		return
	}

	rel, _ := s.schema.Relation(s.route.FieldName())
	related, err := s.schemas.SchemaFor(rel.Related)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	rules, err := s.schemas.Rules(related.Type)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	if !rel.IsToMany() {
		c.fetchRelatedOne(w, r, s, owner.String(rel.Name), related, rules)
		return
	}

	q, err := query.QueryMany(r.URL.Query(), rules)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	resolvePage, err := s.pageResolver()
	if err != nil {
		c.write(w, nil, err)
		return
	}
	page, err := resolvePage(related.Pagination)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	st := s.store.WithScope(related.Type, store.Scope{Where: rel.ForeignKey + " = ?", Args: []any{owner.ID}})
	res, err := st.QueryAll(related.Type).Using(q).FirstOrPaginate(r.Context(), page)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	path := s.encoder.SelfURL(owner.Type, owner.ID) + "/" + rel.Name
	doc, err := s.collection(related, res, q, path, r.URL.Query())
	if err != nil {
		c.write(w, nil, err)
		return
	}
	c.write(w, respond.OK(doc), nil)
}

func (c *Controller) fetchRelatedOne(w http.ResponseWriter, r *http.Request, s *services, id string, related *schema.Schema, rules query.Rules) {
	q, err := query.QueryOne(r.URL.Query(), rules)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	var (
		model    *resources.Model
		included []*resources.Model
	)
	if id != "" {
		res, err := s.store.QueryOne(related.Type, id).Using(q).First(r.Context())
		switch {
		case err == nil:
			model, included = res.Model, res.Included
		case !isNotFound(err):
			c.write(w, nil, err)
			return
		}
	}

	doc, err := s.encoder.One(model, s.options(q, included))
	c.write(w, respond.OK(doc), err)
}

// =============================================================================
// Fetch Relationship
// =============================================================================

// FetchRelationship handles GET /{type}/{id}/relationships/{relationship},
// answering with the relationship's linkage.
func (c *Controller) FetchRelationship(w http.ResponseWriter, r *http.Request) {
	s, err := resolve(r)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	q := &query.ResourceQuery{IncludePaths: []string{s.route.FieldName()}}
	res, err := s.store.QueryOne(s.schema.Type, s.route.ResourceID()).Using(q).First(r.Context())
	if err != nil {
		c.write(w, nil, err)
		return
	}

	doc, err := s.encoder.Relationship(res.Model, s.route.FieldName(), nil)
	c.write(w, respond.OK(doc), err)
}
