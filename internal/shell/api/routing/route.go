// Package routing describes the JSON:API route of the current request.
package routing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// Route variable names.
const (
	VarResourceType = "type"
	VarResourceID   = "id"
	VarRelationship = "relationship"
)

// =============================================================================
// Route
// =============================================================================

// Route is the resource type, id and relationship addressed by a request
// on one server.
type Route struct {
	server       server.Server
	resourceType string
	id           string
	relationship string
	model        *resources.Model
}

// New returns the route for vars, the path variables of the request.
func New(srv server.Server, vars map[string]string) *Route {
	return &Route{
		server:       srv,
		resourceType: vars[VarResourceType],
		id:           vars[VarResourceID],
		relationship: vars[VarRelationship],
	}
}

func (r *Route) Server() server.Server { return r.server }
func (r *Route) ResourceType() string { return r.resourceType }
func (r *Route) ResourceID() string { return r.id }
func (r *Route) HasResourceID() bool { return r.id != "" }
func (r *Route) FieldName() string { return r.relationship }
func (r *Route) HasRelation() bool { return r.relationship != "" }

// Model returns the resource loaded by SubstituteBindings.
func (r *Route) Model() (*resources.Model, error) {
	if r.model == nil {
		return nil, fmt.Errorf("route %s has no bound resource", r.resourceType)
	}
	return r.model, nil
}

// Schema returns the schema of the route's resource type.
func (r *Route) Schema() (*schema.Schema, error) {
	c, err := r.server.Container()
	if err != nil {
		return nil, err
	}
	return c.SchemaFor(r.resourceType)
}

// SubstituteBindings checks that the route addresses something the server
// serves and loads the resource named by the id. Loading goes through
// the server's store, so scopes installed while serving apply: a
// resource hidden by a scope is not found.
func (r *Route) SubstituteBindings(ctx context.Context) error {
	sch, err := r.Schema()
	if err != nil {
		return err
	}

	if r.HasRelation() {
		if _, ok := sch.Relation(r.relationship); !ok {
			return store.NewStoreError("SubstituteBindings", r.resourceType, r.id,
				fmt.Sprintf("%s has no relationship %s", r.resourceType, r.relationship), store.ErrNotFound)
		}
	}

	if !r.HasResourceID() {
		return nil
	}

	st, err := r.server.Store()
	if err != nil {
		return err
	}
	res, err := st.QueryOne(r.resourceType, r.id).First(ctx)
	if err != nil {
		return err
	}
	r.model = res.Model
	return nil
}

// =============================================================================
// Page Resolver
// =============================================================================

// PageResolver resolves the requested page of a paginated resource type.
// It returns nil when the request is not to be paginated.
type PageResolver func(p *schema.PagePagination) (*schema.Page, error)

// NewPageResolver reads page[...] parameters from values.
func NewPageResolver(values url.Values) PageResolver {
	params := make(map[string]string)
	for key, v := range values {
		name, ok := strings.CutPrefix(key, "page[")
		if !ok || !strings.HasSuffix(name, "]") || len(v) == 0 {
			continue
		}
		params[strings.TrimSuffix(name, "]")] = v[len(v)-1]
	}

	return func(p *schema.PagePagination) (*schema.Page, error) {
		if p == nil {
			return nil, nil
		}
		page, ok, err := p.Resolve(params)
		if err != nil {
			return nil, &query.Error{Parameter: "page", Message: err.Error()}
		}
		if !ok {
			return nil, nil
		}
		return &page, nil
	}
}
