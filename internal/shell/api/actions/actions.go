// Package actions implements the JSON:API controller actions: fetching
// resources, related resources and relationships, and creating, updating
// and deleting resources. Every action works on the server and route
// bound into the request scope by the Boot middleware.
package actions

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/manyminds/api2go"

	"github.com/artpar/jsonapi-server/internal/container"
	"github.com/artpar/jsonapi-server/internal/core/encoder"
	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
	"github.com/artpar/jsonapi-server/internal/shell/api/routing"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// =============================================================================
// Controller
// =============================================================================

// Controller serves the JSON:API actions of every server.
type Controller struct {
	logger *slog.Logger
}

// New creates a controller.
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{logger: logger}
}

func (c *Controller) write(w http.ResponseWriter, resp api2go.Responder, err error) {
	respond.Write(w, resp, err, c.logger)
}

// =============================================================================
// Request Services
// =============================================================================

// services are the per-request values an action works with.
type services struct {
	scope   *container.Scope
	server  server.Server
	route   *routing.Route
	schemas *schema.Container
	schema  *schema.Schema
	store     *store.Store
	encoder   *encoder.Encoder
	resources *resources.Container
}

func resolve(r *http.Request) (*services, error) {
	scope, ok := container.FromContext(r.Context())
	if !ok {
		return nil, errors.New("request has no service scope")
	}

	var (
		s   = &services{scope: scope}
		err error
	)
	if s.server, err = container.Resolve[server.Server](scope, container.ServerKey); err != nil {
		return nil, err
	}
	if s.route, err = container.Resolve[*routing.Route](scope, container.RouteKey); err != nil {
		return nil, err
	}
	if s.schemas, err = container.Resolve[*schema.Container](scope, container.SchemaContainerKey); err != nil {
		return nil, err
	}
	if s.store, err = container.Resolve[*store.Store](scope, container.StoreKey); err != nil {
		return nil, err
	}
	if s.encoder, err = container.Resolve[*encoder.Encoder](scope, container.EncoderKey); err != nil {
		return nil, err
	}
	if s.resources, err = container.Resolve[*resources.Container](scope, container.ResourceContainerKey); err != nil {
		return nil, err
	}
	if s.schema, err = s.schemas.SchemaFor(s.route.ResourceType()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *services) pageResolver() (routing.PageResolver, error) {
	return container.Resolve[routing.PageResolver](s.scope, container.PageResolverKey)
}

// page resolves the requested page of the route's resource type.
func (s *services) page() (*schema.Page, error) {
	resolvePage, err := s.pageResolver()
	if err != nil {
		return nil, err
	}
	return resolvePage(s.schema.Pagination)
}

// options returns encoder options rendering through the request's
// resource container.
func (s *services) options(q *query.ResourceQuery, included []*resources.Model) encoder.Options {
	return encoder.Options{Query: q, Included: included, Resources: s.resources}
}

func (s *services) hooks() any {
	return server.Hooks(s.server, s.route.ResourceType())
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
