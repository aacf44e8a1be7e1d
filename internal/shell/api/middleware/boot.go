package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/artpar/jsonapi-server/internal/container"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
	"github.com/artpar/jsonapi-server/internal/shell/api/routing"
)

// =============================================================================
// Service Scope
// =============================================================================

// Scoped gives every request its own scope of c, stored in the request
// context.
func Scoped(c *container.Container) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := container.FromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := container.WithScope(r.Context(), c.Scope())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// =============================================================================
// Boot
// =============================================================================

// Boot prepares a request for the JSON:API server called name. It binds
// the server and the route into the request scope, runs the server's
// Serving hook, loads the addressed resource and binds the page
// resolver. The bindings are removed once the request has been handled,
// whatever its outcome. Must be used after Scoped.
func Boot(repo *server.Repository, name string, logger *slog.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := container.FromContext(r.Context())
			if !ok {
				respond.Error(w, errors.New("request has no service scope"), logger)
				return
			}

			srv, err := repo.Server(name)
			if err != nil {
				respond.Error(w, err, logger)
				return
			}
			route := routing.New(srv, mux.Vars(r))
			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("jsonapi.server", name),
				attribute.String("jsonapi.type", route.ResourceType()),
			)

			scope.Instance(container.ServerKey, srv)
			scope.Instance(container.RouteKey, route)
			defer func() {
				scope.Forget(container.ServerKey)
				scope.Forget(container.RouteKey)
				scope.Forget(container.PageResolverKey)
			}()

			if s, ok := srv.(server.Servable); ok {
				if err := s.Serving(r.Context()); err != nil {
					respond.Error(w, err, logger)
					return
				}
			}

			// Scopes added by Serving must apply when loading the resource.
			if err := route.SubstituteBindings(r.Context()); err != nil {
				respond.Error(w, err, logger)
				return
			}

			scope.Instance(container.PageResolverKey, routing.NewPageResolver(r.URL.Query()))

			next.ServeHTTP(w, r)
		})
	}
}
