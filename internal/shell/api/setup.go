// Package api wires the HTTP surface of the JSON:API server: a chi root
// router for health checks and shared middleware, and one gorilla/mux
// router per configured JSON:API server below /api/{name}.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"github.com/artpar/jsonapi-server/internal/container"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/api/actions"
	"github.com/artpar/jsonapi-server/internal/shell/api/middleware"
	"github.com/artpar/jsonapi-server/internal/shell/api/openapi"
	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
	"github.com/artpar/jsonapi-server/internal/shell/api/routing"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// =============================================================================
// API Setup
// =============================================================================

// APIConfig holds configuration for the API setup.
type APIConfig struct {
	Repository *server.Repository

	// Container holds the application bindings. A new one is created
	// when nil; the server bindings are registered on it either way.
	Container *container.Container

	// DB is pinged by the readiness check.
	DB     *sqlx.DB
	Logger *slog.Logger

	// AuthSharedSecret, when set, must be sent by the gateway in
	// X-Gateway-Secret.
	AuthSharedSecret string

	Title   string
	Version string

	// Telemetry configures tracing and metrics. The global OpenTelemetry
	// providers are used by default.
	Telemetry []middleware.TelemetryOption
}

// SetupAPI creates the complete API router.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Container == nil {
		cfg.Container = container.New()
	}
	server.RegisterBindings(cfg.Container)

	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.Telemetry(cfg.Telemetry...))
	router.Use(recoveryMiddleware(cfg.Logger))

	router.Get("/health", healthHandler)
	router.Get("/ready", readyHandler(cfg.DB, cfg.Repository, cfg.Logger))

	authMW := middleware.NewAuthMiddleware(middleware.AuthConfig{
		SharedSecret: cfg.AuthSharedSecret,
		Logger:       cfg.Logger,
	})

	var genOpts []openapi.Option
	if cfg.Title != "" {
		genOpts = append(genOpts, openapi.WithTitle(cfg.Title))
	}
	if cfg.Version != "" {
		genOpts = append(genOpts, openapi.WithVersion(cfg.Version))
	}
	gen := openapi.NewGenerator(genOpts...)
	ctrl := actions.New(cfg.Logger)

	router.Group(func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(middleware.Scoped(cfg.Container))
		for _, name := range cfg.Repository.Names() {
			r.Mount("/api/"+name, serverRouter(name, cfg, ctrl, gen))
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, respond.NewError(http.StatusNotFound, "Not Found", "The requested resource does not exist."), cfg.Logger)
	})
	return router
}

// serverRouter routes the JSON:API endpoints of the server called name.
func serverRouter(name string, cfg APIConfig, ctrl *actions.Controller, gen *openapi.Generator) http.Handler {
	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, respond.NewError(http.StatusNotFound, "Not Found", "The requested resource does not exist."), cfg.Logger)
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, respond.NewError(http.StatusMethodNotAllowed, "Method Not Allowed",
			"The request method is not supported for this endpoint."), cfg.Logger)
	})

	sub := root.PathPrefix("/api/" + name).Subrouter()
	sub.HandleFunc("/openapi.json", openAPIHandler(cfg, gen, name, openapi.JSON, "application/json")).Methods(http.MethodGet)
	sub.HandleFunc("/openapi.yaml", openAPIHandler(cfg, gen, name, openapi.YAML, "application/yaml")).Methods(http.MethodGet)

	resources := sub.NewRoute().Subrouter()
	resources.Use(middleware.Negotiate)
	resources.Use(middleware.Boot(cfg.Repository, name, cfg.Logger))

	collection := "/{" + routing.VarResourceType + "}"
	member := collection + "/{" + routing.VarResourceID + "}"
	relation := "{" + routing.VarRelationship + "}"

	// Writes are only open to authenticated callers.
	authenticated := middleware.RequireAuth(cfg.Logger)

	resources.HandleFunc(collection, ctrl.FetchMany).Methods(http.MethodGet)
	resources.Handle(collection, authenticated(http.HandlerFunc(ctrl.Store))).Methods(http.MethodPost)
	resources.HandleFunc(member, ctrl.FetchOne).Methods(http.MethodGet)
	resources.Handle(member, authenticated(http.HandlerFunc(ctrl.Update))).Methods(http.MethodPatch)
	resources.Handle(member, authenticated(http.HandlerFunc(ctrl.Destroy))).Methods(http.MethodDelete)
	resources.HandleFunc(member+"/relationships/"+relation, ctrl.FetchRelationship).Methods(http.MethodGet)
	resources.HandleFunc(member+"/"+relation, ctrl.FetchRelated).Methods(http.MethodGet)

	return root
}

// openAPIHandler serves the OpenAPI document of the server called name.
func openAPIHandler(cfg APIConfig, gen *openapi.Generator, name string, render func(*openapi3.T) ([]byte, error), contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srv, err := cfg.Repository.Server(name)
		if err != nil {
			respond.Error(w, err, cfg.Logger)
			return
		}
		schemas, err := srv.Container()
		if err != nil {
			respond.Error(w, err, cfg.Logger)
			return
		}
		enc, err := srv.Encoder()
		if err != nil {
			respond.Error(w, err, cfg.Logger)
			return
		}

		spec, err := gen.Generate(name, enc.BaseURL(), schemas)
		if err != nil {
			respond.Error(w, err, cfg.Logger)
			return
		}
		body, err := render(spec)
		if err != nil {
			respond.Error(w, err, cfg.Logger)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDMiddleware makes sure every request carries an X-Request-ID
// and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(chimw.RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
			r.Header.Set(chimw.RequestIDHeader, reqID)
		}
		w.Header().Set(chimw.RequestIDHeader, reqID)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and answers with a JSON:API
// 500 error.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.Error("panic recovered",
						"error", p,
						"request_id", chimw.GetReqID(r.Context()),
						"path", r.URL.Path,
					)
					respond.Error(w, respond.NewError(http.StatusInternalServerError, "Internal Server Error",
						"An unexpected error occurred."), logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(db *sqlx.DB, repo *server.Repository, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checks := map[string]string{"database": "ok"}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			checks["tables"] = "ok"
			if err := db.PingContext(ctx); err != nil {
				checks["database"] = "failed"
				checks["tables"] = "unknown"
			} else if err := tablesReady(ctx, db, repo); err != nil {
				logger.Warn("readiness check failed", "error", err)
				checks["tables"] = "missing"
			}

			if checks["database"] != "ok" || checks["tables"] != "ok" {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]any{
					"status": "not_ready",
					"checks": checks,
				})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]any{
			"status": "ready",
			"checks": checks,
		})
	}
}

// tablesReady fails when a configured server has a resource type whose
// table has not been created.
func tablesReady(ctx context.Context, db *sqlx.DB, repo *server.Repository) error {
	for _, name := range repo.Names() {
		srv, err := repo.Server(name)
		if err != nil {
			return err
		}
		schemas, err := srv.Container()
		if err != nil {
			return err
		}
		recorded, err := store.Tables(ctx, db, name)
		if err != nil {
			return err
		}
		for _, typ := range schemas.Types() {
			if !slices.Contains(recorded, typ) {
				return fmt.Errorf("server %s: no table for %s", name, typ)
			}
		}
	}
	return nil
}
