package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/jsonapi-server/internal/container"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/api/routing"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// =============================================================================
// Fixtures
// =============================================================================

type noteServer struct {
	*server.Base
	events *[]string
	fail   error
}

func (s *noteServer) Serving(ctx context.Context) error {
	*s.events = append(*s.events, "serving")
	if s.fail != nil {
		return s.fail
	}
	s.AddScope("notes", store.Scope{Where: "archived = 0 OR archived IS NULL"})
	return nil
}

func noteSchemas() []schema.Schema {
	return []schema.Schema{{
		Type:       "notes",
		Fields:     []schema.Field{schema.ID(), schema.Str("body"), schema.Boolean("archived")},
		Pagination: &schema.PagePagination{NumberKey: "number", SizeKey: "size"},
	}}
}

type bootFixture struct {
	router   *mux.Router
	scope    *container.Scope
	events   []string
	visible  string
	archived string
}

func newBootFixture(t *testing.T, servingErr error) *bootFixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	app := &server.App{DB: db}

	f := &bootFixture{scope: container.New().Scope()}

	registry := server.NewRegistry()
	require.NoError(t, registry.Register("notes", func(app *server.App, name string) (any, error) {
		base, err := server.NewBase(app, name, noteSchemas)
		if err != nil {
			return nil, err
		}
		return &noteServer{Base: base, events: &f.events, fail: servingErr}, nil
	}))
	repo := server.NewRepository(app, registry, map[string]string{"v1": "notes", "broken": "missing"})

	// Seed through an unscoped server.
	base, err := server.NewBase(app, "v1", noteSchemas)
	require.NoError(t, err)
	c, err := base.Container()
	require.NoError(t, err)
	require.NoError(t, store.EnsureTables(ctx, db, "v1", c, nil))
	st, err := base.Store()
	require.NoError(t, err)
	visible, err := st.Create("notes").Store(ctx, store.Input{Attributes: map[string]any{"body": "shown"}})
	require.NoError(t, err)
	archived, err := st.Create("notes").Store(ctx, store.Input{Attributes: map[string]any{"body": "hidden", "archived": true}})
	require.NoError(t, err)
	f.visible, f.archived = visible.ID, archived.ID

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.events = append(f.events, "handler")

		scope, _ := container.FromContext(r.Context())
		srv, err := container.Resolve[server.Server](scope, container.ServerKey)
		require.NoError(t, err)
		route, err := container.Resolve[*routing.Route](scope, container.RouteKey)
		require.NoError(t, err)
		resolve, err := container.Resolve[routing.PageResolver](scope, container.PageResolverKey)
		require.NoError(t, err)

		sch, err := route.Schema()
		require.NoError(t, err)
		page, err := resolve(sch.Pagination)
		require.NoError(t, err)

		w.Header().Set("X-Server", srv.Name())
		w.Header().Set("X-Type", route.ResourceType())
		if page != nil {
			w.Header().Set("X-Page", "yes")
		}
		if m, err := route.Model(); err == nil {
			w.Header().Set("X-Body", m.String("body"))
		}
		w.WriteHeader(http.StatusOK)
	})

	root := mux.NewRouter()
	root.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(container.WithScope(r.Context(), f.scope)))
		})
	})
	for _, name := range []string{"v1", "broken"} {
		sub := root.PathPrefix("/api/" + name).Subrouter()
		sub.Use(Boot(repo, name, nil))
		sub.Handle("/{type}", handler)
		sub.Handle("/{type}/{id}", handler)
	}
	f.router = root
	return f
}

func (f *bootFixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (f *bootFixture) assertUnbound(t *testing.T) {
	t.Helper()
	assert.False(t, f.scope.Bound(container.ServerKey))
	assert.False(t, f.scope.Bound(container.RouteKey))
	assert.False(t, f.scope.Bound(container.PageResolverKey))
}

// =============================================================================
// Boot Tests
// =============================================================================

func TestBoot_BindsThenUnbinds(t *testing.T) {
	f := newBootFixture(t, nil)

	rec := f.get("/api/v1/notes?page%5Bnumber%5D=1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get("X-Server"))
	assert.Equal(t, "notes", rec.Header().Get("X-Type"))
	assert.Equal(t, "yes", rec.Header().Get("X-Page"))
	assert.Equal(t, []string{"serving", "handler"}, f.events)
	f.assertUnbound(t)
}

func TestBoot_SubstitutesBindings(t *testing.T) {
	f := newBootFixture(t, nil)

	rec := f.get("/api/v1/notes/" + f.visible)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shown", rec.Header().Get("X-Body"))
}

func TestBoot_ServingScopesApplyToBindings(t *testing.T) {
	f := newBootFixture(t, nil)

	rec := f.get("/api/v1/notes/" + f.archived)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"serving"}, f.events)
	f.assertUnbound(t)
}

func TestBoot_UnknownType(t *testing.T) {
	f := newBootFixture(t, nil)

	rec := f.get("/api/v1/tags")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.assertUnbound(t)
}

func TestBoot_ServingFailure(t *testing.T) {
	f := newBootFixture(t, errors.New("no tenant"))

	rec := f.get("/api/v1/notes")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"serving"}, f.events)
	f.assertUnbound(t)
}

func TestBoot_ServerConstructionFailure(t *testing.T) {
	f := newBootFixture(t, nil)

	rec := f.get("/api/broken/notes")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, f.events)
	f.assertUnbound(t)
}

func TestBoot_RequiresScope(t *testing.T) {
	handler := Boot(server.NewRepository(nil, nil, nil), "v1", nil)(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notes", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScoped(t *testing.T) {
	var seen []*container.Scope
	h := Scoped(container.New())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := container.FromContext(r.Context())
		require.True(t, ok)
		seen = append(seen, s)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
}
