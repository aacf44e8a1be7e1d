package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/manyminds/api2go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/jsonapi-server/internal/container"
	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/api/middleware"
	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

const mediaType = "application/vnd.api+json"

// =============================================================================
// Fixtures
// =============================================================================

// recorder implements every write hook and records the order they ran in.
type recorder struct {
	events  []string
	fail    map[string]error
	respond map[string]api2go.Responder

	// onCreated runs inside the Created hook.
	onCreated func(ctx context.Context, model *resources.Model) error
}

func (h *recorder) record(name string) error {
	h.events = append(h.events, name)
	return h.fail[name]
}

func (h *recorder) Saving(ctx context.Context, model *resources.Model, in *store.Input, q *query.ResourceQuery) error {
	if model == nil {
		return h.record("saving:new")
	}
	return h.record("saving:" + model.ID)
}

func (h *recorder) Creating(ctx context.Context, in *store.Input, q *query.ResourceQuery) error {
	in.Attributes["body"] = strings.ToUpper(in.Attributes["body"].(string))
	return h.record("creating")
}

func (h *recorder) Updating(ctx context.Context, model *resources.Model, in *store.Input, q *query.ResourceQuery) error {
	return h.record("updating")
}

func (h *recorder) Created(ctx context.Context, model *resources.Model, q *query.ResourceQuery) (api2go.Responder, error) {
	if h.onCreated != nil {
		if err := h.onCreated(ctx, model); err != nil {
			return nil, err
		}
	}
	return h.respond["created"], h.record("created")
}

func (h *recorder) Updated(ctx context.Context, model *resources.Model, q *query.ResourceQuery) (api2go.Responder, error) {
	return h.respond["updated"], h.record("updated")
}

func (h *recorder) Saved(ctx context.Context, model *resources.Model, q *query.ResourceQuery) (api2go.Responder, error) {
	return h.respond["saved"], h.record("saved")
}

func (h *recorder) Deleting(ctx context.Context, model *resources.Model) error {
	return h.record("deleting")
}

func (h *recorder) Deleted(ctx context.Context, model *resources.Model) (api2go.Responder, error) {
	return h.respond["deleted"], h.record("deleted")
}

type notebookServer struct {
	*server.Base
	hooks *recorder
}

func (s *notebookServer) HooksFor(resourceType string) any {
	if resourceType == "notes" {
		return s.hooks
	}
	return nil
}

func notebookSchemas() []schema.Schema {
	return []schema.Schema{
		{
			Type: "notes",
			Fields: []schema.Field{
				schema.ID(),
				schema.Str("body").WithSortable().WithRules("required"),
				schema.BelongsTo("notebook", "notebooks"),
			},
			Filters:    []schema.Filter{schema.WhereIDIn()},
			Pagination: &schema.PagePagination{NumberKey: "number", SizeKey: "size"},
		},
		{
			Type: "notebooks",
			Fields: []schema.Field{
				schema.ID(),
				schema.Str("title"),
				schema.HasMany("notes", "notes", "notebook_id"),
			},
		},
	}
}

type actionsFixture struct {
	router   http.Handler
	store    *store.Store
	hooks    *recorder
	notebook string
	notes    []string
}

func newActionsFixture(t *testing.T) *actionsFixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	app := &server.App{DB: db, BaseURL: "http://localhost/api"}

	f := &actionsFixture{hooks: &recorder{fail: map[string]error{}, respond: map[string]api2go.Responder{}}}

	registry := server.NewRegistry()
	require.NoError(t, registry.Register("notebook", func(app *server.App, name string) (any, error) {
		base, err := server.NewBase(app, name, notebookSchemas)
		if err != nil {
			return nil, err
		}
		return &notebookServer{Base: base, hooks: f.hooks}, nil
	}))
	repo := server.NewRepository(app, registry, map[string]string{"v1": "notebook"})

	srv, err := repo.Server("v1")
	require.NoError(t, err)
	c, err := srv.Container()
	require.NoError(t, err)
	require.NoError(t, store.EnsureTables(ctx, db, "v1", c, nil))
	f.store, err = srv.Store()
	require.NoError(t, err)

	nb, err := f.store.Create("notebooks").Store(ctx, store.Input{Attributes: map[string]any{"title": "Ideas"}})
	require.NoError(t, err)
	f.notebook = nb.ID
	for _, body := range []string{"first", "second", "third"} {
		m, err := f.store.Create("notes").Store(ctx, store.Input{
			Attributes:    map[string]any{"body": body},
			Relationships: map[string][]string{"notebook": {nb.ID}},
		})
		require.NoError(t, err)
		f.notes = append(f.notes, m.ID)
	}

	bindings := container.New()
	server.RegisterBindings(bindings)
	ctrl := New(nil)

	root := mux.NewRouter()
	root.Use(mux.MiddlewareFunc(middleware.Scoped(bindings)))
	sub := root.PathPrefix("/api/v1").Subrouter()
	sub.Use(middleware.Boot(repo, "v1", nil))
	sub.HandleFunc("/{type}", ctrl.FetchMany).Methods(http.MethodGet)
	sub.HandleFunc("/{type}", ctrl.Store).Methods(http.MethodPost)
	sub.HandleFunc("/{type}/{id}", ctrl.FetchOne).Methods(http.MethodGet)
	sub.HandleFunc("/{type}/{id}", ctrl.Update).Methods(http.MethodPatch)
	sub.HandleFunc("/{type}/{id}", ctrl.Destroy).Methods(http.MethodDelete)
	sub.HandleFunc("/{type}/{id}/relationships/{relationship}", ctrl.FetchRelationship).Methods(http.MethodGet)
	sub.HandleFunc("/{type}/{id}/{relationship}", ctrl.FetchRelated).Methods(http.MethodGet)
	f.router = root
	return f
}

func (f *actionsFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", mediaType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), rec.Body.String())
	return doc
}

func firstError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	errs, ok := decodeBody(t, rec)["errors"].([]any)
	require.True(t, ok, rec.Body.String())
	require.NotEmpty(t, errs)
	return errs[0].(map[string]any)
}

// =============================================================================
// Fetch Tests
// =============================================================================

func TestFetchMany_SortedDescending(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/notes?sort=-body", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bodies []string
	for _, item := range decodeBody(t, rec)["data"].([]any) {
		bodies = append(bodies, item.(map[string]any)["attributes"].(map[string]any)["body"].(string))
	}
	assert.Equal(t, []string{"third", "second", "first"}, bodies)
}

func TestFetchMany_InvalidPage(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/notes?page%5Bnumber%5D=0", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchOne_RejectsSort(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/notes/"+f.notes[0]+"?sort=body", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchRelated_ToManyPaginates(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/notebooks/"+f.notebook+"/notes?page%5Bnumber%5D=2&page%5Bsize%5D=2", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decodeBody(t, rec)
	data := doc["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, f.notes[2], data[0].(map[string]any)["id"])
	assert.Equal(t, float64(3), doc["meta"].(map[string]any)["total"])
}

func TestFetchRelated_ToOne(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/notes/"+f.notes[0]+"/notebook", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "notebooks", data["type"])
	assert.Equal(t, f.notebook, data["id"])
}

func TestFetchRelationship_ToOne(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/notes/"+f.notes[0]+"/relationships/notebook", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]any{"type": "notebooks", "id": f.notebook}, decodeBody(t, rec)["data"])
}

// =============================================================================
// Hook Tests
// =============================================================================

func TestStore_HookOrder(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/notes", `{"data":{"type":"notes","attributes":{"body":"fourth"}}}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"saving:new", "creating", "created", "saved"}, f.hooks.events)

	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "FOURTH", data["attributes"].(map[string]any)["body"])
	assert.Equal(t, "http://localhost/api/v1/notes/"+data["id"].(string), rec.Header().Get("Location"))
}

func TestStore_CreatedResponseWins(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.respond["created"] = respond.OK(map[string]any{"meta": map[string]any{"queued": true}})

	rec := f.do(http.MethodPost, "/api/v1/notes", `{"data":{"type":"notes","attributes":{"body":"fourth"}}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]any{"queued": true}, decodeBody(t, rec)["meta"])
	assert.Equal(t, []string{"saving:new", "creating", "created"}, f.hooks.events)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestStore_HookErrorAborts(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.fail["creating"] = respond.NewError(http.StatusForbidden, "Forbidden", "Notes are read only.")

	rec := f.do(http.MethodPost, "/api/v1/notes", `{"data":{"type":"notes","attributes":{"body":"fourth"}}}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Notes are read only.", firstError(t, rec)["detail"])

	res, err := f.store.QueryAll("notes").Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Models, 3)
}

func TestStore_CreatedErrorRollsBack(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.fail["created"] = respond.NewError(http.StatusConflict, "Conflict", "Duplicate note.")

	rec := f.do(http.MethodPost, "/api/v1/notes", `{"data":{"type":"notes","attributes":{"body":"fourth"}}}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	res, err := f.store.QueryAll("notes").Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Models, 3)
}

func TestStore_HooksSeeTheTransaction(t *testing.T) {
	f := newActionsFixture(t)
	var seen bool
	f.hooks.onCreated = func(ctx context.Context, model *resources.Model) error {
		scope, ok := container.FromContext(ctx)
		require.True(t, ok)
		st, err := container.Resolve[*store.Store](scope, container.StoreKey)
		require.NoError(t, err)
		_, err = st.QueryOne("notes", model.ID).First(ctx)
		seen = err == nil
		return err
	}

	rec := f.do(http.MethodPost, "/api/v1/notes", `{"data":{"type":"notes","attributes":{"body":"fourth"}}}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, seen)
}

func TestStore_RelationshipTypeMismatch(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/notes",
		`{"data":{"type":"notes","attributes":{"body":"x"},"relationships":{"notebook":{"data":{"type":"notes","id":"1"}}}}}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	source := firstError(t, rec)["source"].(map[string]any)
	assert.Equal(t, "/data/relationships/notebook", source["pointer"])
	assert.Empty(t, f.hooks.events)
}

func TestUpdate_HookOrder(t *testing.T) {
	f := newActionsFixture(t)
	id := f.notes[1]

	rec := f.do(http.MethodPatch, "/api/v1/notes/"+id, `{"data":{"type":"notes","id":"`+id+`","attributes":{"body":"changed"}}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"saving:" + id, "updating", "updated", "saved"}, f.hooks.events)
	assert.Equal(t, "changed", decodeBody(t, rec)["data"].(map[string]any)["attributes"].(map[string]any)["body"])
}

func TestUpdate_SavedResponse(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.respond["saved"] = respond.NoContent()
	id := f.notes[1]

	rec := f.do(http.MethodPatch, "/api/v1/notes/"+id, `{"data":{"type":"notes","id":"`+id+`","attributes":{"body":"changed"}}}`)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestUpdate_ClearsToOne(t *testing.T) {
	f := newActionsFixture(t)
	id := f.notes[0]

	rec := f.do(http.MethodPatch, "/api/v1/notes/"+id+"?include=notebook",
		`{"data":{"type":"notes","id":"`+id+`","relationships":{"notebook":{"data":null}}}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m, err := f.store.QueryOne("notes", id).First(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.Model.String("notebook"))
}

func TestUpdate_UpdatedErrorRollsBack(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.fail["updated"] = errors.New("audit log unavailable")
	id := f.notes[1]

	rec := f.do(http.MethodPatch, "/api/v1/notes/"+id, `{"data":{"type":"notes","id":"`+id+`","attributes":{"body":"changed"}}}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	res, err := f.store.QueryOne("notes", id).First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", res.Model.String("body"))
}

func TestUpdate_UnknownModel(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodPatch, "/api/v1/notes/999", `{"data":{"type":"notes","id":"999"}}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.hooks.events)
}

func TestDestroy_HookOrder(t *testing.T) {
	f := newActionsFixture(t)

	rec := f.do(http.MethodDelete, "/api/v1/notes/"+f.notes[0], "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"deleting", "deleted"}, f.hooks.events)
}

func TestDestroy_DeletedResponse(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.respond["deleted"] = respond.OK(map[string]any{"meta": map[string]any{"archived": true}})

	rec := f.do(http.MethodDelete, "/api/v1/notes/"+f.notes[0], "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"archived": true}, decodeBody(t, rec)["meta"])
}

func TestDestroy_DeletingErrorKeepsModel(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.fail["deleting"] = errors.New("locked")

	rec := f.do(http.MethodDelete, "/api/v1/notes/"+f.notes[0], "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	_, err := f.store.QueryOne("notes", f.notes[0]).First(context.Background())
	assert.NoError(t, err)
}

func TestDestroy_DeletedErrorRollsBack(t *testing.T) {
	f := newActionsFixture(t)
	f.hooks.fail["deleted"] = errors.New("audit log unavailable")

	rec := f.do(http.MethodDelete, "/api/v1/notes/"+f.notes[0], "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"deleting", "deleted"}, f.hooks.events)
	_, err := f.store.QueryOne("notes", f.notes[0]).First(context.Background())
	assert.NoError(t, err)
}

// =============================================================================
// Decode Tests
// =============================================================================

func TestDecode(t *testing.T) {
	sch, err := schema.NewContainer(notebookSchemas()...)
	require.NoError(t, err)
	notes, err := sch.SchemaFor("notes")
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		id      string
		status  int
		pointer string
	}{
		{name: "not json", body: `{`, status: http.StatusBadRequest},
		{name: "no data", body: `{"meta":{}}`, status: http.StatusBadRequest, pointer: "/data"},
		{name: "no type", body: `{"data":{"attributes":{}}}`, status: http.StatusBadRequest, pointer: "/data/type"},
		{name: "wrong type", body: `{"data":{"type":"notebooks"}}`, status: http.StatusConflict, pointer: "/data/type"},
		{name: "missing id", body: `{"data":{"type":"notes"}}`, id: "1", status: http.StatusBadRequest, pointer: "/data/id"},
		{name: "other id", body: `{"data":{"type":"notes","id":"2"}}`, id: "1", status: http.StatusConflict, pointer: "/data/id"},
		{name: "attributes array", body: `{"data":{"type":"notes","attributes":[1]}}`, status: http.StatusBadRequest, pointer: "/data/attributes"},
		{
			name:    "relationship without data",
			body:    `{"data":{"type":"notes","relationships":{"notebook":{"links":{"self":"/x"}}}}}`,
			status:  http.StatusBadRequest,
			pointer: "/data/relationships/notebook",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			_, err := decode(httptest.NewRecorder(), r, notes, tt.id)
			require.Error(t, err)

			httpErr := respond.ToHTTPError(err)
			require.Len(t, httpErr.Errors, 1)
			assert.Equal(t, tt.status, respondStatus(httpErr))
			if tt.pointer == "" {
				assert.Nil(t, httpErr.Errors[0].Source)
			} else {
				require.NotNil(t, httpErr.Errors[0].Source)
				assert.Equal(t, tt.pointer, httpErr.Errors[0].Source.Pointer)
			}
		})
	}
}

func TestDecode_Valid(t *testing.T) {
	sch, err := schema.NewContainer(notebookSchemas()...)
	require.NoError(t, err)
	notes, err := sch.SchemaFor("notes")
	require.NoError(t, err)

	body := `{"data":{"type":"notes","id":"1","attributes":{"body":"x"},"relationships":{"notebook":{"data":{"type":"notebooks","id":"7"}}}}}`
	in, err := decode(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body)), notes, "1")

	require.NoError(t, err)
	assert.Equal(t, "1", in.ID)
	assert.Equal(t, map[string]any{"body": "x"}, in.Attributes)
	assert.Equal(t, map[string][]string{"notebook": {"7"}}, in.Relationships)

	body = `{"data":{"type":"notes","id":"1","relationships":{"notebook":{"data":null}}}}`
	in, err = decode(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body)), notes, "1")

	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"notebook": {}}, in.Relationships)
}

func respondStatus(err api2go.HTTPError) int {
	rec := httptest.NewRecorder()
	respond.Error(rec, err, nil)
	return rec.Code
}
