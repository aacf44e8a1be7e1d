package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/manyminds/api2go"
	"github.com/manyminds/api2go/jsonapi"

	"github.com/artpar/jsonapi-server/internal/container"
	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// maxBodySize bounds request documents.
const maxBodySize = 1 << 20

// =============================================================================
// Store
// =============================================================================

// Store handles POST /{type}. Hooks run in the order Saving, Creating,
// then the write, then Created or else Saved, all in one transaction; an
// error from any of them rolls the write back. The first hook that
// returns a response replaces the default 201 document.
func (c *Controller) Store(w http.ResponseWriter, r *http.Request) {
	s, err := resolve(r)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	ctx := r.Context()

	q, err := c.writeQuery(r, s)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	in, err := decode(w, r, s.schema, "")
	if err != nil {
		c.write(w, nil, err)
		return
	}

	hooks := s.hooks()
	var (
		model *resources.Model
		resp  api2go.Responder
	)
	err = s.transaction(ctx, func(tx *store.Store) error {
		if h, ok := hooks.(server.SavingHook); ok {
			if err := h.Saving(ctx, nil, &in, q); err != nil {
				return err
			}
		}
		if h, ok := hooks.(server.CreatingHook); ok {
			if err := h.Creating(ctx, &in, q); err != nil {
				return err
			}
		}

		var err error
		if model, err = tx.Create(s.schema.Type).Store(ctx, in); err != nil {
			return err
		}

		if h, ok := hooks.(server.CreatedHook); ok {
			if resp, err = h.Created(ctx, model, q); err != nil {
				return err
			}
		}
		if resp == nil {
			resp, err = saved(ctx, hooks, model, q)
		}
		return err
	})
	if err != nil {
		c.write(w, nil, err)
		return
	}
	c.logger.Debug("resource created", "type", model.Type, "id", model.ID)

	if resp == nil {
		doc, err := s.document(ctx, model, q)
		if err != nil {
			c.write(w, nil, err)
			return
		}
		w.Header().Set("Location", s.encoder.SelfURL(model.Type, model.ID))
		resp = respond.Created(doc)
	}
	c.write(w, resp, nil)
}

// =============================================================================
// Update
// =============================================================================

// Update handles PATCH /{type}/{id}. Hooks run in the order Saving,
// Updating, then the write, then Updated or else Saved.
func (c *Controller) Update(w http.ResponseWriter, r *http.Request) {
	s, err := resolve(r)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	ctx := r.Context()

	current, err := s.route.Model()
	if err != nil {
		c.write(w, nil, err)
		return
	}
	q, err := c.writeQuery(r, s)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	in, err := decode(w, r, s.schema, current.ID)
	if err != nil {
		c.write(w, nil, err)
		return
	}

	hooks := s.hooks()
	var (
		model *resources.Model
		resp  api2go.Responder
	)
	err = s.transaction(ctx, func(tx *store.Store) error {
		if h, ok := hooks.(server.SavingHook); ok {
			if err := h.Saving(ctx, current, &in, q); err != nil {
				return err
			}
		}
		if h, ok := hooks.(server.UpdatingHook); ok {
			if err := h.Updating(ctx, current, &in, q); err != nil {
				return err
			}
		}

		var err error
		if model, err = tx.Update(s.schema.Type, current.ID).Store(ctx, in); err != nil {
			return err
		}

		if h, ok := hooks.(server.UpdatedHook); ok {
			if resp, err = h.Updated(ctx, model, q); err != nil {
				return err
			}
		}
		if resp == nil {
			resp, err = saved(ctx, hooks, model, q)
		}
		return err
	})
	if err != nil {
		c.write(w, nil, err)
		return
	}

	if resp == nil {
		doc, err := s.document(ctx, model, q)
		if err != nil {
			c.write(w, nil, err)
			return
		}
		resp = respond.OK(doc)
	}
	c.write(w, resp, nil)
}

// =============================================================================
// Destroy
// =============================================================================

// Destroy handles DELETE /{type}/{id}. The response is 204 unless a
// Deleted hook returns one.
func (c *Controller) Destroy(w http.ResponseWriter, r *http.Request) {
	s, err := resolve(r)
	if err != nil {
		c.write(w, nil, err)
		return
	}
	ctx := r.Context()

	model, err := s.route.Model()
	if err != nil {
		c.write(w, nil, err)
		return
	}

	hooks := s.hooks()
	var resp api2go.Responder = respond.NoContent()
	err = s.transaction(ctx, func(tx *store.Store) error {
		if h, ok := hooks.(server.DeletingHook); ok {
			if err := h.Deleting(ctx, model); err != nil {
				return err
			}
		}

		if err := tx.Delete(ctx, model.Type, model.ID); err != nil {
			return err
		}

		if h, ok := hooks.(server.DeletedHook); ok {
			custom, err := h.Deleted(ctx, model)
			if err != nil {
				return err
			}
			if custom != nil {
				resp = custom
			}
		}
		return nil
	})
	if err != nil {
		c.write(w, nil, err)
		return
	}
	c.logger.Debug("resource deleted", "type", model.Type, "id", model.ID)

	c.write(w, resp, nil)
}

// =============================================================================
// Helpers
// =============================================================================

// transaction runs fn in a database transaction. The transaction's store
// replaces the request store while fn runs, so hooks resolving the store
// write through the same transaction.
func (s *services) transaction(ctx context.Context, fn func(tx *store.Store) error) error {
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		s.scope.Instance(container.StoreKey, tx)
		defer s.scope.Forget(container.StoreKey)
		return fn(tx)
	})
}

func saved(ctx context.Context, hooks any, model *resources.Model, q *query.ResourceQuery) (api2go.Responder, error) {
	if h, ok := hooks.(server.SavedHook); ok {
		return h.Saved(ctx, model, q)
	}
	return nil, nil
}

// writeQuery validates the query parameters of a write: includes and
// sparse fieldsets shape the response document.
func (c *Controller) writeQuery(r *http.Request, s *services) (*query.ResourceQuery, error) {
	rules, err := s.schemas.Rules(s.schema.Type)
	if err != nil {
		return nil, err
	}
	rules.Filters = nil
	return query.QueryOne(r.URL.Query(), rules)
}

// document renders a written model. Requested includes are loaded
// through the scoped store; when a scope hides the model the document is
// rendered without them.
func (s *services) document(ctx context.Context, model *resources.Model, q *query.ResourceQuery) (any, error) {
	opts := s.options(q, nil)
	if len(q.IncludePaths) > 0 {
		res, err := s.store.QueryOne(model.Type, model.ID).Using(q).First(ctx)
		switch {
		case err == nil:
			model, opts.Included = res.Model, res.Included
		case !isNotFound(err):
			return nil, err
		}
	}
	return s.encoder.One(model, opts)
}

// =============================================================================
// Request Documents
// =============================================================================

func documentError(status int, title, detail, pointer string) error {
	err := respond.NewError(status, title, detail)
	if pointer != "" {
		err.Errors[0].Source = &api2go.ErrorSource{Pointer: pointer}
	}
	return err
}

// decode reads the resource object of a write request for sch. id is
// the resource being updated, or empty when creating.
func decode(w http.ResponseWriter, r *http.Request, sch *schema.Schema, id string) (store.Input, error) {
	invalid := documentError(http.StatusBadRequest, "Bad Request", "The request body is not a valid JSON:API document.", "")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return store.Input{}, invalid
	}
	var doc jsonapi.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return store.Input{}, invalid
	}
	if doc.Data == nil || doc.Data.DataObject == nil {
		return store.Input{}, documentError(http.StatusBadRequest, "Bad Request",
			"The request document must contain a resource object.", "/data")
	}

	data := doc.Data.DataObject
	switch {
	case data.Type == "":
		return store.Input{}, documentError(http.StatusBadRequest, "Bad Request", "The type member is required.", "/data/type")
	case data.Type != sch.Type:
		return store.Input{}, documentError(http.StatusConflict, "Conflict",
			fmt.Sprintf("Resource type %s is not supported by this endpoint.", data.Type), "/data/type")
	}
	if id != "" {
		switch {
		case data.ID == "":
			return store.Input{}, documentError(http.StatusBadRequest, "Bad Request", "The id member is required.", "/data/id")
		case data.ID != id:
			return store.Input{}, documentError(http.StatusConflict, "Conflict",
				fmt.Sprintf("Resource id %s does not match the endpoint id %s.", data.ID, id), "/data/id")
		}
	}

	in := store.Input{ID: data.ID}
	if len(data.Attributes) > 0 {
		if err := json.Unmarshal(data.Attributes, &in.Attributes); err != nil {
			return store.Input{}, documentError(http.StatusBadRequest, "Bad Request",
				"The attributes member must be an object.", "/data/attributes")
		}
	}

	// api2go decodes a missing data member and "data": null alike.
	var members struct {
		Data struct {
			Relationships map[string]map[string]json.RawMessage `json:"relationships"`
		} `json:"data"`
	}
	if len(data.Relationships) > 0 {
		if err := json.Unmarshal(body, &members); err != nil {
			return store.Input{}, invalid
		}
	}

	for name, rel := range data.Relationships {
		if _, ok := members.Data.Relationships[name]["data"]; !ok {
			return store.Input{}, documentError(http.StatusBadRequest, "Bad Request",
				fmt.Sprintf("The %s relationship must contain a data member.", name), "/data/relationships/"+name)
		}
		if in.Relationships == nil {
			in.Relationships = make(map[string][]string, len(data.Relationships))
		}
		ids, err := linkage(sch, name, rel)
		if err != nil {
			return store.Input{}, err
		}
		in.Relationships[name] = ids
	}
	return in, nil
}

// linkage returns the related ids of a relationship object. "data": null
// gives no ids, clearing a to-one relationship.
func linkage(sch *schema.Schema, name string, rel jsonapi.Relationship) ([]string, error) {
	if rel.Data == nil {
		return []string{}, nil
	}

	identifiers := rel.Data.DataArray
	if rel.Data.DataObject != nil {
		identifiers = []jsonapi.RelationshipData{*rel.Data.DataObject}
	}

	field, known := sch.Relation(name)
	ids := make([]string, 0, len(identifiers))
	for _, ident := range identifiers {
		if known && ident.Type != field.Related {
			return nil, documentError(http.StatusUnprocessableEntity, "Unprocessable Entity",
				fmt.Sprintf("The %s relationship must reference %s resources.", name, field.Related),
				"/data/relationships/"+name)
		}
		ids = append(ids, ident.ID)
	}
	return ids, nil
}
