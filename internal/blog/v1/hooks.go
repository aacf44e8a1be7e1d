package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/manyminds/api2go"

	"github.com/artpar/jsonapi-server/internal/core/auth"
	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

func httpError(status int, title, detail string) api2go.HTTPError {
	err := api2go.NewHTTPError(errors.New(detail), title, status)
	err.Errors = []api2go.Error{{Status: strconv.Itoa(status), Title: title, Detail: detail}}
	return err
}

// requireUser returns the authenticated caller or a 401 error.
func requireUser(ctx context.Context) (auth.Context, error) {
	caller := auth.FromContext(ctx)
	if ok, reason := auth.RequireAuthentication(caller); !ok {
		return caller, httpError(http.StatusUnauthorized, "Unauthorized", reason)
	}
	return caller, nil
}

// requireOwner allows changes to a resource only by the user in
// ownerField.
func requireOwner(ctx context.Context, model *resources.Model, ownerField, noun string) error {
	caller, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if !auth.CanModify(caller, model.String(ownerField)) {
		return httpError(http.StatusForbidden, "Forbidden", "Only the author may change this "+noun+".")
	}
	return nil
}

// =============================================================================
// Posts
// =============================================================================

type postHooks struct{}

// Creating makes the caller the author, whatever the document says, and
// derives a missing slug from the title.
func (postHooks) Creating(ctx context.Context, in *store.Input, q *query.ResourceQuery) error {
	caller, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if slug, _ := in.Attributes["slug"].(string); slug == "" {
		if title, ok := in.Attributes["title"].(string); ok {
			in.Attributes["slug"] = Slugify(title)
		}
	}
	if in.Relationships == nil {
		in.Relationships = make(map[string][]string)
	}
	in.Relationships["author"] = []string{caller.UserID}
	return nil
}

// Updating keeps the author.
func (postHooks) Updating(ctx context.Context, model *resources.Model, in *store.Input, q *query.ResourceQuery) error {
	if err := requireOwner(ctx, model, "author", "post"); err != nil {
		return err
	}
	delete(in.Relationships, "author")
	return nil
}

func (postHooks) Deleting(ctx context.Context, model *resources.Model) error {
	return requireOwner(ctx, model, "author", "post")
}

// =============================================================================
// Comments
// =============================================================================

type commentHooks struct{}

func (commentHooks) Creating(ctx context.Context, in *store.Input, q *query.ResourceQuery) error {
	caller, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if in.Relationships == nil {
		in.Relationships = make(map[string][]string)
	}
	in.Relationships["user"] = []string{caller.UserID}
	return nil
}

func (commentHooks) Updating(ctx context.Context, model *resources.Model, in *store.Input, q *query.ResourceQuery) error {
	if err := requireOwner(ctx, model, "user", "comment"); err != nil {
		return err
	}
	delete(in.Relationships, "user")
	delete(in.Relationships, "post")
	return nil
}

func (commentHooks) Deleting(ctx context.Context, model *resources.Model) error {
	return requireOwner(ctx, model, "user", "comment")
}
