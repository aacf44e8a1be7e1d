package server

import (
	"context"

	"github.com/manyminds/api2go"

	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// =============================================================================
// Write Hooks
// =============================================================================

// HookProvider is implemented by servers that take part in writes. It
// returns the hooks of one resource type, or nil. The value may
// implement any of the hook interfaces below; the others are skipped.
type HookProvider interface {
	HooksFor(resourceType string) any
}

// Hooks returns the hooks srv provides for resourceType, or nil.
func Hooks(srv Server, resourceType string) any {
	if p, ok := srv.(HookProvider); ok {
		return p.HooksFor(resourceType)
	}
	return nil
}

// SavingHook runs before a create or an update. model is nil when
// creating. Changes to in are written.
type SavingHook interface {
	Saving(ctx context.Context, model *resources.Model, in *store.Input, q *query.ResourceQuery) error
}

// CreatingHook runs before a create, after SavingHook.
type CreatingHook interface {
	Creating(ctx context.Context, in *store.Input, q *query.ResourceQuery) error
}

// UpdatingHook runs before an update, after SavingHook.
type UpdatingHook interface {
	Updating(ctx context.Context, model *resources.Model, in *store.Input, q *query.ResourceQuery) error
}

// The after-write hooks may replace the response. A nil Responder keeps
// the default one.

type CreatedHook interface {
	Created(ctx context.Context, model *resources.Model, q *query.ResourceQuery) (api2go.Responder, error)
}

type UpdatedHook interface {
	Updated(ctx context.Context, model *resources.Model, q *query.ResourceQuery) (api2go.Responder, error)
}

// SavedHook runs after a create or an update when CreatedHook or
// UpdatedHook gave no response.
type SavedHook interface {
	Saved(ctx context.Context, model *resources.Model, q *query.ResourceQuery) (api2go.Responder, error)
}

// =============================================================================
// Delete Hooks
// =============================================================================

type DeletingHook interface {
	Deleting(ctx context.Context, model *resources.Model) error
}

type DeletedHook interface {
	Deleted(ctx context.Context, model *resources.Model) (api2go.Responder, error)
}
