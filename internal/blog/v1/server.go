// Package v1 is the blog JSON:API server: users writing posts that other
// users comment on. Posts are drafts until published; a draft is only
// visible to its author.
package v1

import (
	"context"

	"github.com/artpar/jsonapi-server/internal/core/auth"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// Identifier is the implementation name servers are configured with.
const Identifier = "blog.v1"

// Server serves the blog resources.
type Server struct {
	*server.Base
	hooks map[string]any
}

// New constructs the server. It is the registry factory for Identifier.
func New(app *server.App, name string) (any, error) {
	base, err := server.NewBase(app, name, Schemas)
	if err != nil {
		return nil, err
	}
	return &Server{
		Base: base,
		hooks: map[string]any{
			"posts":    postHooks{},
			"comments": commentHooks{},
		},
	}, nil
}

// Register adds the server to registry.
func Register(registry *server.Registry) error {
	return registry.Register(Identifier, New)
}

// Serving hides drafts from everyone but their author.
func (s *Server) Serving(ctx context.Context) error {
	caller := auth.FromContext(ctx)
	if caller.Authenticated && caller.UserID != "" {
		s.AddScope("posts", store.Scope{Where: "published_at IS NOT NULL OR author_id = ?", Args: []any{caller.UserID}})
		return nil
	}
	s.AddScope("posts", store.Scope{Where: "published_at IS NOT NULL"})
	return nil
}

func (s *Server) HooksFor(resourceType string) any { return s.hooks[resourceType] }

// =============================================================================
// Schemas
// =============================================================================

// Schemas returns the blog resource schemas.
func Schemas() []schema.Schema {
	userPages := schema.NewPagePagination()

	return []schema.Schema{
		{
			Type:   "users",
			IDKind: schema.IDUUID,
			Fields: []schema.Field{
				schema.ID(),
				schema.DateTime("createdAt").WithReadOnly().WithSortable(),
				schema.Str("name").WithSortable().WithRules("required,max=255"),
				schema.Str("email").WithUnique().WithRules("required,email"),
				schema.Hashed("password").WithRules("required,min=8"),
				schema.DateTime("updatedAt").WithReadOnly().WithSortable(),
			},
			Filters: []schema.Filter{
				schema.WhereIDIn(),
				schema.Where("email").WithSingular(),
			},
			Pagination: &userPages,
			Timestamps: true,
		},
		{
			Type: "posts",
			Fields: []schema.Field{
				schema.ID(),
				schema.DateTime("createdAt").WithReadOnly().WithSortable(),
				schema.Str("title").WithSortable().WithRules("required,max=255"),
				schema.Str("slug").WithUnique().WithRules("required,max=255"),
				schema.Str("content").WithRules("required"),
				schema.DateTime("publishedAt").WithSortable(),
				schema.BelongsTo("author", "users"),
				schema.HasMany("comments", "comments", "post_id"),
				schema.DateTime("updatedAt").WithReadOnly().WithSortable(),
			},
			Filters: []schema.Filter{
				schema.WhereIDIn(),
				schema.Where("slug").WithSingular(),
			},
			Pagination: &schema.PagePagination{NumberKey: "number", SizeKey: "size", MaxSize: 250},
			Timestamps: true,
		},
		{
			Type: "comments",
			Fields: []schema.Field{
				schema.ID(),
				schema.DateTime("createdAt").WithReadOnly().WithSortable(),
				schema.Str("content").WithRules("required"),
				schema.BelongsTo("post", "posts"),
				schema.BelongsTo("user", "users"),
				schema.DateTime("updatedAt").WithReadOnly().WithSortable(),
			},
			Filters:    []schema.Filter{schema.WhereIDIn()},
			Timestamps: true,
		},
	}
}
