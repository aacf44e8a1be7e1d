package openapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/artpar/jsonapi-server/internal/core/schema"
)

func testContainer(t *testing.T) *schema.Container {
	t.Helper()
	c, err := schema.NewContainer(
		schema.Schema{
			Type: "posts",
			Fields: []schema.Field{
				schema.ID(),
				schema.Str("title").WithSortable().WithRules("required,max=255"),
				schema.Number("views").WithReadOnly(),
				schema.Str("secret").WithHidden(),
				schema.BelongsTo("author", "users"),
				schema.HasMany("comments", "comments", "post_id"),
			},
			Filters:    []schema.Filter{schema.WhereIDIn(), schema.Where("title")},
			Pagination: &schema.PagePagination{NumberKey: "number", SizeKey: "size"},
		},
		schema.Schema{
			Type:   "users",
			Fields: []schema.Field{schema.ID(), schema.Str("name"), schema.Hashed("password")},
		},
		schema.Schema{
			Type:   "comments",
			Fields: []schema.Field{schema.ID(), schema.Str("content"), schema.BelongsTo("post", "posts")},
		},
	)
	require.NoError(t, err)
	return c
}

func generate(t *testing.T) map[string]any {
	t.Helper()
	spec, err := NewGenerator(WithTitle("Blog")).Generate("v1", "http://localhost/api/v1", testContainer(t))
	require.NoError(t, err)

	raw, err := JSON(spec)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func dig(t *testing.T, v any, path ...string) any {
	t.Helper()
	for _, key := range path {
		m, ok := v.(map[string]any)
		require.True(t, ok, "expected object at %q", key)
		v, ok = m[key]
		require.True(t, ok, "missing key %q", key)
	}
	return v
}

// =============================================================================
// Generator Tests
// =============================================================================

func TestGenerate_Info(t *testing.T) {
	doc := generate(t)

	assert.Equal(t, "3.0.3", doc["openapi"])
	assert.Equal(t, "Blog (v1)", dig(t, doc, "info", "title"))
	servers := doc["servers"].([]any)
	require.Len(t, servers, 1)
	assert.Equal(t, "http://localhost/api/v1", dig(t, servers[0], "url"))
}

func TestGenerate_Paths(t *testing.T) {
	paths := dig(t, generate(t), "paths").(map[string]any)

	for _, p := range []string{
		"/posts",
		"/posts/{id}",
		"/posts/{id}/author",
		"/posts/{id}/relationships/author",
		"/posts/{id}/comments",
		"/posts/{id}/relationships/comments",
		"/users",
		"/users/{id}",
		"/comments/{id}/post",
	} {
		assert.Contains(t, paths, p)
	}

	assert.Contains(t, paths["/posts"], "get")
	assert.Contains(t, paths["/posts"], "post")
	for _, method := range []string{"get", "patch", "delete"} {
		assert.Contains(t, paths["/posts/{id}"], method)
	}
	assert.Contains(t, dig(t, paths, "/posts", "post", "responses"), "201")
	assert.Contains(t, dig(t, paths, "/posts/{id}", "delete", "responses"), "204")
}

func TestGenerate_ListParameters(t *testing.T) {
	params := dig(t, generate(t), "paths", "/posts", "get", "parameters").([]any)

	var names []string
	for _, p := range params {
		names = append(names, dig(t, p, "name").(string))
	}
	assert.ElementsMatch(t, []string{
		"include", "sort", "fields[posts]",
		"filter[id]", "filter[title]",
		"page[number]", "page[size]",
	}, names)
}

func TestGenerate_Attributes(t *testing.T) {
	doc := generate(t)

	props := dig(t, doc, "components", "schemas", "PostsAttributes", "properties").(map[string]any)
	assert.Contains(t, props, "title")
	assert.NotContains(t, props, "secret")
	assert.Equal(t, true, dig(t, props, "views", "readOnly"))
	assert.Equal(t, []any{"title"}, dig(t, doc, "components", "schemas", "PostsAttributes", "required"))

	password := dig(t, doc, "components", "schemas", "UsersAttributes", "properties", "password")
	assert.Equal(t, true, dig(t, password, "writeOnly"))
}

func TestGenerate_Relationships(t *testing.T) {
	rels := dig(t, generate(t), "components", "schemas", "PostsRelationships", "properties")

	assert.Equal(t, "array", firstType(t, dig(t, rels, "comments", "properties", "data", "type")))
	assert.Equal(t, true, dig(t, rels, "comments", "readOnly"))
	assert.Equal(t, true, dig(t, rels, "author", "properties", "data", "nullable"))
}

func firstType(t *testing.T, v any) string {
	t.Helper()
	switch tv := v.(type) {
	case string:
		return tv
	case []any:
		require.NotEmpty(t, tv)
		return tv[0].(string)
	}
	t.Fatalf("unexpected type value %v", v)
	return ""
}

func TestGenerate_Cached(t *testing.T) {
	g := NewGenerator()
	c := testContainer(t)

	a, err := g.Generate("v1", "http://a", c)
	require.NoError(t, err)
	b, err := g.Generate("v1", "http://b", c)
	require.NoError(t, err)
	other, err := g.Generate("v2", "http://a", c)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
}

func TestYAML(t *testing.T) {
	spec, err := NewGenerator().Generate("v1", "http://localhost/api/v1", testContainer(t))
	require.NoError(t, err)

	out, err := YAML(spec)
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "\nopenapi: 3.0.3\n")
	assert.NotContains(t, text, "{\"")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Contains(t, doc["paths"], "/posts")
}

func TestComponentName(t *testing.T) {
	assert.Equal(t, "Posts", componentName("posts"))
	assert.Equal(t, "BlogPosts", componentName("blog-posts"))
	assert.Equal(t, "BlogPosts", componentName("blogPosts"))
	assert.Equal(t, "UserRoles", componentName("user_roles"))
}
