// Package openapi generates OpenAPI 3.0 documents from resource schemas.
package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/artpar/jsonapi-server/internal/core/schema"
)

const mediaType = "application/vnd.api+json"

// =============================================================================
// Generator
// =============================================================================

// Generator produces one OpenAPI document per JSON:API server. Documents
// are cached by server name; schemas do not change while the process
// runs.
type Generator struct {
	title       string
	version     string
	description string

	mu    sync.RWMutex
	cache map[string]*openapi3.T
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) { g.title = title }
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) { g.version = version }
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) { g.description = description }
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "JSON:API Server",
		version:     "1.0.0",
		description: "Resources served following the JSON:API specification",
		cache:       make(map[string]*openapi3.T),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the document of the server called name, whose
// resources are served below serverURL.
func (g *Generator) Generate(name, serverURL string, schemas *schema.Container) (*openapi3.T, error) {
	g.mu.RLock()
	spec, ok := g.cache[name]
	g.mu.RUnlock()
	if ok {
		return spec, nil
	}

	spec = &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       fmt.Sprintf("%s (%s)", g.title, name),
			Version:     g.version,
			Description: g.description,
		},
		Servers:    openapi3.Servers{{URL: serverURL}},
		Paths:      openapi3.NewPaths(),
		Components: &openapi3.Components{Schemas: make(openapi3.Schemas)},
	}

	addCommonSchemas(spec)
	for _, typ := range schemas.Types() {
		sch, err := schemas.SchemaFor(typ)
		if err != nil {
			return nil, err
		}
		addResource(spec, sch)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if cached, ok := g.cache[name]; ok {
		return cached, nil
	}
	g.cache[name] = spec
	return spec, nil
}

// JSON renders a document as JSON.
func JSON(spec *openapi3.T) ([]byte, error) {
	return json.Marshal(spec)
}

// YAML renders a document as block-style YAML.
func YAML(spec *openapi3.T) ([]byte, error) {
	raw, err := JSON(spec)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("convert to yaml: %w", err)
	}
	blockStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// blockStyle clears the flow and quoting styles a JSON source leaves on
// every node.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, child := range n.Content {
		blockStyle(child)
	}
}

// =============================================================================
// Schema Generation
// =============================================================================

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func typed(t string) *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{t}}
}

// addCommonSchemas adds the JSON:API building blocks shared by every
// resource.
func addCommonSchemas(spec *openapi3.T) {
	uri := func() *openapi3.SchemaRef {
		s := typed("string")
		s.Format = "uri"
		return s.NewRef()
	}

	links := typed("object")
	links.Properties = openapi3.Schemas{"self": uri(), "related": uri()}
	spec.Components.Schemas["Links"] = links.NewRef()

	pageLinks := typed("object")
	pageLinks.Properties = openapi3.Schemas{"first": uri(), "prev": uri(), "next": uri(), "last": uri()}
	spec.Components.Schemas["PaginationLinks"] = pageLinks.NewRef()

	pageMeta := typed("object")
	pageMeta.Properties = openapi3.Schemas{}
	for _, key := range []string{"current_page", "from", "last_page", "per_page", "to", "total"} {
		s := typed("integer")
		s.Nullable = key == "from" || key == "to"
		pageMeta.Properties[key] = s.NewRef()
	}
	spec.Components.Schemas["PaginationMeta"] = pageMeta.NewRef()

	identifier := typed("object")
	identifier.Properties = openapi3.Schemas{"type": typed("string").NewRef(), "id": typed("string").NewRef()}
	identifier.Required = []string{"type", "id"}
	spec.Components.Schemas["ResourceIdentifier"] = identifier.NewRef()

	source := typed("object")
	source.Properties = openapi3.Schemas{"pointer": typed("string").NewRef(), "parameter": typed("string").NewRef()}

	errObj := typed("object")
	errObj.Properties = openapi3.Schemas{
		"status": typed("string").NewRef(),
		"title":  typed("string").NewRef(),
		"detail": typed("string").NewRef(),
		"source": source.NewRef(),
	}
	errors := typed("object")
	errors.Properties = openapi3.Schemas{"errors": openapi3.NewArraySchema().WithItems(errObj).NewRef()}
	spec.Components.Schemas["Errors"] = errors.NewRef()
}

// attributeSchema maps a field to its attribute schema.
func attributeSchema(f schema.Field) *openapi3.Schema {
	var s *openapi3.Schema
	switch f.Kind {
	case schema.KindNumber:
		s = typed("number")
	case schema.KindBoolean:
		s = typed("boolean")
	case schema.KindDateTime:
		s = typed("string")
		s.Format = "date-time"
	case schema.KindHashed:
		s = typed("string")
		s.Format = "password"
		s.WriteOnly = true
	default:
		s = typed("string")
	}
	s.Nullable = true
	s.ReadOnly = f.IsReadOnly()
	return s
}

// addResource adds the component schemas and paths of one resource type.
func addResource(spec *openapi3.T, sch *schema.Schema) {
	name := componentName(sch.Type)

	attrs := typed("object")
	attrs.Properties = openapi3.Schemas{}
	for _, f := range sch.Attributes() {
		if f.IsHidden() && f.Kind != schema.KindHashed {
			continue
		}
		attrs.Properties[f.Name] = attributeSchema(f).NewRef()
		if strings.Contains(f.Rules(), "required") {
			attrs.Required = append(attrs.Required, f.Name)
		}
	}
	spec.Components.Schemas[name+"Attributes"] = attrs.NewRef()

	rels := typed("object")
	rels.Properties = openapi3.Schemas{}
	for _, f := range sch.Relations() {
		if f.IsHidden() {
			continue
		}
		var data *openapi3.Schema
		if f.IsToMany() {
			data = openapi3.NewArraySchema()
			data.Items = ref("ResourceIdentifier")
		} else {
			data = &openapi3.Schema{AllOf: openapi3.SchemaRefs{ref("ResourceIdentifier")}, Nullable: true}
		}
		rel := typed("object")
		rel.Properties = openapi3.Schemas{"data": data.NewRef(), "links": ref("Links")}
		rel.ReadOnly = f.IsReadOnly() || f.IsToMany()
		rels.Properties[f.Name] = rel.NewRef()
	}
	spec.Components.Schemas[name+"Relationships"] = rels.NewRef()

	typeSchema := typed("string")
	typeSchema.Enum = []any{sch.Type}

	resource := typed("object")
	resource.Properties = openapi3.Schemas{
		"type":          typeSchema.NewRef(),
		"id":            typed("string").NewRef(),
		"attributes":    ref(name + "Attributes"),
		"relationships": ref(name + "Relationships"),
		"links":         ref("Links"),
	}
	resource.Required = []string{"type", "id"}
	spec.Components.Schemas[name] = resource.NewRef()

	one := typed("object")
	one.Properties = openapi3.Schemas{
		"data":     ref(name),
		"included": openapi3.NewArraySchema().WithItems(typed("object")).NewRef(),
		"links":    ref("Links"),
	}
	spec.Components.Schemas[name+"Document"] = one.NewRef()

	many := typed("object")
	many.Properties = openapi3.Schemas{
		"data":     openapi3.NewArraySchema().WithItems(&openapi3.Schema{AllOf: openapi3.SchemaRefs{ref(name)}}).NewRef(),
		"included": openapi3.NewArraySchema().WithItems(typed("object")).NewRef(),
		"links":    ref("PaginationLinks"),
		"meta":     ref("PaginationMeta"),
	}
	spec.Components.Schemas[name+"CollectionDocument"] = many.NewRef()

	base := "/" + sch.Type

	spec.Paths.Set(base, &openapi3.PathItem{
		Get:  listOperation(sch, name),
		Post: writeOperation("create"+name, "Create a "+sch.Type+" resource", sch.Type, name, 201),
	})

	spec.Paths.Set(base+"/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{pathParameter("id")},
		Get: withResponses(&openapi3.Operation{
			OperationID: "get" + name,
			Summary:     "Fetch a " + sch.Type + " resource",
			Tags:        []string{sch.Type},
			Parameters:  openapi3.Parameters{queryParameter("include", "Comma separated relationship paths")},
		}, 200, name+"Document", 404),
		Patch: writeOperation("update"+name, "Update a "+sch.Type+" resource", sch.Type, name, 200),
		Delete: withResponses(&openapi3.Operation{
			OperationID: "delete" + name,
			Summary:     "Delete a " + sch.Type + " resource",
			Tags:        []string{sch.Type},
		}, 204, "", 404),
	})

	for _, f := range sch.Relations() {
		if f.IsHidden() {
			continue
		}
		params := openapi3.Parameters{pathParameter("id")}
		spec.Paths.Set(base+"/{id}/"+f.Name, &openapi3.PathItem{
			Parameters: params,
			Get: withResponses(&openapi3.Operation{
				OperationID: "get" + name + componentName(f.Name),
				Summary:     "Fetch the related " + f.Name,
				Tags:        []string{sch.Type},
			}, 200, componentName(f.Related)+relatedDocument(f), 404),
		})
		spec.Paths.Set(base+"/{id}/relationships/"+f.Name, &openapi3.PathItem{
			Parameters: params,
			Get: withResponses(&openapi3.Operation{
				OperationID: "get" + name + componentName(f.Name) + "Relationship",
				Summary:     "Fetch the " + f.Name + " linkage",
				Tags:        []string{sch.Type},
			}, 200, "", 404),
		})
	}
}

func relatedDocument(f schema.Field) string {
	if f.IsToMany() {
		return "CollectionDocument"
	}
	return "Document"
}

// =============================================================================
// Operation Generation
// =============================================================================

func listOperation(sch *schema.Schema, name string) *openapi3.Operation {
	params := openapi3.Parameters{
		queryParameter("include", "Comma separated relationship paths"),
		queryParameter("sort", "Comma separated fields, prefixed with - for descending: "+strings.Join(sch.SortableFields(), ", ")),
		queryParameter("fields["+sch.Type+"]", "Sparse fieldset"),
	}
	for _, f := range sch.Filters {
		params = append(params, queryParameter("filter["+f.Key+"]", "Filter by "+f.Field))
	}
	if p := sch.Pagination; p != nil {
		for _, key := range p.Keys() {
			param := queryParameter("page["+key+"]", "")
			param.Value.Schema = typed("integer").NewRef()
			params = append(params, param)
		}
	}

	return withResponses(&openapi3.Operation{
		OperationID: "list" + name,
		Summary:     "List " + sch.Type + " resources",
		Tags:        []string{sch.Type},
		Parameters:  params,
	}, 200, name+"CollectionDocument", 400)
}

func writeOperation(id, summary, tag, name string, status int) *openapi3.Operation {
	body := typed("object")
	body.Properties = openapi3.Schemas{"data": ref(name)}
	body.Required = []string{"data"}

	op := &openapi3.Operation{
		OperationID: id,
		Summary:     summary,
		Tags:        []string{tag},
		RequestBody: &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithContent(openapi3.NewContentWithSchemaRef(body.NewRef(), []string{mediaType})),
		},
	}
	return withResponses(op, status, name+"Document", 409, 422)
}

// withResponses sets the success response and the listed error responses.
// An empty document name means the success response has no schema.
func withResponses(op *openapi3.Operation, status int, document string, errorStatuses ...int) *openapi3.Operation {
	op.Responses = &openapi3.Responses{}

	success := openapi3.NewResponse().WithDescription("Success")
	if document != "" {
		success.Content = openapi3.NewContentWithSchemaRef(ref(document), []string{mediaType})
	}
	op.Responses.Set(fmt.Sprint(status), &openapi3.ResponseRef{Value: success})

	for _, code := range append([]int{406}, errorStatuses...) {
		resp := openapi3.NewResponse().
			WithDescription("Error").
			WithContent(openapi3.NewContentWithSchemaRef(ref("Errors"), []string{mediaType}))
		op.Responses.Set(fmt.Sprint(code), &openapi3.ResponseRef{Value: resp})
	}
	return op
}

func pathParameter(name string) *openapi3.ParameterRef {
	p := openapi3.NewPathParameter(name).WithSchema(typed("string"))
	return &openapi3.ParameterRef{Value: p}
}

func queryParameter(name, description string) *openapi3.ParameterRef {
	p := openapi3.NewQueryParameter(name).WithSchema(typed("string")).WithDescription(description)
	return &openapi3.ParameterRef{Value: p}
}

// =============================================================================
// Helpers
// =============================================================================

// componentName turns "blog-posts" or "blogPosts" into "BlogPosts".
func componentName(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '-' || r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
