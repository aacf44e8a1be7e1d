// Package encoder renders resource models as JSON:API documents.
package encoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/manyminds/api2go/jsonapi"

	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
)

// Encoder builds documents for one server. It holds no per-request state.
type Encoder struct {
	baseURL string
	factory *resources.Factory
}

// Options carries the per-request parts of a document.
type Options struct {
	Query    *query.ResourceQuery // sparse fieldsets
	Included []*resources.Model
	Meta     map[string]any
	Links    jsonapi.Links

	// Resources creates the resource objects of primary data. One is
	// built from the encoder's factory when nil.
	Resources *resources.Container
}

// New returns an encoder rendering links below baseURL, e.g.
// "http://localhost/api/v1".
func New(baseURL string, factory *resources.Factory) *Encoder {
	return &Encoder{baseURL: strings.TrimRight(baseURL, "/"), factory: factory}
}

// BaseURL returns the URL resource links are built from.
func (e *Encoder) BaseURL() string {
	return e.baseURL
}

// One renders a single resource document. A nil model renders "data": null.
func (e *Encoder) One(m *resources.Model, opts Options) (*jsonapi.Document, error) {
	doc := &jsonapi.Document{Data: &jsonapi.DataContainer{}, Meta: opts.Meta, Links: opts.Links}

	if m != nil {
		obj, err := e.objects(opts).Create(m)
		if err != nil {
			return nil, err
		}
		data, err := e.render(obj, opts.Query)
		if err != nil {
			return nil, err
		}
		doc.Data.DataObject = data
		if opts.Links == nil {
			doc.Links = jsonapi.Links{"self": {Href: data.Links["self"].Href}}
		}
	}

	included, err := e.included(opts.Included, []*resources.Model{m}, opts.Query)
	if err != nil {
		return nil, err
	}
	doc.Included = included
	return doc, nil
}

// Many renders a resource collection document. An empty list renders
// "data": [].
func (e *Encoder) Many(models []*resources.Model, opts Options) (*jsonapi.Document, error) {
	doc := &jsonapi.Document{
		Data:  &jsonapi.DataContainer{DataArray: make([]jsonapi.Data, 0, len(models))},
		Meta:  opts.Meta,
		Links: opts.Links,
	}

	for obj, err := range e.objects(opts).Cursor(models) {
		if err != nil {
			return nil, err
		}
		data, err := e.render(obj, opts.Query)
		if err != nil {
			return nil, err
		}
		doc.Data.DataArray = append(doc.Data.DataArray, *data)
	}

	included, err := e.included(opts.Included, models, opts.Query)
	if err != nil {
		return nil, err
	}
	doc.Included = included
	return doc, nil
}

// Meta renders a meta-only document, used for deletes that return content.
func (e *Encoder) Meta(meta map[string]any) *jsonapi.Document {
	return &jsonapi.Document{Meta: meta}
}

// RelationshipDocument is the document of a relationship endpoint: the
// linkage of one relationship with no attributes.
type RelationshipDocument struct {
	Links jsonapi.Links                      `json:"links,omitempty"`
	Data  *jsonapi.RelationshipDataContainer `json:"data"`
	Meta  map[string]any                     `json:"meta,omitempty"`
}

// Relationship renders the linkage of one relationship of m. The
// relationship must have been loaded on m.
func (e *Encoder) Relationship(m *resources.Model, name string, meta map[string]any) (*RelationshipDocument, error) {
	obj, err := e.factory.Make(m)
	if err != nil {
		return nil, err
	}
	rel, ok := obj.Relationship(name)
	if !ok {
		return nil, fmt.Errorf("%s has no relationship %s", obj.Type, name)
	}
	rel.Loaded = true

	out := relationship(e.SelfURL(obj.Type, obj.ID), rel)
	return &RelationshipDocument{Links: out.Links, Data: out.Data, Meta: meta}, nil
}

// SelfURL returns the canonical URL of a resource.
func (e *Encoder) SelfURL(resourceType, id string) string {
	return fmt.Sprintf("%s/%s/%s", e.baseURL, resourceType, id)
}

// =============================================================================
// Resource objects
// =============================================================================

func (e *Encoder) objects(opts Options) *resources.Container {
	if opts.Resources != nil {
		return opts.Resources
	}
	return resources.NewContainer(e.factory)
}

func (e *Encoder) data(m *resources.Model, q *query.ResourceQuery) (*jsonapi.Data, error) {
	obj, err := e.factory.Make(m)
	if err != nil {
		return nil, err
	}
	return e.render(obj, q)
}

func (e *Encoder) render(obj *resources.Object, q *query.ResourceQuery) (*jsonapi.Data, error) {
	fields, sparse := q.Fields(obj.Type)
	visible := func(name string) bool {
		return !sparse || slices.Contains(fields, name)
	}

	attrs, err := encodeAttributes(obj.Attributes, visible)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", obj.Type, obj.ID, err)
	}

	self := e.SelfURL(obj.Type, obj.ID)
	data := &jsonapi.Data{
		Type:       obj.Type,
		ID:         obj.ID,
		Attributes: attrs,
		Links:      jsonapi.Links{"self": {Href: self}},
	}

	for _, rel := range obj.Relationships {
		if !visible(rel.Name) {
			continue
		}
		if data.Relationships == nil {
			data.Relationships = make(map[string]jsonapi.Relationship)
		}
		data.Relationships[rel.Name] = relationship(self, rel)
	}

	return data, nil
}

func relationship(self string, rel resources.Relationship) jsonapi.Relationship {
	out := jsonapi.Relationship{
		Links: jsonapi.Links{
			"self":    {Href: self + "/relationships/" + rel.Name},
			"related": {Href: self + "/" + rel.Name},
		},
	}
	if !rel.Loaded {
		return out
	}

	container := &jsonapi.RelationshipDataContainer{}
	if rel.ToMany {
		container.DataArray = make([]jsonapi.RelationshipData, 0, len(rel.IDs))
		for _, id := range rel.IDs {
			container.DataArray = append(container.DataArray, jsonapi.RelationshipData{Type: rel.Related, ID: id})
		}
	} else if len(rel.IDs) > 0 && rel.IDs[0] != "" {
		container.DataObject = &jsonapi.RelationshipData{Type: rel.Related, ID: rel.IDs[0]}
	}
	out.Data = container
	return out
}

// encodeAttributes writes attributes as a JSON object in declaration order.
func encodeAttributes(attrs []resources.Attribute, visible func(string) bool) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, a := range attrs {
		if !visible(a.Name) {
			continue
		}
		key, err := json.Marshal(a.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(a.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// included renders the compound document members, skipping duplicates
// and anything already present as primary data.
func (e *Encoder) included(models, primary []*resources.Model, q *query.ResourceQuery) ([]jsonapi.Data, error) {
	if len(models) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(primary)+len(models))
	for _, m := range primary {
		if m != nil {
			seen[m.Key()] = true
		}
	}

	out := make([]jsonapi.Data, 0, len(models))
	for _, m := range models {
		if m == nil || seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		data, err := e.data(m, q)
		if err != nil {
			return nil, err
		}
		out = append(out, *data)
	}
	return out, nil
}
