package resources

import (
	"errors"
	"fmt"

	"github.com/artpar/jsonapi-server/internal/core/schema"
)

// ErrNoResource is returned when no transform is registered for a type.
var ErrNoResource = errors.New("no resource registered for type")

// Transform turns a model into a resource object.
type Transform func(m *Model) (*Object, error)

// Factory maps resource types to transforms. A Factory is built once per
// server and shared by every Container and encoder built from it.
type Factory struct {
	transforms map[string]Transform
	types      []string
}

// NewFactory builds a factory with a schema-driven transform for every
// type in schemas. Custom transforms override the defaults by type.
func NewFactory(schemas *schema.Container, custom map[string]Transform) *Factory {
	f := &Factory{transforms: make(map[string]Transform)}
	for _, typ := range schemas.Types() {
		s, _ := schemas.SchemaFor(typ)
		f.transforms[typ] = SchemaTransform(s)
		f.types = append(f.types, typ)
	}
	for typ, t := range custom {
		if _, ok := f.transforms[typ]; !ok {
			f.types = append(f.types, typ)
		}
		f.transforms[typ] = t
	}
	return f
}

// Types returns every type the factory can transform.
func (f *Factory) Types() []string {
	return append([]string(nil), f.types...)
}

// Transform returns the transform registered for resourceType.
func (f *Factory) Transform(resourceType string) (Transform, bool) {
	t, ok := f.transforms[resourceType]
	return t, ok
}

// Make transforms m with the transform registered for its type.
func (f *Factory) Make(m *Model) (*Object, error) {
	t, ok := f.transforms[m.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoResource, m.Type)
	}
	return t(m)
}

// SchemaTransform returns the default transform for a schema: visible
// attributes in declaration order and every relationship, with linkage
// when the model carries it.
func SchemaTransform(s *schema.Schema) Transform {
	return func(m *Model) (*Object, error) {
		if m.Type != s.Type {
			return nil, fmt.Errorf("model of type %q passed to %q resource", m.Type, s.Type)
		}

		obj := &Object{Type: m.Type, ID: m.ID}
		for _, f := range s.Attributes() {
			if f.IsHidden() {
				continue
			}
			obj.Attributes = append(obj.Attributes, Attribute{Name: f.Name, Value: m.Values[f.Name]})
		}
		for _, f := range s.Relations() {
			ids, loaded := m.Refs[f.Name]
			obj.Relationships = append(obj.Relationships, Relationship{
				Name:    f.Name,
				Related: f.Related,
				ToMany:  f.IsToMany(),
				Loaded:  loaded,
				IDs:     ids,
			})
		}
		return obj, nil
	}
}
