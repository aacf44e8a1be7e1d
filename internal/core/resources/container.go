package resources

import (
	"fmt"
	"iter"
)

// Container creates resource objects for models. It is cheap to build;
// servers create one per call.
type Container struct {
	factory *Factory
}

// NewContainer wraps a factory.
func NewContainer(factory *Factory) *Container {
	return &Container{factory: factory}
}

// Exists reports whether resourceType has a registered transform.
func (c *Container) Exists(resourceType string) bool {
	_, ok := c.factory.Transform(resourceType)
	return ok
}

// Create returns the resource object for one model.
func (c *Container) Create(m *Model) (*Object, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", ErrNoResource)
	}
	return c.factory.Make(m)
}

// Cursor yields resource objects for models in order, stopping at the
// first error.
func (c *Container) Cursor(models []*Model) iter.Seq2[*Object, error] {
	return func(yield func(*Object, error) bool) {
		for _, m := range models {
			obj, err := c.Create(m)
			if !yield(obj, err) || err != nil {
				return
			}
		}
	}
}

// Factory returns the factory the container was built from.
func (c *Container) Factory() *Factory {
	return c.factory
}
