package server

import (
	"github.com/artpar/jsonapi-server/internal/container"
)

// RegisterBindings binds the services derived from the server of the
// current request: the store, the schema container, the resource
// container and the encoder. Each is made from whatever is bound to
// container.ServerKey when it is resolved.
func RegisterBindings(c *container.Container) {
	c.Bind(container.StoreKey, func(s *container.Scope) (any, error) {
		srv, err := container.Resolve[Server](s, container.ServerKey)
		if err != nil {
			return nil, err
		}
		return srv.Store()
	})

	c.Bind(container.SchemaContainerKey, func(s *container.Scope) (any, error) {
		srv, err := container.Resolve[Server](s, container.ServerKey)
		if err != nil {
			return nil, err
		}
		return srv.Container()
	})

	c.Bind(container.ResourceContainerKey, func(s *container.Scope) (any, error) {
		srv, err := container.Resolve[Server](s, container.ServerKey)
		if err != nil {
			return nil, err
		}
		return srv.Resources()
	})

	c.Bind(container.EncoderKey, func(s *container.Scope) (any, error) {
		srv, err := container.Resolve[Server](s, container.ServerKey)
		if err != nil {
			return nil, err
		}
		return srv.Encoder()
	})
}
