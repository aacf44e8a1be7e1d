package server

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Factory builds the implementation registered under an identifier.
// The result must implement Server.
type Factory func(app *App, name string) (any, error)

// =============================================================================
// Registry
// =============================================================================

// Registry maps implementation identifiers to factories. It is filled
// during bootstrap and read-only afterwards.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under identifier.
func (r *Registry) Register(identifier string, factory Factory) error {
	if identifier == "" {
		return fmt.Errorf("register server: identifier is empty")
	}
	if factory == nil {
		return fmt.Errorf("register server: factory is nil for %s", identifier)
	}
	if _, exists := r.factories[identifier]; exists {
		return fmt.Errorf("register server: duplicate identifier %s", identifier)
	}
	r.factories[identifier] = factory
	return nil
}

func (r *Registry) lookup(identifier string) (Factory, bool) {
	f, ok := r.factories[identifier]
	return f, ok
}

// =============================================================================
// Repository
// =============================================================================

// Repository resolves servers by name. servers maps each server name to
// the identifier of its implementation, as read from configuration.
type Repository struct {
	app      *App
	registry *Registry
	servers  map[string]string
}

// NewRepository returns a repository. Names with no registered
// implementation are not rejected here; resolving them fails.
func NewRepository(app *App, registry *Registry, servers map[string]string) *Repository {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Repository{
		app:      app,
		registry: registry,
		servers:  maps.Clone(servers),
	}
}

// Names returns the configured server names, sorted.
func (r *Repository) Names() []string {
	return slices.Sorted(maps.Keys(r.servers))
}

// Server constructs the server configured under name.
func (r *Repository) Server(name string) (srv Server, err error) {
	if name == "" {
		return nil, fmt.Errorf("%w: expecting a non-empty server name", ErrInvalidInput)
	}

	identifier, ok := r.servers[name]
	if !ok {
		return nil, &ConstructionError{Name: name, Err: errors.New("server is not configured")}
	}
	factory, ok := r.registry.lookup(identifier)
	if !ok {
		return nil, &ConstructionError{Name: name, Err: fmt.Errorf("no implementation registered as %s", identifier)}
	}

	defer func() {
		if p := recover(); p != nil {
			srv = nil
			err = &ConstructionError{Name: name, Err: fmt.Errorf("factory panicked: %v", p)}
		}
	}()

	built, err := factory(r.app, name)
	if err != nil {
		return nil, &ConstructionError{Name: name, Err: err}
	}

	if built == nil {
		return nil, &ConstructionError{Name: name, Err: errNilServer}
	}
	s, ok := built.(Server)
	if !ok {
		return nil, &InvalidTypeError{Name: name, Actual: fmt.Sprintf("%T", built)}
	}
	if !callable(s) {
		return nil, &ConstructionError{Name: name, Err: errNilServer}
	}

	r.app.logger().Debug("server constructed", "server", name, "implementation", identifier)
	return s, nil
}

var errNilServer = errors.New("factory returned a nil server")

// callable reports whether s answers Name. A typed nil pointer whose
// methods reach into the struct does not.
func callable(s Server) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	s.Name()
	return true
}
