// Package container is a small service registry. A Container holds the
// process-wide bindings; each request gets its own Scope, carried in the
// request context, holding the instances bound while it is handled.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Key names a service.
type Key string

const (
	ServerKey            Key = "server"
	RouteKey             Key = "route"
	StoreKey             Key = "store"
	SchemaContainerKey   Key = "schema-container"
	ResourceContainerKey Key = "resource-container"
	EncoderKey           Key = "encoder"
	PageResolverKey      Key = "page-resolver"
)

// ErrNotBound is returned by Make for a key with no instance or binding.
var ErrNotBound = errors.New("service not bound")

// TypeMismatchError means Resolve found a value of another type.
type TypeMismatchError struct {
	Key      Key
	Expected string
	Actual   string
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("service %s: expected=%s actual=%s", e.Key, e.Expected, e.Actual)
}

// Binding builds a service on demand. It runs every time the key is made;
// it may make other services from the same scope.
type Binding func(s *Scope) (any, error)

// =============================================================================
// Container
// =============================================================================

// Container holds bindings shared by every scope.
type Container struct {
	mu       sync.RWMutex
	bindings map[Key]Binding
}

func New() *Container {
	return &Container{bindings: make(map[Key]Binding)}
}

// Bind registers a binding for key, replacing any earlier one.
func (c *Container) Bind(key Key, b Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[key] = b
}

func (c *Container) binding(key Key) (Binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[key]
	return b, ok
}

// Scope returns a new, empty scope over the container's bindings.
func (c *Container) Scope() *Scope {
	return &Scope{container: c, instances: make(map[Key]any)}
}

// =============================================================================
// Scope
// =============================================================================

// Scope holds the instances bound for one request.
type Scope struct {
	container *Container
	mu        sync.RWMutex
	instances map[Key]any
}

// Instance binds value to key until Forget is called.
func (s *Scope) Instance(key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[key] = value
}

// Forget removes the instance bound to key, if any.
func (s *Scope) Forget(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, key)
}

// Bound reports whether key has an instance or a binding.
func (s *Scope) Bound(key Key) bool {
	s.mu.RLock()
	_, ok := s.instances[key]
	s.mu.RUnlock()
	if ok {
		return true
	}
	if s.container == nil {
		return false
	}
	_, ok = s.container.binding(key)
	return ok
}

// Make returns the instance bound to key, or builds one from the
// container's binding.
func (s *Scope) Make(key Key) (any, error) {
	s.mu.RLock()
	v, ok := s.instances[key]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	if s.container != nil {
		if b, ok := s.container.binding(key); ok {
			return b(s)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotBound, key)
}

// Resolve makes key and asserts the result to T.
func Resolve[T any](s *Scope, key Key) (T, error) {
	var zero T
	v, err := s.Make(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{Key: key, Expected: fmt.Sprintf("%T", &zero)[1:], Actual: fmt.Sprintf("%T", v)}
	}
	return typed, nil
}

// =============================================================================
// Context Storage
// =============================================================================

type contextKey struct{}

// WithScope stores s in ctx.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the scope stored in ctx.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(contextKey{}).(*Scope)
	return s, ok
}
