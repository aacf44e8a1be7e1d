// Package server groups resource schemas into named JSON:API servers and
// resolves them by name.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/jsonapi-server/internal/core/encoder"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// =============================================================================
// Capability Contract
// =============================================================================

// Server is one API surface: a name and the resource types it serves.
type Server interface {
	// Name returns the configured identifier of the server.
	Name() string

	// Container returns the schema container. Repeated calls return the
	// same instance.
	Container() (*schema.Container, error)

	// Resources returns a new resource container on every call.
	Resources() (*resources.Container, error)

	// Store returns a query and persistence façade bound to Container.
	Store() (*store.Store, error)

	// Encoder returns a document encoder for every resource type.
	Encoder() (*encoder.Encoder, error)
}

// Servable is implemented by servers that prepare request-scoped state,
// such as store scopes, before a request is handled.
type Servable interface {
	Serving(ctx context.Context) error
}

// =============================================================================
// Application
// =============================================================================

// App carries the process-wide collaborators handed to every server.
type App struct {
	DB       *sqlx.DB
	Logger   *slog.Logger
	BaseURL  string // e.g. "http://localhost:8080/api"
	HashCost int
}

func (a *App) logger() *slog.Logger {
	if a == nil || a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// =============================================================================
// Base
// =============================================================================

// Base implements Server for a fixed list of schemas. Concrete servers
// embed *Base and add hooks such as Serving.
type Base struct {
	app        *App
	name       string
	transforms map[string]resources.Transform

	container func() (*schema.Container, error)
	factory   func() (*resources.Factory, error)

	mu     sync.Mutex
	scopes map[string][]store.Scope
}

// BaseOption configures a Base.
type BaseOption func(*Base)

// WithTransform replaces the schema-driven serialization of one type.
func WithTransform(resourceType string, fn resources.Transform) BaseOption {
	return func(b *Base) { b.transforms[resourceType] = fn }
}

// NewBase returns a server named name. schemas is called at most once,
// the first time the schema container is needed.
func NewBase(app *App, name string, schemas func() []schema.Schema, opts ...BaseOption) (*Base, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: server name must not be empty", ErrInvalidInput)
	}
	if schemas == nil {
		return nil, fmt.Errorf("%w: server %s has no schemas", ErrInvalidInput, name)
	}

	b := &Base{
		app:        app,
		name:       name,
		transforms: make(map[string]resources.Transform),
		scopes:     make(map[string][]store.Scope),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.container = sync.OnceValues(func() (*schema.Container, error) {
		c, err := schema.NewContainer(schemas()...)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		return c, nil
	})
	b.factory = sync.OnceValues(func() (*resources.Factory, error) {
		c, err := b.container()
		if err != nil {
			return nil, err
		}
		return resources.NewFactory(c, b.transforms), nil
	})

	return b, nil
}

func (b *Base) Name() string { return b.name }

// App returns the application the server was constructed with.
func (b *Base) App() *App { return b.app }

// Logger returns the application logger tagged with the server name.
func (b *Base) Logger() *slog.Logger { return b.app.logger().With("server", b.name) }

func (b *Base) Container() (*schema.Container, error) {
	return b.container()
}

// Resources builds a fresh resource container. The factory behind it is
// shared, so two containers hold equivalent transforms.
func (b *Base) Resources() (*resources.Container, error) {
	f, err := b.factory()
	if err != nil {
		return nil, err
	}
	return resources.NewContainer(f), nil
}

func (b *Base) Store() (*store.Store, error) {
	c, err := b.container()
	if err != nil {
		return nil, err
	}
	if b.app == nil || b.app.DB == nil {
		return nil, fmt.Errorf("server %s: no database configured", b.name)
	}

	b.mu.Lock()
	scopes := make(map[string][]store.Scope, len(b.scopes))
	for typ, list := range b.scopes {
		scopes[typ] = append([]store.Scope(nil), list...)
	}
	b.mu.Unlock()

	opts := []store.Option{store.WithScopes(scopes), store.WithLogger(b.Logger())}
	if cost := b.app.HashCost; cost >= bcrypt.MinCost {
		opts = append(opts, store.WithHashCost(cost))
	}
	return store.New(b.app.DB, c, opts...), nil
}

func (b *Base) Encoder() (*encoder.Encoder, error) {
	f, err := b.factory()
	if err != nil {
		return nil, err
	}
	baseURL := ""
	if b.app != nil {
		baseURL = b.app.BaseURL
	}
	return encoder.New(baseURL+"/"+b.name, f), nil
}

// AddScope restricts every read of resourceType made through stores
// returned by Store afterwards. Serving hooks call it.
func (b *Base) AddScope(resourceType string, scope store.Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scopes[resourceType] = append(b.scopes[resourceType], scope)
}
