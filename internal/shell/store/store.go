package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/jsonapi-server/internal/core/schema"
)

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts the operations that run on both a connection and a
// transaction.
type executor interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// Scopes
// =============================================================================

// Scope restricts every read of a resource type, e.g. to hide drafts.
// Where is an SQL boolean expression over the type's columns.
type Scope struct {
	Where string
	Args  []any
}

// =============================================================================
// Store
// =============================================================================

// Store is the query and persistence façade for one server's resources.
// It is cheap to construct; servers build a new one per call.
type Store struct {
	db       *sqlx.DB
	exec     executor
	schemas  *schema.Container
	scopes   map[string][]Scope
	logger   *slog.Logger
	hashCost int
}

// Option configures a Store.
type Option func(*Store)

// WithScopes installs read scopes keyed by resource type.
func WithScopes(scopes map[string][]Scope) Option {
	return func(s *Store) {
		for typ, list := range scopes {
			s.scopes[typ] = append(s.scopes[typ], list...)
		}
	}
}

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHashCost sets the bcrypt cost used for Hashed fields.
func WithHashCost(cost int) Option {
	return func(s *Store) { s.hashCost = cost }
}

// New returns a store over db serving the types in schemas.
func New(db *sqlx.DB, schemas *schema.Container, opts ...Option) *Store {
	s := &Store{
		db:       db,
		exec:     db,
		schemas:  schemas,
		scopes:   make(map[string][]Scope),
		logger:   slog.Default(),
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schemas returns the schema container the store is bound to.
func (s *Store) Schemas() *schema.Container {
	return s.schemas
}

// WithScope returns a copy of the store with one more scope on
// resourceType.
func (s *Store) WithScope(resourceType string, scope Scope) *Store {
	cp := *s
	cp.scopes = make(map[string][]Scope, len(s.scopes)+1)
	for typ, list := range s.scopes {
		cp.scopes[typ] = append([]Scope(nil), list...)
	}
	cp.scopes[resourceType] = append(cp.scopes[resourceType], scope)
	return &cp
}

// WithTx runs fn against a store bound to a transaction. The transaction
// commits when fn returns nil and rolls back otherwise. On a store that
// is already in a transaction fn joins it.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	if _, ok := s.exec.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txStore := *s
	txStore.exec = tx

	if err := fn(&txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

// Exists reports whether a resource is visible under the current scopes.
func (s *Store) Exists(ctx context.Context, resourceType, id string) (bool, error) {
	sch, err := s.schemas.SchemaFor(resourceType)
	if err != nil {
		return false, NewStoreError("Exists", resourceType, id, err.Error(), err)
	}

	sel := s.selectFor(sch)
	sel.where("id = ?", id)

	var n int
	if err := s.exec.GetContext(ctx, &n, sel.countSQL(), sel.args...); err != nil {
		return false, NewStoreError("Exists", resourceType, id, err.Error(), err)
	}
	return n > 0, nil
}

func (s *Store) schemaFor(op, resourceType string) (*schema.Schema, error) {
	sch, err := s.schemas.SchemaFor(resourceType)
	if err != nil {
		return nil, NewStoreError(op, resourceType, "", err.Error(), err)
	}
	return sch, nil
}
