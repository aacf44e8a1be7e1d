// Package store persists JSON:API resources in SQLite, driven by their
// schemas.
package store

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a resource does not exist or is hidden
	// by a scope.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a write violates a unique constraint or
	// reuses an existing client-generated id.
	ErrConflict = errors.New("resource conflict")

	// ErrValidation is wrapped by ValidationErrors.
	ErrValidation = errors.New("validation failed")

	// ErrMigrationFailed is returned when database migration fails.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrTxFailed is returned when a transaction operation fails.
	ErrTxFailed = errors.New("transaction failed")
)

// StoreError wraps errors with the operation and resource involved.
type StoreError struct {
	Op      string // e.g. "QueryOne", "Create"
	Type    string // resource type
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Type, e.ID, e.Message)
	}
	if e.Type != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, resourceType, id, message string, err error) *StoreError {
	return &StoreError{Op: op, Type: resourceType, ID: id, Message: message, Err: err}
}

// =============================================================================
// Validation
// =============================================================================

// FieldError is one invalid member of a resource document. Pointer is a
// JSON pointer such as "/data/attributes/title".
type FieldError struct {
	Pointer string
	Detail  string
}

// ValidationErrors collects every invalid member of a write.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Pointer + ": " + e.Detail
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidation
}

func attributePointer(name string) string {
	return "/data/attributes/" + name
}

func relationshipPointer(name string) string {
	return "/data/relationships/" + name
}
