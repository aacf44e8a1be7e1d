package server

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for an empty server name.
	ErrInvalidInput = errors.New("invalid input")

	// ErrServerConstruction is wrapped by every *ConstructionError.
	ErrServerConstruction = errors.New("server construction failed")

	// ErrInvalidServerType is wrapped by every *InvalidTypeError.
	ErrInvalidServerType = errors.New("invalid server type")
)

// ConstructionError means the server configured under Name could not be
// built: it is not configured, its identifier is not registered, or its
// factory failed.
type ConstructionError struct {
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("unable to construct server %s: %v", e.Name, e.Err)
}

func (e *ConstructionError) Unwrap() []error {
	return []error{ErrServerConstruction, e.Err}
}

// InvalidTypeError means the factory for Name returned something that
// does not implement Server.
type InvalidTypeError struct {
	Name   string
	Actual string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("server %s is %s, which does not implement Server", e.Name, e.Actual)
}

func (e *InvalidTypeError) Unwrap() error {
	return ErrInvalidServerType
}
