package query

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when a value of an unsupported shape is
// passed to one of the casting functions.
var ErrInvalidInput = errors.New("invalid input")

// ErrInvalidParameter is wrapped by every *Error.
var ErrInvalidParameter = errors.New("invalid query parameter")

// Error describes a query parameter the client got wrong. Parameter is
// the offending key, e.g. "sort" or "filter[slug]".
type Error struct {
	Parameter string
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Parameter, e.Message)
}

func (e *Error) Unwrap() error {
	return ErrInvalidParameter
}

func paramError(parameter, format string, args ...any) *Error {
	return &Error{Parameter: parameter, Message: fmt.Sprintf(format, args...)}
}
