// Package respond writes JSON:API responses and translates errors into
// JSON:API error documents.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/manyminds/api2go"

	"github.com/artpar/jsonapi-server/internal/core/query"
	"github.com/artpar/jsonapi-server/internal/core/resources"
	"github.com/artpar/jsonapi-server/internal/core/schema"
	"github.com/artpar/jsonapi-server/internal/server"
	"github.com/artpar/jsonapi-server/internal/shell/store"
)

// MediaType is the JSON:API media type.
const MediaType = "application/vnd.api+json"

// =============================================================================
// Response
// =============================================================================

// Response implements api2go.Responder. Res is the document to write.
type Response struct {
	Code int
	Res  any
	Meta map[string]any
}

func (r *Response) Metadata() map[string]any { return r.Meta }
func (r *Response) Result() any { return r.Res }
func (r *Response) StatusCode() int { return r.Code }

// OK returns a 200 response for doc.
func OK(doc any) *Response {
	return &Response{Code: http.StatusOK, Res: doc}
}

// Created returns a 201 response for doc.
func Created(doc any) *Response {
	return &Response{Code: http.StatusCreated, Res: doc}
}

// NoContent returns a 204 response.
func NoContent() *Response {
	return &Response{Code: http.StatusNoContent}
}

// =============================================================================
// Writing
// =============================================================================

// Write writes resp, or the error document for err when err is non-nil.
func Write(w http.ResponseWriter, resp api2go.Responder, err error, logger *slog.Logger) {
	if err != nil {
		Error(w, err, logger)
		return
	}

	w.Header().Set("Content-Type", MediaType)
	if resp == nil || resp.Result() == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(resp.StatusCode())
	if err := json.NewEncoder(w).Encode(resp.Result()); err != nil && logger != nil {
		logger.Error("failed to write response", "error", err)
	}
}

// Error writes the JSON:API error document for err.
func Error(w http.ResponseWriter, err error, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	httpErr := ToHTTPError(err)
	status := parseStatus(httpErr.Errors[0].Status)
	if status >= http.StatusInternalServerError {
		logger.Error("request error", "error", err)
	} else {
		logger.Debug("request rejected", "status", status, "error", err)
	}

	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"errors": httpErr.Errors})
}

// =============================================================================
// Error Translation
// =============================================================================

// NewError returns an HTTP error with a single error object.
func NewError(status int, title, detail string) api2go.HTTPError {
	httpErr := api2go.NewHTTPError(errors.New(detail), title, status)
	httpErr.Errors = []api2go.Error{{
		Status: strconv.Itoa(status),
		Title:  title,
		Detail: detail,
	}}
	return httpErr
}

// ToHTTPError maps err to an HTTP error with at least one error object.
func ToHTTPError(err error) api2go.HTTPError {
	var httpErr api2go.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Errors) > 0 {
		return httpErr
	}

	var paramErr *query.Error
	if errors.As(err, &paramErr) {
		out := NewError(http.StatusBadRequest, "Invalid Query Parameter", paramErr.Message)
		out.Errors[0].Source = &api2go.ErrorSource{Parameter: paramErr.Parameter}
		return out
	}

	var invalid store.ValidationErrors
	if errors.As(err, &invalid) {
		out := api2go.NewHTTPError(err, "Unprocessable Entity", http.StatusUnprocessableEntity)
		for _, fe := range invalid {
			out.Errors = append(out.Errors, api2go.Error{
				Status: strconv.Itoa(http.StatusUnprocessableEntity),
				Title:  "Unprocessable Entity",
				Detail: fe.Detail,
				Source: &api2go.ErrorSource{Pointer: fe.Pointer},
			})
		}
		if len(out.Errors) > 0 {
			return out
		}
	}

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, schema.ErrUnknownType), errors.Is(err, resources.ErrNoResource):
		return NewError(http.StatusNotFound, "Not Found", "The requested resource does not exist.")
	case errors.Is(err, store.ErrConflict):
		return NewError(http.StatusConflict, "Conflict", conflictDetail(err))
	case errors.Is(err, server.ErrServerConstruction), errors.Is(err, server.ErrInvalidServerType):
		return NewError(http.StatusInternalServerError, "Internal Server Error", "The API server is misconfigured.")
	}

	return NewError(http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred.")
}

func conflictDetail(err error) string {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) && storeErr.Message != "" {
		return storeErr.Message
	}
	return "The request conflicts with the current state of the resource."
}

// parseStatus converts a status string to an int.
func parseStatus(status string) int {
	if n, err := strconv.Atoi(status); err == nil && n > 0 {
		return n
	}
	return http.StatusInternalServerError
}
