// Package http exposes the dashboard as a JSON API.
//
// This file implements the Builder Pattern for JSON responses so every
// handler writes the same envelope and headers.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"revdash/internal/core"
	"revdash/internal/drill"
	"revdash/internal/services"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	payload    any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.payload = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(b.payload); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// ConflictError creates a 409 Conflict error response.
func ConflictError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusConflict, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// statusForError maps service and domain errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, drill.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidGranularity), core.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrReadOnly):
		return http.StatusMethodNotAllowed
	case errors.Is(err, services.ErrNoCatalog):
		return http.StatusNotFound
	case errors.Is(err, services.ErrFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorFor builds the response for err. Server-side failures get a
// generic message so adapter details do not leak to clients.
func errorFor(err error) *JSONResponseBuilder {
	status := statusForError(err)
	switch status {
	case http.StatusInternalServerError:
		return InternalServerError("internal error")
	case http.StatusBadGateway:
		return ErrorResponse(status, "invoice source unavailable")
	default:
		return ErrorResponse(status, err.Error())
	}
}
