package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grckit/approvalflow"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

func WriteErrorResponse(writer http.ResponseWriter, err error, statusCode int) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)

	resp := ErrorResponse{Message: err.Error()}
	_ = json.NewEncoder(writer).Encode(resp)
}

// WriteEngineError maps engine sentinels to HTTP status codes.
func WriteEngineError(writer http.ResponseWriter, err error) {
	WriteErrorResponse(writer, err, statusFromError(err))
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, approvalflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approvalflow.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, approvalflow.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, approvalflow.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, approvalflow.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
