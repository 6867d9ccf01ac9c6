// Package handlers provides the HTTP handlers of the livescan control API.
// This file contains the response and request helpers shared by all of
// them.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/anstrom/livescan/internal/api/middleware"
	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/logging"
)

// DefaultMaxBodySize bounds request bodies when no limit is configured.
const DefaultMaxBodySize = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"path", r.URL.Path,
			"error", err)
	}
}

// writeError writes an error response with an explicit status.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		response.Code = string(code)
	}
	writeJSON(w, r, statusCode, response)
}

// writeCodedError writes err with the status its error code maps to.
func writeCodedError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusForError(err), err)
}

// statusForError maps error codes to HTTP statuses.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation, errors.CodeNoRanges:
		return http.StatusBadRequest
	case errors.CodeNotFound, errors.CodeHostUnknown:
		return http.StatusNotFound
	case errors.CodeConflict, errors.CodeAlreadyRunning, errors.CodeIdle, errors.CodeInvalidState,
		errors.CodeNotRunning, errors.CodeNoSuchProcess:
		return http.StatusConflict
	case errors.CodeServiceUnavailable, errors.CodeQueueFull, errors.CodeDatabaseConnection,
		errors.CodeCanceled, errors.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseJSON decodes an optional JSON body into v. An empty body leaves v
// untouched and reports false.
func parseJSON(w http.ResponseWriter, r *http.Request, v interface{}, maxBytes int64) (bool, error) {
	if r.Body == nil {
		return false, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		if stderrors.Is(err, io.EOF) {
			return false, nil
		}
		return false, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid JSON: %v", err), "body", nil)
	}
	return true, nil
}

// getQueryParamInt extracts an integer query parameter with a default.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid %s parameter", key), key, value)
	}
	return n, nil
}
