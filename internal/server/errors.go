package server

import (
	"errors"
	"net/http"

	"github.com/MrWong99/livescribe/internal/journal"
	"github.com/MrWong99/livescribe/internal/transcribe"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeAlreadyRunning   = "ALREADY_RUNNING"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeUnavailable      = "UNAVAILABLE"
	CodeSetupError       = "SETUP_ERROR"
	CodeStopError        = "STOP_ERROR"
	CodeBusy             = "BUSY"
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInternal         = "INTERNAL"
)

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// startError maps an error returned by Start to a code and HTTP status.
func startError(err error) (string, int) {
	switch {
	case errors.Is(err, transcribe.ErrAlreadyRunning):
		return CodeAlreadyRunning, http.StatusConflict
	case errors.Is(err, transcribe.ErrPermissionDenied):
		return CodePermissionDenied, http.StatusForbidden
	case errors.Is(err, transcribe.ErrEngineUnavailable):
		return CodeUnavailable, http.StatusServiceUnavailable
	default:
		return CodeSetupError, http.StatusInternalServerError
	}
}

// stopError maps an error returned by Stop to a code and HTTP status.
func stopError(err error) (string, int) {
	if errors.Is(err, transcribe.ErrBusy) {
		return CodeBusy, http.StatusConflict
	}
	return CodeStopError, http.StatusInternalServerError
}

// journalError maps a journal read error to a code and HTTP status.
func journalError(err error) (string, int) {
	if errors.Is(err, journal.ErrNotFound) {
		return CodeNotFound, http.StatusNotFound
	}
	return CodeInternal, http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code string, status int, err error) {
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}
