package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/session"
	"github.com/rheeghang/docent/internal/settings"
	"github.com/rheeghang/docent/kb"
)

// ErrBadRequest is used for malformed request bodies and parameters.
var ErrBadRequest = errors.New("bad request")

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, kb.ErrPageNotFound),
		errors.Is(err, kb.ErrContentNotFound),
		errors.Is(err, settings.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrBadRequest),
		errors.Is(err, session.ErrInvalidSample),
		errors.Is(err, settings.ErrUnsupportedLanguage),
		errors.Is(err, settings.ErrInvalidVisitor):
		return http.StatusBadRequest

	case errors.Is(err, kb.ErrPageExists):
		return http.StatusConflict

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

// writeError renders err as JSON. Internal errors are logged and their
// message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		logging.FromContext(r.Context(), log).Error(r.Context(), "request failed", logging.Err(err))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{
		Error:     msg,
		Status:    code,
		RequestID: logging.RequestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
