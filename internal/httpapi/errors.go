package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"profilescrape-engine/internal/browser"
	"profilescrape-engine/internal/scheduler"
	"profilescrape-engine/internal/store"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	WriteJSON(w, status, e)
}

// errorStatus maps engine errors onto a status and code. Anything it does
// not recognise gets the caller's fallback.
func errorStatus(err error, fallback int, fallbackCode string) (int, string) {
	switch {
	case errors.Is(err, scheduler.ErrStopped):
		return http.StatusServiceUnavailable, "scheduler_stopped"
	case errors.Is(err, browser.ErrNotStarted):
		return http.StatusServiceUnavailable, "no_browser"
	case errors.Is(err, browser.ErrUnknownTab), errors.Is(err, scheduler.ErrUnknownTab):
		return http.StatusNotFound, "unknown_tab"
	case errors.Is(err, browser.ErrNoAgent), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "tab_not_ready"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return fallback, fallbackCode
}

// WriteFailure writes err with the status errorStatus picks for it.
func WriteFailure(w http.ResponseWriter, r *http.Request, err error, fallback int, fallbackCode string) {
	status, code := errorStatus(err, fallback, fallbackCode)
	WriteError(w, r, status, code, err.Error())
}
