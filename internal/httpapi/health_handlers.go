package httpapi

import (
	"net/http"
	"time"

	"profilescrape-engine/internal/status"
)

type HealthHandler struct {
	Started time.Time
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":     true,
		"uptime": time.Since(h.Started).Round(time.Second).String(),
	})
}

type StatusHandler struct {
	Board *status.Board
}

func (h StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Board.Get())
}
