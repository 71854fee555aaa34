package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"profilescrape-engine/internal/events"
	"profilescrape-engine/internal/protocol"
	"profilescrape-engine/internal/scheduler"
	"profilescrape-engine/internal/scrape/util"
	"profilescrape-engine/internal/status"
)

const (
	headerTabID  = "X-Tab-ID"
	headerTabURL = "X-Tab-URL"
)

type SessionsHandler struct {
	Browser   Browser
	Scheduler Scheduler
	Status    *status.Board
	Hub       *events.Hub
	Log       *zap.Logger
}

// Start opens (or adopts) a tab and tells its page agent to plan a scrape.
func (h SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.Browser == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "no_browser", "engine is not driving a browser")
		return
	}

	var req startSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	req.TabID = strings.TrimSpace(req.TabID)
	if req.URL == "" && req.TabID == "" {
		WriteError(w, r, http.StatusBadRequest, "missing_target", "url or tab_id is required")
		return
	}

	var resp startSessionResp
	if req.URL != "" && !util.IsProfileURL(req.URL) {
		resp.Warning = "url does not look like a profile page"
	}

	// Tab setup outlives the request; the session runs on its own.
	ctx := context.WithoutCancel(r.Context())
	var (
		tab scheduler.TabID
		err error
	)
	if req.TabID != "" {
		tab, err = h.Browser.Attach(ctx, req.TabID)
	} else {
		tab, err = h.Browser.Open(ctx, req.URL)
	}
	if err != nil {
		h.Log.Warn("session start failed", zap.String("url", req.URL), zap.String("tab", req.TabID), zap.Error(err))
		WriteFailure(w, r, err, http.StatusBadGateway, "browser_error")
		return
	}

	if err := h.Browser.SendWhenReady(ctx, tab, protocol.StartSession{}); err != nil {
		WriteFailure(w, r, err, http.StatusBadGateway, "browser_error")
		return
	}

	h.Status.Set("Scraping...")
	h.Hub.Publish(events.MakeEvent(RequestIDFrom(r.Context()), events.TypeSessionStarted, 1, map[string]any{
		"tab_id": tab,
		"url":    req.URL,
	}))

	resp.TabID = tab
	resp.Status = protocol.StatusOK
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Scheduler.Jobs())
}

// Message accepts a protocol envelope from an agent running outside the
// engine, e.g. a browser extension content script.
func (h SessionsHandler) Message(w http.ResponseWriter, r *http.Request) {
	tab := strings.TrimSpace(r.Header.Get(headerTabID))
	if tab == "" {
		WriteError(w, r, http.StatusBadRequest, "missing_tab", headerTabID+" header is required")
		return
	}

	var env protocol.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	msg, err := protocol.Decode(env)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}

	from := scheduler.Sender{TabID: scheduler.TabID(tab), URL: r.Header.Get(headerTabURL)}
	resp, err := h.Scheduler.Deliver(r.Context(), from, msg)
	if err != nil {
		WriteFailure(w, r, err, http.StatusInternalServerError, "deliver_failed")
		return
	}
	writeJSON(w, resp)
}
