package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NewMux registers every route. Wrap it with Handler for middleware.
func NewMux(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	hh := HealthHandler{Started: time.Now()}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))
	st := StatusHandler{Board: d.Status}
	mux.HandleFunc("/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: st.Get,
	}))

	// Sessions
	sh := SessionsHandler{
		Browser:   d.Browser,
		Scheduler: d.Scheduler,
		Status:    d.Status,
		Hub:       d.Hub,
		Log:       d.Logger.Named("http"),
	}
	mux.HandleFunc("/sessions", methodMux(map[string]http.HandlerFunc{
		http.MethodGet:  sh.List,
		http.MethodPost: sh.Start,
	}))
	mux.HandleFunc("/api/messages", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.Message,
	}))

	// Candidates
	cand := CandidatesHandler{DB: d.DB}
	mux.HandleFunc("/candidates", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: cand.List,
	}))
	dbh := DBHandler{DB: d.DB}
	mux.HandleFunc("/db/checkpoint", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: dbh.Checkpoint,
	}))

	// Config
	ch := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
		Hub:         d.Hub,
	}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Get,
		http.MethodPut: ch.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Path,
	}))
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Validate,
	}))

	// Secrets (use cfgVal, NOT a snapshot cfg)
	sec := SecretsHandler{CfgVal: d.CfgVal, SetSecret: d.SetSecret}
	mux.HandleFunc("/api/secrets/gemini", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sec.SetGeminiKey,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	mux.Handle("/metrics", d.Metrics.Handler())

	return mux
}

// Handler is the full middleware stack around NewMux.
func Handler(d Deps) http.Handler {
	return Wrap(NewMux(d), d.Logger)
}

// Wrap applies the middleware stack to h.
func Wrap(h http.Handler, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return Chain(h, RequestID, Recover(log), AccessLog(log), Cors)
}
