package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/interpreta/internal/config"
	"github.com/MrWong99/interpreta/internal/observe"
	"github.com/MrWong99/interpreta/pkg/message"
	"github.com/MrWong99/interpreta/pkg/provider"
)

// routes builds the HTTP API:
//
//	GET    /healthz, /readyz           probes
//	GET    /metrics                    Prometheus scrape endpoint
//	GET    /ws/mic                     remote microphone (websocket source)
//	GET    /ws/events                  live message events (websocket sink)
//	GET    /api/session                current or last session
//	POST   /api/session                start a session
//	DELETE /api/session                stop the active session
//	GET    /api/messages               messages of the current or last session
//	GET    /api/sessions/{id}/messages messages of any session from the store
//	POST   /api/config/reload          re-read the config file now
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.gatherer != nil {
		mux.Handle("GET /metrics", observe.MetricsHandler(a.gatherer))
	}
	if a.mic != nil {
		mux.Handle("GET /ws/mic", a.mic)
	}
	if a.hub != nil {
		mux.Handle("GET /ws/events", a.hub)
	}
	mux.HandleFunc("GET /api/session", a.handleSession)
	mux.HandleFunc("POST /api/session", a.handleStartSession)
	mux.HandleFunc("DELETE /api/session", a.handleStopSession)
	mux.HandleFunc("GET /api/messages", a.handleMessages)
	mux.HandleFunc("GET /api/sessions/{id}/messages", a.handleHistory)
	if a.watcher != nil {
		mux.HandleFunc("POST /api/config/reload", a.handleReload)
	}
	return mux
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *App) handleSession(w http.ResponseWriter, _ *http.Request) {
	info := a.sessions.Info()
	if info.ID == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no session has been started"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleStartSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Start(r.Context())
	switch {
	case errors.Is(err, ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, provider.ErrMissingCredential):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case err != nil:
		observe.Logger(r.Context()).Error("start session", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusCreated, info)
	}
}

func (a *App) handleStopSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Stop(r.Context())
	switch {
	case errors.Is(err, ErrNoSession):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, info)
	}
}

func (a *App) handleMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Messages())
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no persistent message store configured"})
		return
	}
	msgs, err := a.history.List(r.Context(), r.PathValue("id"))
	if err != nil {
		observe.Logger(r.Context()).Error("list messages", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "listing messages failed"})
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type reloadBody struct {
	Status string `json:"status"`
}

func (a *App) handleReload(w http.ResponseWriter, _ *http.Request) {
	switch err := a.watcher.Reload(); {
	case errors.Is(err, config.ErrUnchanged):
		writeJSON(w, http.StatusOK, reloadBody{Status: "unchanged"})
	case err != nil:
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, reloadBody{Status: "reloaded"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
