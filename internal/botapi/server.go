// Package botapi exposes the companion process surface: received-message
// listing and operator-driven sends over the live session.
package botapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"pedebot/internal/config"
	"pedebot/internal/domain"
	"pedebot/internal/metrics"
)

// API handles the /api/whatsapp/* endpoints.
type API struct {
	recent *RecentStore
	sender domain.Sender
	state  func() string // session state, for the status endpoint
	logger *slog.Logger
}

func NewAPI(recent *RecentStore, sender domain.Sender, state func() string, logger *slog.Logger) *API {
	return &API{
		recent: recent,
		sender: sender,
		state:  state,
		logger: logger,
	}
}

// Handler returns the companion mux. Metrics are mounted here when enabled.
func (a *API) Handler(metricsCfg config.MetricsConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/whatsapp/messages", a.handleMessages)
	mux.HandleFunc("POST /api/whatsapp/send", a.handleSend)
	mux.HandleFunc("GET /api/whatsapp/status", a.handleStatus)

	if metricsCfg.Enabled {
		endpoint := metricsCfg.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		mux.HandleFunc("GET "+endpoint, metrics.Collector.Handler())
	}

	return mux
}

// handleMessages lists the received messages held by the bounded store.
func (a *API) handleMessages(w http.ResponseWriter, _ *http.Request) {
	msgs := a.recent.List()
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// handleSend delivers an operator message through the session.
func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.To == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "to and text are required"})
		return
	}

	if err := a.sender.Send(r.Context(), req.To, req.Text); err != nil {
		a.logger.Error("manual send failed", "to", req.To, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"state": a.state()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
