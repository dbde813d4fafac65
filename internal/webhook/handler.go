package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"pedebot/internal/config"
	"pedebot/internal/domain"
	"pedebot/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB

// Gateway is the HTTP-facing webhook entry point. It validates inbound
// provider events, persists the raw payload before acknowledging, extracts
// canonical messages, and hands them to the reply pipeline.
type Gateway struct {
	cfg    config.ServerConfig
	verify string
	store  domain.EventStore
	bus    domain.Bus
	logger *slog.Logger
}

func NewGateway(cfg config.ServerConfig, verifyToken string, store domain.EventStore, bus domain.Bus, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		verify: verifyToken,
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// Handler returns the gateway mux with CORS applied to every response.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.cfg.WebhookPath, g.handleWebhook)
	mux.HandleFunc("/healthz", g.handleHealth)
	return corsMiddleware(mux)
}

// corsMiddleware applies the CORS headers the dashboard expects and
// short-circuits OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleVerification(w, r)
	case http.MethodPost:
		g.handleIncoming(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
	}
}

// handleVerification handles the provider's webhook verification challenge.
// The challenge is echoed verbatim on a match; the configured token is never
// written to the response.
func (g *Gateway) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == g.verify {
		g.logger.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}

	g.logger.Warn("webhook verification failed", "mode", mode)
	writeJSON(w, http.StatusForbidden, map[string]any{"error": "Forbidden"})
}

// handleIncoming processes a provider event POST. The raw payload is stored
// before any extraction so a crash after the ack never loses it.
func (g *Gateway) handleIncoming(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}
	defer r.Body.Close()

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Object != businessObject {
		metrics.EventsInvalid.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	ctx := r.Context()

	eventID, err := g.store.SaveEvent(ctx, payload.Object, body)
	if err != nil {
		g.logger.Error("event store unavailable", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}
	metrics.EventsReceived.Inc()

	msgs := extractMessages(&payload, eventID)
	for i := range msgs {
		inserted, err := g.store.SaveMessage(ctx, &msgs[i])
		if err != nil {
			g.logger.Error("message store failed", "err", err, "id", msgs[i].ID)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
			return
		}
		if !inserted {
			metrics.DuplicatesSkipped.Inc()
			g.logger.Info("duplicate delivery skipped", "id", msgs[i].ID)
			continue
		}
		g.logger.Info("message received",
			"id", msgs[i].ID, "from", msgs[i].From, "type", msgs[i].Type)
		g.bus.Publish(domain.InboundMessage{Source: "webhook", Message: msgs[i]})
	}

	if err := g.store.MarkEventProcessed(ctx, eventID); err != nil {
		g.logger.Warn("mark event processed failed", "err", err, "event", eventID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
