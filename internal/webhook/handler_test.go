package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pedebot/internal/config"
	"pedebot/internal/domain"
)

type fakeStore struct {
	mu        sync.Mutex
	events    map[string][]byte
	msgs      map[string]domain.Message
	processed map[string]bool
	eventDone map[string]bool
	failSave  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:    map[string][]byte{},
		msgs:      map[string]domain.Message{},
		processed: map[string]bool{},
		eventDone: map[string]bool{},
	}
}

func (f *fakeStore) SaveEvent(_ context.Context, object string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return "", errors.New("disk full")
	}
	id := "evt-" + object
	f.events[id] = payload
	return id, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *domain.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.msgs[msg.ID]; dup {
		return false, nil
	}
	f.msgs[msg.ID] = *msg
	return true, nil
}

func (f *fakeStore) IsProcessed(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[id], nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[id] = true
	return nil
}

func (f *fakeStore) Unprocessed(context.Context) ([]domain.Message, error) { return nil, nil }

func (f *fakeStore) MarkEventProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventDone[id] = true
	return nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []domain.InboundMessage
}

func (b *fakeBus) Publish(msg domain.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
}

func (b *fakeBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (b *fakeBus) Close()                                  {}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func newTestGateway(store *fakeStore, bus *fakeBus) http.Handler {
	cfg := config.ServerConfig{WebhookPath: "/api/webhook"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(cfg, "verify-me", store, bus, logger).Handler()
}

const samplePayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "entry-1",
		"changes": [{
			"field": "messages",
			"value": {
				"messages": [
					{"id": "wamid.1", "from": "5511999", "text": "quero uma pizza", "type": "message", "timestamp": 1700000000},
					{"id": "wamid.2", "from": "5511888", "type": "unknown", "timestamp": 1700000001}
				]
			}
		}]
	}]
}`

func TestVerificationChallenge(t *testing.T) {
	h := newTestGateway(newFakeStore(), &fakeBus{})

	req := httptest.NewRequest("GET", "/api/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "12345" {
		t.Errorf("challenge echo = %q, want 12345", got)
	}
}

func TestVerificationRejected(t *testing.T) {
	h := newTestGateway(newFakeStore(), &fakeBus{})

	tests := []string{
		"/api/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1",
		"/api/webhook?hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1",
		"/api/webhook",
	}
	for _, url := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", url, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "verify-me") {
			t.Errorf("%s: response leaks the verify token", url)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestGateway(newFakeStore(), &fakeBus{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/webhook", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestIncomingStoresAndPublishes(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	h := newTestGateway(store, bus)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhook", strings.NewReader(samplePayload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not json: %v", err)
	}
	if resp["success"] != true {
		t.Errorf("response = %v, want success true", resp)
	}

	if len(store.events) != 1 {
		t.Fatalf("stored %d raw events, want 1", len(store.events))
	}
	if len(store.msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(store.msgs))
	}

	msg := store.msgs["wamid.1"]
	if msg.From != "5511999" || !msg.HasText() || *msg.Text != "quero uma pizza" {
		t.Errorf("wamid.1 extracted wrong: %+v", msg)
	}
	if msg.EventID == "" {
		t.Error("message not linked to its raw event")
	}
	if store.msgs["wamid.2"].Type != domain.TypeUnknown {
		t.Errorf("unrecognized type should map to unknown, got %q", store.msgs["wamid.2"].Type)
	}

	if bus.count() != 2 {
		t.Errorf("published %d messages, want 2", bus.count())
	}
	if !store.eventDone["evt-whatsapp_business_account"] {
		t.Error("raw event not marked processed")
	}
}

func TestIncomingDuplicateNotRepublished(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	h := newTestGateway(store, bus)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhook", strings.NewReader(samplePayload)))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rec.Code)
		}
	}

	if len(store.msgs) != 2 {
		t.Errorf("stored %d messages, want 2 after redelivery", len(store.msgs))
	}
	if bus.count() != 2 {
		t.Errorf("published %d messages, want 2 (duplicates skipped)", bus.count())
	}
}

func TestIncomingRejectsWrongObject(t *testing.T) {
	store := newFakeStore()
	h := newTestGateway(store, &fakeBus{})

	rec := httptest.NewRecorder()
	body := `{"object": "instagram", "entry": []}`
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(store.events) != 0 {
		t.Error("rejected payload must not be stored")
	}
}

func TestIncomingRejectsMalformedJSON(t *testing.T) {
	h := newTestGateway(newFakeStore(), &fakeBus{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhook", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIncomingStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failSave = true
	bus := &fakeBus{}
	h := newTestGateway(store, bus)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhook", strings.NewReader(samplePayload)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if bus.count() != 0 {
		t.Error("nothing may be published when the raw event was not persisted")
	}
}

func TestReceiptOnlyPayloadAccepted(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	h := newTestGateway(store, bus)

	body := `{"object": "whatsapp_business_account", "entry": [{"id": "e", "changes": [{"field": "statuses", "value": {}}]}]}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a receipts-only event", rec.Code)
	}
	if len(store.events) != 1 {
		t.Error("raw event should still be stored")
	}
	if bus.count() != 0 {
		t.Error("no messages to publish")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestGateway(newFakeStore(), &fakeBus{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/api/webhook", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestGateway(newFakeStore(), &fakeBus{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
