package responder

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"pedebot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(apiBase string) config.AIConfig {
	return config.AIConfig{
		APIKey:         "sk-test",
		APIBase:        apiBase,
		Model:          "openai/gpt-3.5-turbo",
		SystemPrompt:   "Você é um atendente virtual de restaurante.",
		FallbackReply:  "Desculpe, não consegui responder agora.",
		TimeoutSeconds: 2,
		Referer:        "https://pedebot.example",
		Title:          "PedeAiBot",
	}
}

func completionResponse(content string) string {
	resp := orResponse{Choices: []orChoice{{Message: orMessage{Role: "assistant", Content: content}}}}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestReplySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, completionResponse("Temos pizza de calabresa por R$ 35,00!"))
	}))
	defer srv.Close()

	o := NewOpenRouter(testConfig(srv.URL), "", testLogger())
	got := o.Reply(context.Background(), "tem pizza?")
	if got != "Temos pizza de calabresa por R$ 35,00!" {
		t.Errorf("Reply = %q", got)
	}
}

func TestReplyRequestShape(t *testing.T) {
	var (
		gotAuth    string
		gotReferer string
		gotTitle   string
		gotBody    orRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, completionResponse("ok"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	o := NewOpenRouter(cfg, "prompt com cardápio", testLogger())
	o.Reply(context.Background(), "oi")

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReferer != "https://pedebot.example" || gotTitle != "PedeAiBot" {
		t.Errorf("attribution headers = %q / %q", gotReferer, gotTitle)
	}
	if gotBody.Model != "openai/gpt-3.5-turbo" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("sent %d messages, want system + user", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "prompt com cardápio" {
		t.Errorf("system message = %+v", gotBody.Messages[0])
	}
	if gotBody.Messages[1].Role != "user" || gotBody.Messages[1].Content != "oi" {
		t.Errorf("user message = %+v", gotBody.Messages[1])
	}
}

func TestReplyFallbackOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	o := NewOpenRouter(cfg, "", testLogger())
	got := o.Reply(context.Background(), "oi")
	if got != cfg.FallbackReply {
		t.Errorf("Reply = %q, want fallback", got)
	}
}

func TestReplyFallbackOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	o := NewOpenRouter(cfg, "", testLogger())
	got := o.Reply(context.Background(), "oi")
	if got != cfg.FallbackReply {
		t.Errorf("Reply = %q, want fallback", got)
	}
}

func TestReplyFallbackOnUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	cfg := testConfig(srv.URL)
	o := NewOpenRouter(cfg, "", testLogger())
	got := o.Reply(context.Background(), "oi")
	if got == "" {
		t.Fatal("Reply must never be empty")
	}
	if got != cfg.FallbackReply {
		t.Errorf("Reply = %q, want fallback", got)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"data": []}`)
	}))
	defer srv.Close()

	o := NewOpenRouter(testConfig(srv.URL), "", testLogger())
	if err := o.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}
}

func TestHealthyBadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenRouter(testConfig(srv.URL), "", testLogger())
	if err := o.Healthy(context.Background()); err == nil {
		t.Error("expected error for 401")
	}
}
