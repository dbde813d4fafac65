package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"pedebot/internal/config"
	"pedebot/internal/metrics"
)

// OpenRouter calls an OpenAI-compatible chat-completion endpoint to produce
// customer replies. One best-effort attempt per message: on timeout or any
// transport/HTTP error Reply returns the configured fallback string, so the
// pipeline always answers and internal errors never reach the chat surface.
type OpenRouter struct {
	apiKey       string
	apiBase      string
	model        string
	systemPrompt string
	fallback     string
	referer      string
	title        string
	timeout      time.Duration
	client       *http.Client
	logger       *slog.Logger
}

func NewOpenRouter(cfg config.AIConfig, systemPrompt string, logger *slog.Logger) *OpenRouter {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://openrouter.ai/api/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "openai/gpt-3.5-turbo"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if systemPrompt == "" {
		systemPrompt = cfg.SystemPrompt
	}

	return &OpenRouter{
		apiKey:       cfg.APIKey,
		apiBase:      apiBase,
		model:        model,
		systemPrompt: systemPrompt,
		fallback:     cfg.FallbackReply,
		referer:      cfg.Referer,
		title:        cfg.Title,
		timeout:      timeout,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

type orRequest struct {
	Model    string      `json:"model"`
	Messages []orMessage `json:"messages"`
}

type orMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type orResponse struct {
	Choices []orChoice `json:"choices"`
}

type orChoice struct {
	Message orMessage `json:"message"`
}

// Reply produces a reply for the inbound text. Never returns an empty string.
func (o *OpenRouter) Reply(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	reply, err := o.complete(ctx, text)
	if err != nil || reply == "" {
		metrics.Fallbacks.Inc()
		o.logger.Warn("completion failed, using fallback", "err", err)
		return o.fallback
	}
	return reply
}

// complete performs a single chat-completion round trip.
func (o *OpenRouter) complete(ctx context.Context, text string) (string, error) {
	body := orRequest{
		Model: o.model,
		Messages: []orMessage{
			{Role: "system", Content: o.systemPrompt},
			{Role: "user", Content: text},
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.referer != "" {
		req.Header.Set("HTTP-Referer", o.referer)
	}
	if o.title != "" {
		req.Header.Set("X-Title", o.title)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion %d: %s", resp.StatusCode, string(respBody))
	}

	var orResp orResponse
	if err := json.NewDecoder(resp.Body).Decode(&orResp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	if len(orResp.Choices) == 0 {
		return "", nil
	}
	return orResp.Choices[0].Message.Content, nil
}

// Healthy probes the completion endpoint. Used by the doctor command.
func (o *OpenRouter) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ai endpoint not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("ai endpoint: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ai endpoint returned %d", resp.StatusCode)
	}
	return nil
}
