package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"server port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bot port too high", func(c *Config) { c.Bot.Port = 70000 }, "bot.port"},
		{"ports collide", func(c *Config) { c.Bot.Port = c.Server.Port }, "must differ"},
		{"webhook path relative", func(c *Config) { c.Server.WebhookPath = "api/webhook" }, "webhookPath"},
		{"recent messages zero", func(c *Config) { c.Bot.MaxRecentMessages = 0 }, "maxRecentMessages"},
		{"concurrency zero", func(c *Config) { c.Bot.MaxConcurrentReplies = 0 }, "maxConcurrentReplies"},
		{"ai timeout zero", func(c *Config) { c.AI.TimeoutSeconds = 0 }, "timeoutSeconds"},
		{"empty fallback", func(c *Config) { c.AI.FallbackReply = "" }, "fallbackReply"},
		{"bad log level", func(c *Config) { c.General.LogLevel = "verbose" }, "logLevel"},
		{"empty db path", func(c *Config) { c.Store.DBPath = "" }, "dbPath"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("PEDEBOT_TEST_VAR", "secret123")
	defer os.Unsetenv("PEDEBOT_TEST_VAR")

	tests := []struct {
		input string
		want  string
	}{
		{"${PEDEBOT_TEST_VAR}", "secret123"},
		{"prefix-${PEDEBOT_TEST_VAR}-suffix", "prefix-secret123-suffix"},
		{"${PEDEBOT_TEST_UNSET:-fallback}", "fallback"},
		{"${PEDEBOT_TEST_VAR:-fallback}", "secret123"},
		{"${PEDEBOT_TEST_UNSET}", "${PEDEBOT_TEST_UNSET}"},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		if got := ExpandEnvVars(tt.input); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	os.Setenv("OPENROUTER_API_KEY", "sk-test")
	os.Setenv("PORT", "9090")
	defer os.Unsetenv("OPENROUTER_API_KEY")
	defer os.Unsetenv("PORT")

	cfg := Defaults()
	ApplyEnv(cfg)

	if cfg.AI.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.AI.APIKey)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Defaults()
	cfg.Server.Port = 8181
	cfg.WhatsApp.VerifyToken = "tok"
	cfg.AI.FallbackReply = "desculpe"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want 8181", loaded.Server.Port)
	}
	if loaded.WhatsApp.VerifyToken != "tok" {
		t.Errorf("VerifyToken = %q, want tok", loaded.WhatsApp.VerifyToken)
	}
	if loaded.AI.FallbackReply != "desculpe" {
		t.Errorf("FallbackReply = %q", loaded.AI.FallbackReply)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadExpandsEnvInFile(t *testing.T) {
	os.Setenv("PEDEBOT_TEST_TOKEN", "hunter2")
	defer os.Unsetenv("PEDEBOT_TEST_TOKEN")

	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"whatsapp": {"verifyToken": "${PEDEBOT_TEST_TOKEN}"}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WhatsApp.VerifyToken != "hunter2" {
		t.Errorf("VerifyToken = %q, want hunter2", cfg.WhatsApp.VerifyToken)
	}
}
