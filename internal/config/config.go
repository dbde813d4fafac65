package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for PedeBot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Bot      BotConfig      `json:"bot"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	AI       AIConfig       `json:"ai"`
	Store    StoreConfig    `json:"store"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // "debug" | "info" | "warn" | "error"
}

// ServerConfig configures the webhook gateway listener.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
}

// BotConfig configures the companion surface and the reply pipeline.
type BotConfig struct {
	Host                 string `json:"host"`
	Port                 int    `json:"port"`
	MaxRecentMessages    int    `json:"maxRecentMessages"`    // bounded in-memory list served by GET /api/whatsapp/messages
	MaxConcurrentReplies int    `json:"maxConcurrentReplies"` // parallel respond→send tasks
}

// WhatsAppConfig configures the provider session.
type WhatsAppConfig struct {
	VerifyToken string `json:"verifyToken"`
	SocketURL   string `json:"socketUrl"`
	SessionDir  string `json:"sessionDir"`  // credential storage, survives restarts
	SessionName string `json:"sessionName"` // key within the credential store
}

// AIConfig configures the completion endpoint used by the auto-responder.
type AIConfig struct {
	APIKey         string `json:"apiKey"`
	APIBase        string `json:"apiBase"`
	Model          string `json:"model"`
	SystemPrompt   string `json:"systemPrompt"`
	FallbackReply  string `json:"fallbackReply"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Referer        string `json:"referer,omitempty"` // HTTP-Referer attribution header
	Title          string `json:"title,omitempty"`   // X-Title attribution header
	MenuPath       string `json:"menuPath,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus-format metrics endpoint,
// mounted on the companion server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.pedebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pedebot"
	}
	return filepath.Join(home, ".pedebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)

	cfg.Store.DBPath = expandPath(cfg.Store.DBPath)
	cfg.WhatsApp.SessionDir = expandPath(cfg.WhatsApp.SessionDir)
	cfg.AI.MenuPath = expandPath(cfg.AI.MenuPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// ApplyEnv overlays the well-known environment variables onto cfg.
// These are the variables the original deployment consumed directly.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("WHATSAPP_VERIFY_TOKEN"); v != "" {
		cfg.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("PEDEBOT_SESSION_DIR"); v != "" {
		cfg.WhatsApp.SessionDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("WHATSAPP_BOT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Bot.Port = p
		}
	}
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Bot.Port < 1 || cfg.Bot.Port > 65535 {
		errs = append(errs, "bot.port must be between 1 and 65535")
	}
	if cfg.Server.Port == cfg.Bot.Port {
		errs = append(errs, "server.port and bot.port must differ")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if cfg.Bot.MaxRecentMessages < 1 || cfg.Bot.MaxRecentMessages > 10000 {
		errs = append(errs, "bot.maxRecentMessages must be between 1 and 10000")
	}
	if cfg.Bot.MaxConcurrentReplies < 1 || cfg.Bot.MaxConcurrentReplies > 100 {
		errs = append(errs, "bot.maxConcurrentReplies must be between 1 and 100")
	}
	if cfg.AI.TimeoutSeconds < 1 || cfg.AI.TimeoutSeconds > 300 {
		errs = append(errs, "ai.timeoutSeconds must be between 1 and 300")
	}
	if cfg.AI.FallbackReply == "" {
		errs = append(errs, "ai.fallbackReply must not be empty")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of debug, info, warn, error")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
