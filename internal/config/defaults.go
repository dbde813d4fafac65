package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/api/webhook",
		},
		Bot: BotConfig{
			Host:                 "0.0.0.0",
			Port:                 3333,
			MaxRecentMessages:    500,
			MaxConcurrentReplies: 5,
		},
		WhatsApp: WhatsAppConfig{
			SocketURL:   "wss://web.whatsapp.com/ws/chat",
			SessionDir:  "~/.pedebot/session",
			SessionName: "default",
		},
		AI: AIConfig{
			APIBase:        "https://openrouter.ai/api/v1",
			Model:          "openai/gpt-3.5-turbo",
			SystemPrompt:   "Você é um atendente virtual de restaurante, responda de forma simpática e objetiva.",
			FallbackReply:  "Desculpe, não consegui te responder agora. Pode tentar de novo em instantes?",
			TimeoutSeconds: 30,
			Title:          "PedeAiBot",
		},
		Store: StoreConfig{
			DBPath: "~/.pedebot/pedebot.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
