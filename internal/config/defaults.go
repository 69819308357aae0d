package config

const DefaultAPIURL = "http://localhost:8000"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Backend: BackendConfig{
			APIURL:                DefaultAPIURL,
			RequestTimeoutSeconds: 0,
		},
		Chat: ChatConfig{
			Greeting:         "Hi 👋 I am your AI assistant.",
			MaxMessageLength: 500,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  "~/.aichat/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		DevServer: DevServerConfig{
			Host:               "127.0.0.1",
			Port:               8000,
			AllowedOrigins:     []string{"http://localhost:*", "http://127.0.0.1:*"},
			MaxMessageLength:   500,
			RateLimitPerMinute: 30,
			Burst:              5,
			Responder:          "structured",
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
		},
	}
}

// Template is what `aichat init` writes: the defaults with secrets and the
// backend URL left as environment references.
func Template() *Config {
	cfg := Defaults()
	cfg.Backend.APIURL = "${AICHAT_API_URL:-" + DefaultAPIURL + "}"
	cfg.DevServer.OpenAI.APIKey = "${OPENAI_API_KEY:-}"
	cfg.DevServer.OpenAI.APIBase = "${OPENAI_API_BASE:-}"
	return cfg
}
