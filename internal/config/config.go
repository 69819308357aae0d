package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for aichat.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Chat      ChatConfig      `json:"chat" yaml:"chat"`
	Web       WebConfig       `json:"web" yaml:"web"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	DevServer DevServerConfig `json:"devserver" yaml:"devserver"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// BackendConfig describes the chat backend the front-ends talk to.
type BackendConfig struct {
	APIURL                string `json:"apiUrl" yaml:"apiUrl"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"` // 0 = no timeout
}

type ChatConfig struct {
	Greeting         string `json:"greeting" yaml:"greeting"`
	MaxMessageLength int    `json:"maxMessageLength" yaml:"maxMessageLength"`
}

type WebConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// AuditConfig controls the local send-outcome log. Message text is never stored.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

// MetricsConfig configures the Prometheus endpoint on the web and dev servers.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DevServerConfig configures the stand-in backend used for local development.
type DevServerConfig struct {
	Host               string       `json:"host" yaml:"host"`
	Port               int          `json:"port" yaml:"port"`
	AllowedOrigins     []string     `json:"allowedOrigins" yaml:"allowedOrigins"`
	MaxMessageLength   int          `json:"maxMessageLength" yaml:"maxMessageLength"`
	RateLimitPerMinute int          `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"` // 0 = unlimited
	Burst              int          `json:"burst" yaml:"burst"`
	Responder          string       `json:"responder" yaml:"responder"` // "echo" | "structured" | "openai"
	OpenAI             OpenAIConfig `json:"openai" yaml:"openai"`
}

type OpenAIConfig struct {
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model   string `json:"model" yaml:"model"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.aichat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aichat"
	}
	return filepath.Join(home, ".aichat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, or falls back to Template expanded against the
// environment when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(Template())
	if err != nil {
		return nil, err
	}
	cfg = Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot expand default config: %w", err)
	}
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment without overriding
// variables that are already set. With no arguments it reads ./.env. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("cannot load %s: %w", p, err)
		}
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty,
// and ${VAR:-} expands to the empty string.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := strings.Contains(match, ":-")

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Backend.APIURL == "" {
		errs = append(errs, "backend.apiUrl is required")
	} else if u, err := url.Parse(cfg.Backend.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("backend.apiUrl must be an http(s) URL, got %q", cfg.Backend.APIURL))
	}
	if cfg.Backend.RequestTimeoutSeconds < 0 {
		errs = append(errs, "backend.requestTimeoutSeconds must be >= 0")
	}

	if cfg.Chat.MaxMessageLength < 1 {
		errs = append(errs, "chat.maxMessageLength must be >= 1")
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	ds := cfg.DevServer
	if ds.Port < 0 || ds.Port > 65535 {
		errs = append(errs, "devserver.port must be between 0 and 65535")
	}
	if ds.MaxMessageLength < 1 {
		errs = append(errs, "devserver.maxMessageLength must be >= 1")
	}
	if ds.RateLimitPerMinute < 0 {
		errs = append(errs, "devserver.rateLimitPerMinute must be >= 0")
	}
	if ds.RateLimitPerMinute > 0 && ds.Burst < 1 {
		errs = append(errs, "devserver.burst must be >= 1 when rate limiting is enabled")
	}
	switch ds.Responder {
	case "echo", "structured":
	case "openai":
		if ds.OpenAI.Model == "" {
			errs = append(errs, "devserver.openai.model is required for the openai responder")
		}
	default:
		errs = append(errs, "devserver.responder must be one of: echo, structured, openai")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
