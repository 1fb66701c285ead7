package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for relaybot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Telegram  TelegramConfig  `json:"telegram"`
	Gemini    GeminiConfig    `json:"gemini"`
	Documents DocumentsConfig `json:"documents"`
	OCR       OCRConfig       `json:"ocr"`
	Media     MediaConfig     `json:"media"`
	Web       WebConfig       `json:"web"`
	Store     StoreConfig     `json:"store"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"`
	Language              string `json:"language"`               // "en" | "ar"
	MessagesFile          string `json:"messagesFile,omitempty"` // optional YAML overriding reply texts
	RequireSecrets        bool   `json:"requireSecrets"`         // exit at start when a secret is missing
	MaxConcurrentUpdates  int    `json:"maxConcurrentUpdates"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"` // deadline for one update
	CallTimeoutSeconds    int    `json:"callTimeoutSeconds"`    // deadline for one outbound call
	TempDir               string `json:"tempDir,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	Mode        string `json:"mode"` // "polling" | "webhook"
	WebhookPath string `json:"webhookPath"`
	WebhookURL  string `json:"webhookUrl,omitempty"` // public URL registered with setWebhook
	// Registered with setWebhook and required on every webhook delivery.
	// 1-256 characters of A-Z a-z 0-9 _ -.
	WebhookSecret string `json:"webhookSecret,omitempty"`
	APIEndpoint   string `json:"apiEndpoint,omitempty"`
}

type GeminiConfig struct {
	APIKey          string `json:"apiKey"`
	Model           string `json:"model"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
}

type DocumentsConfig struct {
	Mode          string `json:"mode"` // "ai" | "upload" | "outline"
	ChunkSize     int    `json:"chunkSize"`
	OutlineWindow int    `json:"outlineWindow"`
	MinTextLength int    `json:"minTextLength"`
	MaxFileBytes  int64  `json:"maxFileBytes"`
	Prompt        string `json:"prompt"`
}

type OCRConfig struct {
	Enabled   bool     `json:"enabled"`
	APIBase   string   `json:"apiBase"`
	APIKey    string   `json:"apiKey,omitempty"`
	Languages []string `json:"languages"`
}

type MediaConfig struct {
	YouTube      YouTubeConfig `json:"youtube"`
	TikTok       TikTokConfig  `json:"tiktok"`
	MaxFileBytes int64         `json:"maxFileBytes"`
}

type YouTubeConfig struct {
	Enabled bool `json:"enabled"`
}

type TikTokConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Mode     string `json:"mode"` // "passthrough" | "fetch"
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus endpoint on the web server.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the JSON config at path, applies the environment overlay and
// validates the result. A missing file yields the defaults plus the
// environment, so a bare BOT_TOKEN deployment works without a config file.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.TempDir = ExpandPath(cfg.General.TempDir)
	cfg.General.MessagesFile = ExpandPath(cfg.General.MessagesFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var (
	envVarPattern        = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)
	webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)
)

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
			return match
		}
		return val
	})
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
	switch cfg.General.Language {
	case "en", "ar":
	default:
		errs = append(errs, "general.language must be one of: en, ar")
	}
	if cfg.General.MaxConcurrentUpdates < 1 || cfg.General.MaxConcurrentUpdates > 1000 {
		errs = append(errs, "general.maxConcurrentUpdates must be between 1 and 1000")
	}
	if cfg.General.RequestTimeoutSeconds < 1 {
		errs = append(errs, "general.requestTimeoutSeconds must be >= 1")
	}
	if cfg.General.CallTimeoutSeconds < 1 {
		errs = append(errs, "general.callTimeoutSeconds must be >= 1")
	}
	if cfg.General.CallTimeoutSeconds > cfg.General.RequestTimeoutSeconds {
		errs = append(errs, "general.callTimeoutSeconds must not exceed general.requestTimeoutSeconds")
	}

	switch cfg.Telegram.Mode {
	case "polling", "webhook":
	default:
		errs = append(errs, "telegram.mode must be one of: polling, webhook")
	}
	if !strings.HasPrefix(cfg.Telegram.WebhookPath, "/") {
		errs = append(errs, "telegram.webhookPath must start with /")
	}
	if cfg.Telegram.Mode == "webhook" && !cfg.Web.Enabled {
		errs = append(errs, "telegram.mode=webhook requires web.enabled")
	}
	if s := cfg.Telegram.WebhookSecret; s != "" && !webhookSecretPattern.MatchString(s) {
		errs = append(errs, "telegram.webhookSecret must be 1-256 characters of A-Z, a-z, 0-9, _ and -")
	}

	if cfg.Gemini.RateLimitPerMin < 0 {
		errs = append(errs, "gemini.rateLimitPerMinute must be >= 0")
	}

	switch cfg.Documents.Mode {
	case "ai", "upload", "outline":
	default:
		errs = append(errs, "documents.mode must be one of: ai, upload, outline")
	}
	if cfg.Documents.ChunkSize < 100 || cfg.Documents.ChunkSize > 4096 {
		errs = append(errs, "documents.chunkSize must be between 100 and 4096")
	}
	if cfg.Documents.OutlineWindow < 200 {
		errs = append(errs, "documents.outlineWindow must be >= 200")
	}
	if cfg.Documents.MinTextLength < 0 {
		errs = append(errs, "documents.minTextLength must be >= 0")
	}
	if cfg.Documents.MaxFileBytes < 1 {
		errs = append(errs, "documents.maxFileBytes must be >= 1")
	}

	if cfg.OCR.Enabled && cfg.OCR.APIBase == "" {
		errs = append(errs, "ocr.apiBase is required when ocr.enabled")
	}

	switch cfg.Media.TikTok.Mode {
	case "passthrough", "fetch":
	default:
		errs = append(errs, "media.tiktok.mode must be one of: passthrough, fetch")
	}
	if cfg.Media.TikTok.Enabled && cfg.Media.TikTok.Endpoint == "" {
		errs = append(errs, "media.tiktok.endpoint is required when media.tiktok.enabled")
	}
	if cfg.Media.MaxFileBytes < 1 {
		errs = append(errs, "media.maxFileBytes must be >= 1")
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
