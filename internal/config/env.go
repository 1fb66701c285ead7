package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingSecret is returned by CheckSecrets when a credential is empty.
var ErrMissingSecret = errors.New("missing secret")

// Env is the process environment overlay. Set variables win over the file.
type Env struct {
	BotToken       string `envconfig:"BOT_TOKEN"`
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	OCRAPIKey      string `envconfig:"OCR_API_KEY"`
	Port           int    `envconfig:"PORT"`
	RequireSecrets *bool  `envconfig:"RELAYBOT_REQUIRE_SECRETS"`
	Mode           string `envconfig:"RELAYBOT_MODE"`
	WebhookURL     string `envconfig:"WEBHOOK_URL"`
	WebhookSecret  string `envconfig:"WEBHOOK_SECRET"`
	Language       string `envconfig:"RELAYBOT_LANGUAGE"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays the process environment onto cfg.
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return err
	}
	if env.BotToken != "" {
		cfg.Telegram.Token = env.BotToken
	}
	if env.GeminiAPIKey != "" {
		cfg.Gemini.APIKey = env.GeminiAPIKey
	}
	if env.OCRAPIKey != "" {
		cfg.OCR.APIKey = env.OCRAPIKey
	}
	if env.Port != 0 {
		cfg.Web.Port = env.Port
	}
	if env.RequireSecrets != nil {
		cfg.General.RequireSecrets = *env.RequireSecrets
	}
	if env.Mode != "" {
		cfg.Telegram.Mode = env.Mode
	}
	if env.WebhookURL != "" {
		cfg.Telegram.WebhookURL = env.WebhookURL
	}
	if env.WebhookSecret != "" {
		cfg.Telegram.WebhookSecret = env.WebhookSecret
	}
	if env.Language != "" {
		cfg.General.Language = env.Language
	}
	return nil
}

// CheckSecrets reports every credential the enabled features need but that
// is empty. The error wraps ErrMissingSecret.
func CheckSecrets(cfg *Config) error {
	var missing []string
	if cfg.Telegram.Token == "" {
		missing = append(missing, "telegram.token (BOT_TOKEN)")
	}
	if cfg.Gemini.APIKey == "" {
		missing = append(missing, "gemini.apiKey (GEMINI_API_KEY)")
	}
	if cfg.OCR.Enabled && cfg.OCR.APIKey == "" {
		missing = append(missing, "ocr.apiKey (OCR_API_KEY)")
	}
	if cfg.Telegram.Mode == "webhook" && cfg.Telegram.WebhookSecret == "" {
		missing = append(missing, "telegram.webhookSecret (WEBHOOK_SECRET)")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
}
