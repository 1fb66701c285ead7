package config

// DefaultDocumentPrompt instructs the model when a PDF is summarized.
const DefaultDocumentPrompt = `You are a smart tutor and study assistant.
Read the document below and answer in the same language as the document:
1. A short summary of the whole document.
2. The main ideas, each explained simply.
3. Key terms with short definitions.
4. Three review questions with their answers.`

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			Language:              "en",
			RequireSecrets:        true,
			MaxConcurrentUpdates:  16,
			RequestTimeoutSeconds: 300,
			CallTimeoutSeconds:    120,
		},
		Telegram: TelegramConfig{
			Mode:        "polling",
			WebhookPath: "/webhook",
		},
		Gemini: GeminiConfig{
			Model:           "gemini-2.5-flash",
			RateLimitPerMin: 30,
		},
		Documents: DocumentsConfig{
			Mode:          "ai",
			ChunkSize:     4000,
			OutlineWindow: 3000,
			MinTextLength: 10,
			MaxFileBytes:  50 * 1024 * 1024,
			Prompt:        DefaultDocumentPrompt,
		},
		OCR: OCRConfig{
			Enabled:   false,
			APIBase:   "https://api.ocr.space/parse/image",
			Languages: []string{"ara", "eng"},
		},
		Media: MediaConfig{
			YouTube: YouTubeConfig{Enabled: true},
			TikTok: TikTokConfig{
				Enabled:  true,
				Endpoint: "https://api.tiktok.download/v1/download",
				Mode:     "passthrough",
			},
			MaxFileBytes: 50 * 1024 * 1024,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Store: StoreConfig{
			DBPath: "~/.relaybot/users.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
