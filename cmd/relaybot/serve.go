package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaybot/internal/bot"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/dispatch"
	"relaybot/internal/domain"
	"relaybot/internal/extract"
	"relaybot/internal/handler"
	"relaybot/internal/i18n"
	"relaybot/internal/media"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
	"relaybot/internal/store"
	"relaybot/internal/tempstore"

	"github.com/spf13/cobra"
)

const (
	shutdownTimeout     = 10 * time.Second
	tempSweepInterval   = time.Hour
	streamHeaderTimeout = 30 * time.Second

	// Long polling holds getUpdates open for 30s.
	telegramMinTimeout = time.Minute
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (polling or webhook) and the HTTP server",
		Long: `Starts the bot in the configured telegram.mode. In polling mode the bot
long-polls Telegram; in webhook mode Telegram posts updates to the HTTP
server. The HTTP server also serves /process, /users, /count, health checks
and metrics. Press Ctrl+C to stop.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = log

	if err := config.CheckSecrets(cfg); err != nil {
		if cfg.General.RequireSecrets {
			logger.Error("refusing to start", "err", err)
			return err
		}
		logger.Warn("secret check disabled, continuing with empty credentials; calls that need them will fail", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := i18n.Load(cfg.General.Language, cfg.General.MessagesFile)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	temp, err := tempstore.New(tempstore.Config{
		Dir:      cfg.General.TempDir,
		MaxBytes: max(cfg.Documents.MaxFileBytes, cfg.Media.MaxFileBytes),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	go sweepTemp(ctx, temp)

	users, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	defer users.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(temp.Active)
	}

	callTimeout := time.Duration(cfg.General.CallTimeoutSeconds) * time.Second
	httpClient := provider.SharedHTTPClient(callTimeout)
	streamClient := provider.StreamingHTTPClient(streamHeaderTimeout)

	gemini, err := provider.NewGemini(ctx, provider.GeminiConfig{
		APIKey:          cfg.Gemini.APIKey,
		Model:           cfg.Gemini.Model,
		RateLimitPerMin: cfg.Gemini.RateLimitPerMin,
		Client:          httpClient,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}

	var ocr domain.OCR
	if cfg.OCR.Enabled {
		ocr = extract.NewOCRClient(extract.OCRConfig{
			APIBase:   cfg.OCR.APIBase,
			APIKey:    cfg.OCR.APIKey,
			Languages: cfg.OCR.Languages,
			Client:    httpClient,
			Logger:    logger,
		})
	}

	var youtube handler.AudioSource
	if cfg.Media.YouTube.Enabled {
		youtube = media.NewYouTube(media.YouTubeConfig{
			Client:   streamClient,
			MaxBytes: cfg.Media.MaxFileBytes,
			Logger:   logger,
		})
	}
	var tiktok handler.VideoSource
	if cfg.Media.TikTok.Enabled {
		tiktok = media.NewTikTok(media.TikTokConfig{
			Endpoint: cfg.Media.TikTok.Endpoint,
			Mode:     cfg.Media.TikTok.Mode,
			Client:   streamClient,
			Logger:   logger,
		})
	}

	tg, err := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Client:      provider.SharedHTTPClient(max(callTimeout, telegramMinTimeout)),
		Lenient:     !cfg.General.RequireSecrets,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	processor := handler.NewProcessor(handler.ProcessorConfig{
		Temp:          temp,
		Client:        streamClient,
		Extractor:     extract.NewPDF(extract.PDFConfig{Logger: logger}),
		OCR:           ocr,
		AI:            gemini,
		Catalog:       catalog,
		Mode:          cfg.Documents.Mode,
		Prompt:        cfg.Documents.Prompt,
		ChunkSize:     cfg.Documents.ChunkSize,
		OutlineWindow: cfg.Documents.OutlineWindow,
		MinTextLength: cfg.Documents.MinTextLength,
		MaxBytes:      cfg.Documents.MaxFileBytes,
		CallTimeout:   callTimeout,
		Metrics:       m,
		Logger:        logger,
	})

	// getFile on the public Bot API stops at 20 MB; /process downloads
	// from arbitrary URLs and keeps the configured cap.
	chatDocumentMax := cfg.Documents.MaxFileBytes
	if channel.IsPublicAPI(cfg.Telegram.APIEndpoint) {
		chatDocumentMax = min(chatDocumentMax, channel.PublicDownloadLimit)
	}

	handlers := handler.New(handler.Config{
		Messenger:        tg,
		Catalog:          catalog,
		Temp:             temp,
		Processor:        processor,
		YouTube:          youtube,
		TikTok:           tiktok,
		AI:               gemini,
		Users:            users,
		CallTimeout:      callTimeout,
		ChunkSize:        cfg.Documents.ChunkSize,
		MediaMaxBytes:    cfg.Media.MaxFileBytes,
		DocumentMaxBytes: chatDocumentMax,
		Metrics:          m,
		Logger:           logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Rules:     dispatch.DefaultRules(handlers),
		Messenger: tg,
		Reply:     handlers.Reply,
		Metrics:   m,
		Logger:    logger,
	})

	runner := bot.NewRunner(bot.RunnerConfig{
		Dispatcher:     dispatcher,
		Activity:       users,
		MaxConcurrent:  cfg.General.MaxConcurrentUpdates,
		RequestTimeout: time.Duration(cfg.General.RequestTimeoutSeconds) * time.Second,
		Metrics:        m,
		Logger:         logger,
	})

	errCh := make(chan error, 2)
	webhookMode := cfg.Telegram.Mode == "webhook"

	if cfg.Web.Enabled {
		webCfg := channel.WebhookConfig{
			Host:        cfg.Web.Host,
			Port:        cfg.Web.Port,
			Path:        cfg.Telegram.WebhookPath,
			Documents:   processor,
			Users:       users,
			Catalog:     catalog,
			Reply:       handlers.Reply,
			Metrics:     m,
			MetricsPath: cfg.Metrics.Endpoint,
			Logger:      logger,
		}
		if webhookMode {
			webCfg.Updates = runner
			webCfg.Secret = cfg.Telegram.WebhookSecret
		}
		web := channel.NewWebhook(webCfg)
		go func() {
			if err := web.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	if webhookMode {
		if cfg.Telegram.WebhookURL != "" {
			url := strings.TrimRight(cfg.Telegram.WebhookURL, "/") + cfg.Telegram.WebhookPath
			regCtx, cancel := context.WithTimeout(ctx, callTimeout)
			err := tg.SetWebhook(regCtx, url, cfg.Telegram.WebhookSecret)
			cancel()
			if err != nil {
				logger.Error("webhook registration failed", "err", err)
			}
		} else {
			logger.Warn("telegram.webhookUrl not set; register the webhook yourself", "path", cfg.Telegram.WebhookPath)
		}
	} else {
		go func() {
			if err := tg.Poll(ctx, runner); err != nil {
				errCh <- fmt.Errorf("telegram polling: %w", err)
			}
		}()
	}

	logger.Info("relaybot started",
		"version", version,
		"bot", tg.UserName(),
		"mode", cfg.Telegram.Mode,
		"language", catalog.Language(),
		"documents", cfg.Documents.Mode,
		"concurrency", runner.Concurrency(),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("shutting down after error", "err", runErr)
		stop()
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runner.Wait(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out with updates in flight", "err", err)
	}
	logger.Info("shutdown complete")
	return runErr
}

// sweepTemp removes temp files orphaned by an earlier crash, then keeps
// doing so periodically.
func sweepTemp(ctx context.Context, temp *tempstore.Store) {
	ticker := time.NewTicker(tempSweepInterval)
	defer ticker.Stop()
	for {
		if n, err := temp.Sweep(tempSweepInterval); err != nil {
			logger.Warn("temp sweep failed", "err", err)
		} else if n > 0 {
			logger.Info("temp sweep", "removed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
