package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	filePollInterval   = 2 * time.Second
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey          string
	Model           string
	BaseURL         string // optional API endpoint override
	RateLimitPerMin int    // 0 = unlimited
	Client          *http.Client
	Logger          *slog.Logger
}

// Gemini generates text with Google's Gemini API. A provider built without
// an API key stays usable but answers every call with an unavailable
// failure.
type Gemini struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGemini creates the provider. An empty key is not an error.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Gemini{model: cfg.Model, logger: cfg.Logger}
	if cfg.RateLimitPerMin > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMin)), cfg.RateLimitPerMin)
	}
	if cfg.APIKey == "" {
		cfg.Logger.Warn("gemini api key is empty, AI features disabled")
		return g, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.Client,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Available reports whether the provider has credentials.
func (g *Gemini) Available() bool { return g.client != nil }

func (g *Gemini) ready(ctx context.Context, op string) error {
	if g.client == nil {
		return &domain.Failure{Kind: domain.FailureUnavailable, Op: op, Reply: "ai.disabled"}
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", op, err)
		}
	}
	return nil
}

// Generate returns one completion for prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.ready(ctx, "gemini.generate"); err != nil {
		return "", err
	}
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	g.logger.Info("gemini response", "model", g.model, "prompt_len", len(prompt),
		"answer_len", len(text), "duration", time.Since(start))
	return text, nil
}

// GenerateWithFile uploads the file, prompts with a reference to it and
// deletes the upload afterwards. Deletion failures are only logged.
func (g *Gemini) GenerateWithFile(ctx context.Context, prompt, path, mimeType string) (string, error) {
	if err := g.ready(ctx, "gemini.upload"); err != nil {
		return "", err
	}

	file, err := g.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return "", fmt.Errorf("gemini upload: %w", err)
	}
	uploaded := file.Name
	defer func() {
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if _, err := g.client.Files.Delete(delCtx, uploaded, nil); err != nil {
			g.logger.Warn("gemini uploaded file cleanup failed", "file", uploaded, "err", err)
		}
	}()

	file, err = g.waitActive(ctx, file)
	if err != nil {
		return "", err
	}

	parts := []*genai.Part{
		genai.NewPartFromURI(file.URI, file.MIMEType),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate with file: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini generate with file: empty response")
	}
	g.logger.Info("gemini file response", "model", g.model, "file", file.Name, "answer_len", len(text))
	return text, nil
}

// waitActive polls until an uploaded file leaves the processing state.
func (g *Gemini) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filePollInterval):
		}
		f, err := g.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("gemini file status: %w", err)
		}
		file = f
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("gemini file %s failed processing", file.Name)
	}
	return file, nil
}
