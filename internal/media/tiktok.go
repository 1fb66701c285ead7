package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	TikTokPassthrough = "passthrough"
	TikTokFetch       = "fetch"
)

// TikTokConfig configures the TikTok extraction client.
type TikTokConfig struct {
	Endpoint string // extraction service, called as <endpoint>?url=<escaped link>
	Mode     string // "passthrough" | "fetch"
	Client   *http.Client
	Logger   *slog.Logger
}

// TikTok turns TikTok links into watermark-free video via an external
// extraction service.
type TikTok struct {
	endpoint string
	mode     string
	client   *http.Client
	logger   *slog.Logger
}

func NewTikTok(cfg TikTokConfig) *TikTok {
	if cfg.Mode == "" {
		cfg.Mode = TikTokPassthrough
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TikTok{
		endpoint: cfg.Endpoint,
		mode:     cfg.Mode,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

// Mode returns the configured reply mode.
func (t *TikTok) Mode() string { return t.mode }

// ExtractionURL builds the service URL for link.
func (t *TikTok) ExtractionURL(link string) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse tiktok endpoint: %w", err)
	}
	q := u.Query()
	q.Set("url", strings.TrimSpace(link))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open calls the extraction service and returns the video body. The caller
// closes the reader. Responses that are not video are rejected.
func (t *TikTok) Open(ctx context.Context, link string) (io.ReadCloser, int64, error) {
	target, err := t.ExtractionURL(link)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tiktok extraction request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("tiktok extraction error (status %d)", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if !strings.HasPrefix(mt, "video/") && mt != "application/octet-stream" {
			resp.Body.Close()
			return nil, 0, fmt.Errorf("tiktok extraction returned %s, not video", mt)
		}
	}
	t.logger.Debug("tiktok video fetched", "size", resp.ContentLength)
	return resp.Body, resp.ContentLength, nil
}
