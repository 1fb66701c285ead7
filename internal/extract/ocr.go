package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// OCRConfig configures the OCR.space-compatible recognizer.
type OCRConfig struct {
	APIBase   string // e.g. "https://api.ocr.space/parse/image"
	APIKey    string
	Languages []string // first entry is sent; e.g. "ara", "eng"
	Client    *http.Client
	Logger    *slog.Logger
}

// OCRClient posts documents to an OCR.space-style endpoint.
type OCRClient struct {
	apiBase  string
	apiKey   string
	language string
	client   *http.Client
	logger   *slog.Logger
}

func NewOCRClient(cfg OCRConfig) *OCRClient {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.ocr.space/parse/image"
	}
	lang := "eng"
	if len(cfg.Languages) > 0 && cfg.Languages[0] != "" {
		lang = cfg.Languages[0]
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OCRClient{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		language: lang,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

type ocrResponse struct {
	ParsedResults []struct {
		ParsedText   string `json:"ParsedText"`
		ErrorMessage string `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	// ErrorMessage is a string or a list of strings depending on the error.
	ErrorMessage json.RawMessage `json:"ErrorMessage"`
}

// Recognize uploads the file at path and returns the recognized text of
// all pages joined by newlines.
func (o *OCRClient) Recognize(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("apikey", o.apiKey)
	writer.WriteField("language", o.language)
	writer.WriteField("isOverlayRequired", "false")
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		writer.WriteField("filetype", "PDF")
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy file data: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("apikey", o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ocr API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if result.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr processing failed: %s", errorText(result.ErrorMessage))
	}

	var texts []string
	for _, r := range result.ParsedResults {
		if t := strings.TrimSpace(r.ParsedText); t != "" {
			texts = append(texts, t)
		}
	}
	text := strings.Join(texts, "\n")

	o.logger.Info("ocr complete", "pages", len(result.ParsedResults), "text_len", len(text))
	return text, nil
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return string(raw)
}
