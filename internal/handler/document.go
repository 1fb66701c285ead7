package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"relaybot/internal/chunk"
	"relaybot/internal/domain"
	"relaybot/internal/extract"
	"relaybot/internal/i18n"
	"relaybot/internal/metrics"
	"relaybot/internal/tempstore"
)

// Document modes.
const (
	ModeAI      = "ai"
	ModeUpload  = "upload"
	ModeOutline = "outline"
)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Temp      *tempstore.Store
	Client    *http.Client
	Extractor domain.TextExtractor
	OCR       domain.OCR // nil disables the OCR fallback
	AI        domain.Generator
	Catalog   *i18n.Catalog

	Mode          string
	Prompt        string
	ChunkSize     int
	OutlineWindow int
	MinTextLength int
	MaxBytes      int64
	CallTimeout   time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Processor turns a PDF behind a URL into reply texts. It is shared by the
// chat document route and the HTTP /process endpoint.
type Processor struct {
	temp      *tempstore.Store
	client    *http.Client
	extractor domain.TextExtractor
	ocr       domain.OCR
	ai        domain.Generator
	catalog   *i18n.Catalog

	mode          string
	prompt        string
	chunkSize     int
	outlineWindow int
	minTextLength int
	maxBytes      int64
	callTimeout   time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAI
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4000
	}
	if cfg.OutlineWindow <= 0 {
		cfg.OutlineWindow = 3000
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		temp:          cfg.Temp,
		client:        cfg.Client,
		extractor:     cfg.Extractor,
		ocr:           cfg.OCR,
		ai:            cfg.AI,
		catalog:       cfg.Catalog,
		mode:          cfg.Mode,
		prompt:        cfg.Prompt,
		chunkSize:     cfg.ChunkSize,
		outlineWindow: cfg.OutlineWindow,
		minTextLength: cfg.MinTextLength,
		maxBytes:      cfg.MaxBytes,
		callTimeout:   cfg.CallTimeout,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// Source locates a document to process.
type Source struct {
	URL  string
	Name string
	// Key is unique per document, e.g. the platform file ID. It names the
	// temp file.
	Key string
}

// Process downloads src, extracts its text and returns the reply texts,
// each within the chunk size. onExtracted, when set, runs once the text is
// known to be usable. The temp file is gone when Process returns.
func (p *Processor) Process(ctx context.Context, src Source, onExtracted func()) ([]string, error) {
	var chunks []string
	err := p.temp.With(src.Key, ".pdf", func(file *tempstore.File) error {
		var err error
		chunks, err = p.process(ctx, file, src, onExtracted)
		return err
	})
	return chunks, err
}

func (p *Processor) process(ctx context.Context, file *tempstore.File, src Source, onExtracted func()) ([]string, error) {
	err := call(ctx, p.callTimeout, p.metrics, "download", func(ctx context.Context) error {
		_, err := file.Download(ctx, p.client, src.URL)
		return err
	})
	if err != nil {
		return nil, sizeFailure("document.download", p.temp.MaxBytes(), fmt.Errorf("download %s: %w", src.Name, err))
	}
	if p.maxBytes > 0 && file.Size() > p.maxBytes {
		return nil, tooLarge("document.download", p.maxBytes, fmt.Errorf("downloaded %d bytes", file.Size()))
	}

	text, err := p.extract(ctx, file.Path())
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < p.minTextLength {
		return nil, &domain.Failure{
			Kind: domain.FailureInsufficientText,
			Op:   "document.extract",
			Err:  fmt.Errorf("%d characters, need %d", n, p.minTextLength),
		}
	}
	p.logger.Info("document text extracted", "name", src.Name, "bytes", file.Size(), "chars", utf8.RuneCountInString(text), "mode", p.mode)
	if onExtracted != nil {
		onExtracted()
	}

	if p.mode == ModeOutline {
		return p.outline(text), nil
	}
	if p.ai == nil {
		return nil, &domain.Failure{Kind: domain.FailureUnavailable, Op: "document.generate", Reply: "ai.disabled"}
	}

	var answer string
	err = call(ctx, p.callTimeout, p.metrics, p.ai.Name(), func(ctx context.Context) error {
		var err error
		if p.mode == ModeUpload {
			answer, err = p.ai.GenerateWithFile(ctx, p.prompt, file.Path(), domain.MIMETypePDF)
		} else {
			answer, err = p.ai.Generate(ctx, p.prompt+"\n\n"+text)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("generate: empty response from %s", p.ai.Name())
	}
	return chunk.Split(answer, p.chunkSize), nil
}

// extract returns the document text, falling back to OCR when extraction
// fails or yields near-empty text.
func (p *Processor) extract(ctx context.Context, path string) (string, error) {
	text, err := p.extractor.ExtractText(ctx, path)
	if err == nil && extract.Meaningful(text) >= max(p.minTextLength, 1) {
		return text, nil
	}
	if p.ocr == nil {
		if err != nil {
			return "", fmt.Errorf("extract text: %w", err)
		}
		return text, nil
	}

	p.logger.Info("falling back to OCR", "path", path, "chars", extract.Meaningful(text), "extract_err", err)
	var recognized string
	ocrErr := call(ctx, p.callTimeout, p.metrics, "ocr", func(ctx context.Context) error {
		var err error
		recognized, err = p.ocr.Recognize(ctx, path)
		return err
	})
	if ocrErr != nil {
		if err != nil {
			return "", fmt.Errorf("extract text: %w (ocr: %v)", err, ocrErr)
		}
		p.logger.Warn("ocr failed, keeping extracted text", "err", ocrErr)
		return text, nil
	}
	if extract.Meaningful(recognized) > extract.Meaningful(text) {
		return recognized, nil
	}
	return text, nil
}

// outline cuts text into fixed windows and renders one summary/question
// block per window.
func (p *Processor) outline(text string) []string {
	question := p.catalog.T("outline.question")
	var out []string
	for i, window := range chunk.Windows(text, p.outlineWindow) {
		w := chunk.Compact(window)
		if w == "" {
			continue
		}
		block := p.catalog.T("outline.block",
			i+1,
			chunk.Prefix(w, 300),
			chunk.Prefix(w, 100)+"...",
			question,
			chunk.Slice(w, 0, 50),
			chunk.Slice(w, 50, 100),
			chunk.Slice(w, 100, 150),
			chunk.Slice(w, 150, 200),
		)
		out = append(out, chunk.Split(block, p.chunkSize)...)
	}
	return out
}

// Document handles a PDF attachment sent in chat.
func (h *Handlers) Document(ctx context.Context, u domain.Update) error {
	doc := u.Document
	if !doc.IsPDF() {
		return domain.Fail(domain.FailureUnsupportedType, "document")
	}
	if h.documentMax > 0 && doc.FileSize > h.documentMax {
		return tooLarge("document.size", h.documentMax, fmt.Errorf("declared size %d bytes", doc.FileSize))
	}

	ref, done, err := h.placeholder(ctx, u.ChatID, "document.received", doc.FileName)
	if err != nil {
		return fmt.Errorf("document placeholder: %w", err)
	}
	defer done()

	var fileURL string
	err = h.call(ctx, "telegram", func(ctx context.Context) error {
		var err error
		fileURL, err = h.messenger.FileURL(ctx, doc.FileID)
		return err
	})
	if err != nil {
		if domain.KindOf(err) == domain.FailureTooLarge {
			return tooLarge("document.file", h.documentMax, err)
		}
		return withReply(fmt.Errorf("resolve file %s: %w", doc.FileID, err), "document.file", "document.failed")
	}

	key := doc.FileUniqueID
	if key == "" {
		key = doc.FileID
	}
	parts, err := h.processor.Process(ctx, Source{URL: fileURL, Name: doc.FileName, Key: key}, func() {
		h.edit(ctx, ref, h.catalog.T("document.extracted"))
	})
	if err != nil {
		return withReply(err, "document", "document.failed")
	}
	for _, part := range parts {
		if err := h.send(ctx, u.ChatID, part); err != nil {
			return withReply(err, "document.send", "document.failed")
		}
	}
	return nil
}
