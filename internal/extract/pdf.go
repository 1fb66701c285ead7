// Package extract turns downloaded documents into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

const (
	defaultMaxPages     = 200
	defaultMaxTextBytes = 1024 * 1024
)

// ErrNoPages is returned for a PDF without readable pages.
var ErrNoPages = errors.New("pdf has no pages")

// PDFConfig configures a PDF text extractor.
type PDFConfig struct {
	MaxPages     int // pages beyond this are ignored (default: 200)
	MaxTextBytes int // extracted text is truncated here (default: 1MB)
	Logger       *slog.Logger
}

// PDF extracts embedded text from PDF files.
type PDF struct {
	maxPages     int
	maxTextBytes int
	logger       *slog.Logger
}

func NewPDF(cfg PDFConfig) *PDF {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = defaultMaxTextBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PDF{maxPages: cfg.MaxPages, maxTextBytes: cfg.MaxTextBytes, logger: cfg.Logger}
}

// ExtractText reads the text layer of the PDF at path. Pages that fail to
// decode are skipped. Scanned documents yield little or no text.
func (p *PDF) ExtractText(ctx context.Context, path string) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	if total == 0 {
		return "", ErrNoPages
	}
	if total > p.maxPages {
		p.logger.Warn("pdf page limit reached", "pages", total, "limit", p.maxPages)
		total = p.maxPages
	}

	var sb strings.Builder
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Debug("pdf page skipped", "page", n, "err", err)
			continue
		}
		cleaned := cleanText(pageText)
		if cleaned == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(cleaned)
		if sb.Len() >= p.maxTextBytes {
			break
		}
	}

	return truncateUTF8(sb.String(), p.maxTextBytes), nil
}

// cleanText drops NUL bytes, collapses runs of blanks and keeps newlines.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	var b strings.Builder
	lastSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune('\n')
			lastSpace = true
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Meaningful counts letters and digits in s. Extraction that yields fewer
// than a handful is treated as empty.
func Meaningful(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
