package domain

import "context"

// Generator is a generative text model.
type Generator interface {
	Name() string
	// Generate returns one completion for a plain-text prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateWithFile uploads the file at path, prompts with a reference
	// to it and returns one completion.
	GenerateWithFile(ctx context.Context, prompt, path, mimeType string) (string, error)
}

// TextExtractor pulls plain text out of a document on disk.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// OCR recognizes text in a binary document.
type OCR interface {
	Recognize(ctx context.Context, path string) (string, error)
}
