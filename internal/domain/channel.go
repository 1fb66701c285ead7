package domain

import "context"

// MessageRef identifies a message the bot has sent, e.g. a placeholder.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Attachment is a media reply. Exactly one of Path or URL is set: Path
// uploads a local file, URL lets the platform fetch the media itself.
type Attachment struct {
	Path    string
	URL     string
	Name    string
	Caption string
}

// Messenger is the subset of the chat platform API the handlers rely on.
// Implementations must be safe for concurrent use.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	Delete(ctx context.Context, ref MessageRef) error
	SendAudio(ctx context.Context, chatID int64, a Attachment) error
	SendVideo(ctx context.Context, chatID int64, a Attachment) error
	// FileURL resolves a platform file identifier to a download URL.
	FileURL(ctx context.Context, fileID string) (string, error)
}

// UpdateHandler consumes normalized updates from a transport.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u Update)
}
