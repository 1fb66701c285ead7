package domain

import (
	"strings"
	"unicode"
)

// MIMETypePDF is the only document type the document handler accepts.
const MIMETypePDF = "application/pdf"

// Update is one inbound chat event, normalized from the transport payload.
// It lives for a single request.
type Update struct {
	ChatID    int64
	MessageID int
	UserID    int64
	UserName  string
	FirstName string

	// Text is the message text. Captions are kept apart in Caption and are
	// never matched by the dispatcher.
	Text     string
	Caption  string
	Document *DocumentRef
}

// DocumentRef points at an attachment hosted by the chat platform.
type DocumentRef struct {
	FileID       string
	FileUniqueID string
	MimeType     string
	FileName     string
	FileSize     int64
}

// IsPDF reports whether the declared MIME type is application/pdf.
func (d *DocumentRef) IsPDF() bool {
	if d == nil {
		return false
	}
	mime := strings.ToLower(strings.TrimSpace(d.MimeType))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime == MIMETypePDF
}

// Command splits "/name@bot args" into its name and argument.
// ok is false when the text is not a command.
func (u Update) Command() (name, args string, ok bool) {
	text := strings.TrimSpace(u.Text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, rest = head[:i], head[i:]
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
