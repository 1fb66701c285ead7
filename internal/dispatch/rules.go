package dispatch

import (
	"context"
	"strings"

	"relaybot/internal/domain"
)

// Route names, also used as metric labels.
const (
	RouteCommand     = "command"
	RouteYouTube     = "youtube"
	RouteTikTok      = "tiktok"
	RouteDocument    = "document"
	RouteUnsupported = "unsupported_document"
	RouteFallback    = "fallback"
)

var (
	youTubeFragments = []string{"youtube.com", "youtu.be"}
	tikTokFragments  = []string{"tiktok.com"}
)

// Routes is the set of handlers the default rule table dispatches to.
type Routes interface {
	Command(ctx context.Context, u domain.Update) error
	YouTube(ctx context.Context, u domain.Update, link string) error
	TikTok(ctx context.Context, u domain.Update, link string) error
	Document(ctx context.Context, u domain.Update) error
}

// DefaultRules is the documented total order:
//
//  1. command ("/name args")
//  2. YouTube link in the message text
//  3. TikTok link in the message text
//  4. PDF document
//  5. any other document: rejected without external calls
//  6. fallback: unrecognized input
//
// Only the message text is matched against link fragments; document
// captions are ignored. Text holding both a link and a document is
// therefore handled as a link.
func DefaultRules(r Routes) []Rule {
	return []Rule{
		{
			Name: RouteCommand,
			Match: func(u domain.Update) bool {
				_, _, ok := u.Command()
				return ok
			},
			Handle: r.Command,
		},
		{
			Name:  RouteYouTube,
			Match: func(u domain.Update) bool { return containsAny(u.Text, youTubeFragments) },
			Handle: func(ctx context.Context, u domain.Update) error {
				return r.YouTube(ctx, u, ExtractLink(u.Text, youTubeFragments))
			},
		},
		{
			Name:  RouteTikTok,
			Match: func(u domain.Update) bool { return containsAny(u.Text, tikTokFragments) },
			Handle: func(ctx context.Context, u domain.Update) error {
				return r.TikTok(ctx, u, ExtractLink(u.Text, tikTokFragments))
			},
		},
		{
			Name:   RouteDocument,
			Match:  func(u domain.Update) bool { return u.Document.IsPDF() },
			Handle: r.Document,
		},
		{
			Name:  RouteUnsupported,
			Match: func(u domain.Update) bool { return u.Document != nil },
			Handle: func(ctx context.Context, u domain.Update) error {
				return domain.Fail(domain.FailureUnsupportedType, "document."+u.Document.MimeType)
			},
		},
		{
			Name:  RouteFallback,
			Match: func(domain.Update) bool { return true },
			Handle: func(ctx context.Context, u domain.Update) error {
				return domain.Fail(domain.FailureUnrecognized, "fallback")
			},
		},
	}
}

// IsYouTubeLink reports whether s mentions a YouTube host.
func IsYouTubeLink(s string) bool { return containsAny(s, youTubeFragments) }

func containsAny(s string, fragments []string) bool {
	lower := strings.ToLower(s)
	for _, f := range fragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// ExtractLink returns the first whitespace-separated token of text that
// contains one of fragments, or the trimmed text when no single token does.
func ExtractLink(text string, fragments []string) string {
	for _, field := range strings.Fields(text) {
		if containsAny(field, fragments) {
			return strings.Trim(field, "<>()[]\"'")
		}
	}
	return strings.TrimSpace(text)
}
