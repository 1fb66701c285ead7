package handler

import (
	"relaybot/internal/dispatch"
	"relaybot/internal/domain"
)

const megabyte = 1024 * 1024

// Reply renders the user-facing text for a failed route. A reply key set on
// the failure wins over the kind's default.
func (h *Handlers) Reply(route string, err error) string {
	if f, ok := domain.AsFailure(err); ok && f.Reply != "" {
		return h.catalog.T(f.Reply, f.Args...)
	}
	switch domain.KindOf(err) {
	case domain.FailureUnsupportedType:
		return h.catalog.T("document.unsupported")
	case domain.FailureUnrecognized:
		return h.catalog.T("input.unrecognized")
	case domain.FailureUnknownCommand:
		return h.catalog.T("command.unknown")
	case domain.FailureInsufficientText:
		return h.catalog.T("document.insufficientText")
	case domain.FailureTooLarge:
		limit := h.documentMax
		if route == dispatch.RouteYouTube || route == dispatch.RouteTikTok {
			limit = h.mediaMax
		}
		return h.catalog.T("file.tooLarge", limit/megabyte)
	case domain.FailureUnavailable:
		return h.catalog.T("error.unavailable")
	}
	switch route {
	case dispatch.RouteYouTube:
		return h.catalog.T("youtube.failed")
	case dispatch.RouteTikTok:
		return h.catalog.T("tiktok.failed")
	case dispatch.RouteDocument:
		return h.catalog.T("document.failed")
	}
	return h.catalog.T("error.generic")
}

// withReply attaches a reply key to err unless it already carries one.
// Unclassified errors become external failures.
func withReply(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if f, ok := domain.AsFailure(err); ok {
		if f.Reply != "" || f.Kind != domain.FailureExternal {
			return err
		}
	}
	return &domain.Failure{Kind: domain.FailureExternal, Op: op, Err: err, Reply: key}
}

// tooLarge reports a file over limit bytes.
func tooLarge(op string, limit int64, err error) error {
	return &domain.Failure{
		Kind:  domain.FailureTooLarge,
		Op:    op,
		Err:   err,
		Reply: "file.tooLarge",
		Args:  []any{limit / megabyte},
	}
}

// sizeFailure gives too-large errors from the temp store their limit.
func sizeFailure(op string, limit int64, err error) error {
	if domain.KindOf(err) == domain.FailureTooLarge {
		if f, ok := domain.AsFailure(err); ok && f.Reply == "" {
			return tooLarge(op, limit, f.Err)
		}
	}
	return err
}
