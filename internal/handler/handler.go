// Package handler implements the bot's routes: commands, media links and
// PDF documents. Every route returns an error; the dispatcher turns it into
// the single reply the user sees.
package handler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"relaybot/internal/chunk"
	"relaybot/internal/domain"
	"relaybot/internal/i18n"
	"relaybot/internal/media"
	"relaybot/internal/metrics"
	"relaybot/internal/store"
	"relaybot/internal/tempstore"
)

const defaultCallTimeout = 2 * time.Minute

// AudioSource resolves a link into a downloadable audio track.
type AudioSource interface {
	Resolve(ctx context.Context, link string) (*media.Track, error)
	Open(ctx context.Context, t *media.Track) (io.ReadCloser, int64, error)
}

// VideoSource turns a link into a watermark-free video.
type VideoSource interface {
	Mode() string
	ExtractionURL(link string) (string, error)
	Open(ctx context.Context, link string) (io.ReadCloser, int64, error)
}

// UserRegistry records the users that started the bot.
type UserRegistry interface {
	Register(ctx context.Context, u store.User) (bool, error)
	Count(ctx context.Context) (int, error)
}

// Config wires a Handlers. A nil YouTube, TikTok or AI disables that feature.
type Config struct {
	Messenger domain.Messenger
	Catalog   *i18n.Catalog
	Temp      *tempstore.Store
	Processor *Processor
	YouTube   AudioSource
	TikTok    VideoSource
	AI        domain.Generator
	Users     UserRegistry

	CallTimeout      time.Duration
	ChunkSize        int
	MediaMaxBytes    int64
	DocumentMaxBytes int64

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Handlers holds the dependencies shared by all routes. It is safe for
// concurrent use; no state is kept between updates.
type Handlers struct {
	messenger domain.Messenger
	catalog   *i18n.Catalog
	temp      *tempstore.Store
	processor *Processor
	youtube   AudioSource
	tiktok    VideoSource
	ai        domain.Generator
	users     UserRegistry

	callTimeout time.Duration
	chunkSize   int
	mediaMax    int64
	documentMax int64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg Config) *Handlers {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4000
	}
	return &Handlers{
		messenger:   cfg.Messenger,
		catalog:     cfg.Catalog,
		temp:        cfg.Temp,
		processor:   cfg.Processor,
		youtube:     cfg.YouTube,
		tiktok:      cfg.TikTok,
		ai:          cfg.AI,
		users:       cfg.Users,
		callTimeout: cfg.CallTimeout,
		chunkSize:   cfg.ChunkSize,
		mediaMax:    cfg.MediaMaxBytes,
		documentMax: cfg.DocumentMaxBytes,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// call runs fn under the per-call timeout and records its outcome.
func call(ctx context.Context, timeout time.Duration, m *metrics.Metrics, service string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(callCtx)
	m.ObserveCall(service, err)
	return err
}

func (h *Handlers) call(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	return call(ctx, h.callTimeout, h.metrics, service, fn)
}

// send delivers text split to the transport limit, in order.
func (h *Handlers) send(ctx context.Context, chatID int64, text string) error {
	for _, part := range chunk.Split(text, h.chunkSize) {
		err := h.call(ctx, "telegram", func(ctx context.Context) error {
			_, err := h.messenger.SendText(ctx, chatID, part)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// placeholder sends a "working" notice and returns the func that deletes it.
// Deletion runs on every exit path and its failure is only logged.
func (h *Handlers) placeholder(ctx context.Context, chatID int64, key string, args ...any) (domain.MessageRef, func(), error) {
	var ref domain.MessageRef
	err := h.call(ctx, "telegram", func(ctx context.Context) error {
		var err error
		ref, err = h.messenger.SendText(ctx, chatID, h.catalog.T(key, args...))
		return err
	})
	if err != nil {
		return ref, func() {}, err
	}
	done := func() {
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.callTimeout)
		defer cancel()
		if err := h.messenger.Delete(delCtx, ref); err != nil {
			h.logger.Warn("placeholder delete failed", "chat_id", chatID, "message_id", ref.MessageID, "err", err)
		}
	}
	return ref, done, nil
}

// edit updates a placeholder. A failed edit does not abort the flow.
func (h *Handlers) edit(ctx context.Context, ref domain.MessageRef, text string) {
	err := h.call(ctx, "telegram", func(ctx context.Context) error {
		return h.messenger.EditText(ctx, ref, text)
	})
	if err != nil {
		h.logger.Warn("placeholder edit failed", "chat_id", ref.ChatID, "message_id", ref.MessageID, "err", err)
	}
}
