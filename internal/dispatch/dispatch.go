// Package dispatch routes one inbound update to exactly one handler through
// an ordered rule table and turns handler failures into a single reply.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Rule pairs a predicate with a handler. Rules are tried in order and the
// first match wins.
type Rule struct {
	Name   string
	Match  func(u domain.Update) bool
	Handle func(ctx context.Context, u domain.Update) error
}

// ReplyFunc renders the user-facing text for a failed route.
type ReplyFunc func(route string, err error) string

// Config configures a Dispatcher.
type Config struct {
	Rules     []Rule
	Messenger domain.Messenger
	Reply     ReplyFunc
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Dispatcher classifies updates and runs the matching handler.
type Dispatcher struct {
	rules     []Rule
	messenger domain.Messenger
	reply     ReplyFunc
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		rules:     cfg.Rules,
		messenger: cfg.Messenger,
		reply:     cfg.Reply,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Route returns the name of the first rule matching u, or "" when none does.
func (d *Dispatcher) Route(u domain.Update) string {
	if r, ok := d.match(u); ok {
		return r.Name
	}
	return ""
}

func (d *Dispatcher) match(u domain.Update) (Rule, bool) {
	for _, r := range d.rules {
		if r.Match(u) {
			return r, true
		}
	}
	return Rule{}, false
}

// Dispatch runs the first matching rule. A handler error, or panic, is
// answered with exactly one reply and then returned.
func (d *Dispatcher) Dispatch(ctx context.Context, u domain.Update) (err error) {
	rule, ok := d.match(u)
	if !ok {
		return nil
	}
	start := time.Now()
	logger := d.logger.With("chat_id", u.ChatID, "route", rule.Name)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler panic", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s handler panic: %v", rule.Name, rec)
		}
		d.metrics.ObserveUpdate(rule.Name, time.Since(start))
		if err == nil {
			return
		}
		kind := domain.KindOf(err)
		d.metrics.ObserveFailure(rule.Name, string(kind))
		if kind.Validation() {
			logger.Info("update rejected", "kind", kind, "err", err)
		} else {
			logger.Error("handler failed", "kind", kind, "err", err)
		}
		d.sendFailure(ctx, u.ChatID, rule.Name, err, logger)
	}()

	logger.Debug("dispatching update")
	return rule.Handle(ctx, u)
}

func (d *Dispatcher) sendFailure(ctx context.Context, chatID int64, route string, err error, logger *slog.Logger) {
	if d.reply == nil || d.messenger == nil || chatID == 0 {
		return
	}
	text := d.reply(route, err)
	if text == "" {
		return
	}
	// The request context may have expired; the reply still goes out.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if _, sendErr := d.messenger.SendText(sendCtx, chatID, text); sendErr != nil {
		logger.Warn("failure reply not delivered", "err", sendErr)
	}
}
