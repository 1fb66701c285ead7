// Package bot runs dispatched updates with bounded concurrency and a
// per-request deadline.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"

	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrent  = 16
	defaultRequestTimeout = 5 * time.Minute
)

// Dispatcher handles one update end to end.
type Dispatcher interface {
	Dispatch(ctx context.Context, u domain.Update) error
}

// ActivityRecorder notes that a known user sent an update.
type ActivityRecorder interface {
	Touch(ctx context.Context, userID int64) error
}

type RunnerConfig struct {
	Dispatcher     Dispatcher
	Activity       ActivityRecorder // optional
	MaxConcurrent  int
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Runner admits updates up to MaxConcurrent at a time. Each admitted update
// gets its own goroutine and deadline; updates share nothing else.
type Runner struct {
	dispatcher     Dispatcher
	activity       ActivityRecorder
	sem            *semaphore.Weighted
	concurrency    int
	requestTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger

	wg sync.WaitGroup
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		dispatcher:     cfg.Dispatcher,
		activity:       cfg.Activity,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		concurrency:    cfg.MaxConcurrent,
		requestTimeout: cfg.RequestTimeout,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}
}

// HandleUpdate admits u and handles it in the background. It blocks while
// all slots are busy and drops u once ctx is done. An admitted update runs
// to completion or its deadline even after ctx is cancelled.
func (r *Runner) HandleUpdate(ctx context.Context, u domain.Update) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.metrics.ObserveRejected()
		r.logger.Warn("update dropped", "chat_id", u.ChatID, "err", err)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)
		_ = r.handle(context.WithoutCancel(ctx), u)
	}()
}

// Process handles u synchronously and returns the handler's error. Used by
// the webhook, which answers only once the update is done.
func (r *Runner) Process(ctx context.Context, u domain.Update) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.metrics.ObserveRejected()
		return err
	}
	defer r.sem.Release(1)
	return r.handle(ctx, u)
}

// Wait blocks until every update admitted by HandleUpdate has finished or
// ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Concurrency returns the admission limit.
func (r *Runner) Concurrency() int { return r.concurrency }

func (r *Runner) handle(ctx context.Context, u domain.Update) error {
	defer r.metrics.TrackInFlight()()

	ctx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	if r.activity != nil && u.UserID != 0 {
		if err := r.activity.Touch(ctx, u.UserID); err != nil {
			r.logger.Debug("record activity failed", "user_id", u.UserID, "err", err)
		}
	}
	return r.dispatcher.Dispatch(ctx, u)
}
