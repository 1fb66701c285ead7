package bot

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type blockingDispatcher struct {
	running  atomic.Int32
	peak     atomic.Int32
	handled  atomic.Int32
	release  chan struct{}
	deadline atomic.Bool
	err      error
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, u domain.Update) error {
	n := d.running.Add(1)
	defer d.running.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if _, ok := ctx.Deadline(); ok {
		d.deadline.Store(true)
	}
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.handled.Add(1)
	return d.err
}

type touches struct {
	mu  sync.Mutex
	ids []int64
}

func (t *touches) Touch(ctx context.Context, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
	return nil
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{})}
	r := NewRunner(RunnerConfig{Dispatcher: d, MaxConcurrent: 3, Logger: testLogger()})
	ctx := context.Background()

	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.HandleUpdate(ctx, domain.Update{ChatID: int64(i)})
		}
		close(submitted)
	}()

	time.Sleep(50 * time.Millisecond)
	if got := d.running.Load(); got != 3 {
		t.Errorf("running = %d, want 3", got)
	}
	close(d.release)
	<-submitted

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}
	if got := d.handled.Load(); got != 10 {
		t.Errorf("handled = %d, want 10", got)
	}
	if got := d.peak.Load(); got > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", got)
	}
}

func TestRunner_ProcessIsSyncWithDeadline(t *testing.T) {
	want := errors.New("handler failed")
	d := &blockingDispatcher{err: want}
	act := &touches{}
	r := NewRunner(RunnerConfig{Dispatcher: d, Activity: act, RequestTimeout: time.Minute, Logger: testLogger()})

	err := r.Process(context.Background(), domain.Update{ChatID: 1, UserID: 77})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
	if !d.deadline.Load() {
		t.Error("dispatch context has no deadline")
	}
	if len(act.ids) != 1 || act.ids[0] != 77 {
		t.Errorf("touches = %v", act.ids)
	}
}

func TestRunner_RequestTimeout(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{})}
	r := NewRunner(RunnerConfig{Dispatcher: d, RequestTimeout: 20 * time.Millisecond, Logger: testLogger()})

	err := r.Process(context.Background(), domain.Update{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRunner_DropsWhenContextDone(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{})}
	m := metrics.New(nil)
	r := NewRunner(RunnerConfig{Dispatcher: d, MaxConcurrent: 1, Metrics: m, Logger: testLogger()})

	r.HandleUpdate(context.Background(), domain.Update{ChatID: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.HandleUpdate(ctx, domain.Update{ChatID: 2})

	if got := testutil.ToFloat64(m.Rejected); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	close(d.release)
	r.Wait(context.Background())
	if got := d.handled.Load(); got != 1 {
		t.Errorf("handled = %d, want 1", got)
	}
}

func TestRunner_AdmittedUpdateSurvivesCancel(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{})}
	r := NewRunner(RunnerConfig{Dispatcher: d, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	r.HandleUpdate(ctx, domain.Update{ChatID: 1})
	cancel()
	close(d.release)

	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := d.handled.Load(); got != 1 {
		t.Errorf("handled = %d, want 1", got)
	}
}
