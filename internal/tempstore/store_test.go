package tempstore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	s, err := New(Config{
		Dir:      t.TempDir(),
		MaxBytes: maxBytes,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNew_DefaultMaxBytes(t *testing.T) {
	s := newTestStore(t, 0)
	if s.MaxBytes() != 50*1024*1024 {
		t.Errorf("expected default 50MB, got %d", s.MaxBytes())
	}
}

func TestAcquire_UniquePathsUnderConcurrency(t *testing.T) {
	s := newTestStore(t, 1024)

	const n = 64
	paths := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := s.Acquire("same-file-id", ".pdf")
			if err != nil {
				t.Error(err)
				return
			}
			paths <- f.Path()
		}()
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool)
	for p := range paths {
		if seen[p] {
			t.Fatalf("path handed out twice: %s", p)
		}
		seen[p] = true
	}
	if s.Active() != n {
		t.Errorf("active = %d, want %d", s.Active(), n)
	}
}

func TestFill_WritesFullStream(t *testing.T) {
	s := newTestStore(t, 1024)
	f, err := s.Acquire("doc", "pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()

	payload := bytes.Repeat([]byte("z"), 1024)
	n, err := f.Fill(bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1024 || f.Size() != 1024 {
		t.Fatalf("written = %d, size = %d", n, f.Size())
	}
	got, err := os.ReadFile(f.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("file content differs from stream")
	}
	if filepath.Ext(f.Path()) != ".pdf" {
		t.Errorf("extension = %q", filepath.Ext(f.Path()))
	}
}

func TestFill_TooLarge(t *testing.T) {
	s := newTestStore(t, 10)
	f, err := s.Acquire("doc", ".pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()

	_, err = f.Fill(strings.NewReader(strings.Repeat("x", 11)))
	if domain.KindOf(err) != domain.FailureTooLarge {
		t.Fatalf("expected too_large failure, got %v", err)
	}
}

func TestRelease_RemovesFileAndIsIdempotent(t *testing.T) {
	s := newTestStore(t, 1024)
	f, err := s.Acquire("doc", ".pdf")
	if err != nil {
		t.Fatal(err)
	}
	f.Release()
	f.Release()

	if _, err := os.Stat(f.Path()); !os.IsNotExist(err) {
		t.Fatalf("file should be gone, stat err = %v", err)
	}
	if s.Active() != 0 {
		t.Errorf("active = %d, want 0", s.Active())
	}
}

func TestRelease_AlreadyRemovedIsIgnored(t *testing.T) {
	s := newTestStore(t, 1024)
	f, err := s.Acquire("doc", ".pdf")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Fill(strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	os.Remove(f.Path())
	f.Release()
	if s.Active() != 0 {
		t.Errorf("active = %d, want 0", s.Active())
	}
}

func TestWith_ReleasesOnError(t *testing.T) {
	s := newTestStore(t, 1024)
	var path string
	boom := errors.New("boom")
	err := s.With("doc", ".pdf", func(f *File) error {
		path = f.Path()
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file should be removed after With returns")
	}
}

func TestWith_ReleasesOnPanic(t *testing.T) {
	s := newTestStore(t, 1024)
	var path string
	func() {
		defer func() { _ = recover() }()
		_ = s.With("doc", ".pdf", func(f *File) error {
			path = f.Path()
			panic("extractor crashed")
		})
	}()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file should be removed after a panic")
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	s := newTestStore(t, 1024)
	f, err := s.Acquire("doc", ".pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()

	n, err := f.Download(context.Background(), srv.Client(), srv.URL+"/file.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("%PDF-1.4 body")) {
		t.Errorf("downloaded %d bytes", n)
	}

	g, err := s.Acquire("doc", ".pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()
	if _, err := g.Download(context.Background(), srv.Client(), srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestSweep_RemovesStaleOnly(t *testing.T) {
	s := newTestStore(t, 1024)

	stale := filepath.Join(s.Dir(), filePrefix+"old.pdf")
	if err := os.WriteFile(stale, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(stale, old, old)

	other := filepath.Join(s.Dir(), "keep.txt")
	os.WriteFile(other, []byte("x"), 0o600)
	os.Chtimes(other, old, old)

	live, err := s.Acquire("live", ".pdf")
	if err != nil {
		t.Fatal(err)
	}
	defer live.Release()
	os.Chtimes(live.Path(), old, old)

	removed, err := s.Sweep(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(live.Path()); err != nil {
		t.Error("in-use file must survive the sweep")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("foreign file must survive the sweep")
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := sanitizeKey("../../etc/passwd"); strings.ContainsAny(got, "./") {
		t.Errorf("sanitizeKey kept path characters: %q", got)
	}
	if got := sanitizeKey(""); got != "file" {
		t.Errorf("sanitizeKey(\"\") = %q", got)
	}
	if got := sanitizeKey(strings.Repeat("a", 100)); len(got) != maxKeyLen {
		t.Errorf("len = %d, want %d", len(got), maxKeyLen)
	}
}
