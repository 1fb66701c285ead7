// Package tempstore hands out per-request scratch files that are removed on
// every exit path.
package tempstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"relaybot/internal/domain"

	"github.com/google/uuid"
)

const (
	filePrefix      = "relaybot-"
	defaultMaxBytes = 50 * 1024 * 1024
	maxKeyLen       = 40
)

// Config configures a Store.
type Config struct {
	Dir      string // base directory (default: os.TempDir()/relaybot)
	MaxBytes int64  // per-file cap (default: 50MB)
	Logger   *slog.Logger
}

// Store allocates unique temp files and tracks the ones still in use.
type Store struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates the base directory if needed.
func New(cfg Config) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "relaybot")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger,
		active:   make(map[string]struct{}),
	}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.dir }

// MaxBytes returns the per-file cap.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Acquire creates a new empty file whose name is derived from key and a
// random suffix. The file is never handed out twice while in use.
func (s *Store) Acquire(key, ext string) (*File, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := filePrefix + sanitizeKey(key) + "-" + uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	s.mu.Lock()
	s.active[path] = struct{}{}
	s.mu.Unlock()

	return &File{store: s, path: path, f: f}, nil
}

// With acquires a file, runs fn and releases the file whatever fn returns.
func (s *Store) With(key, ext string, fn func(*File) error) error {
	file, err := s.Acquire(key, ext)
	if err != nil {
		return err
	}
	defer file.Release()
	return fn(file)
}

// Active returns the number of files acquired and not yet released.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Sweep removes stale files left behind by a previous process.
// Files currently in use are skipped.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		s.mu.Lock()
		_, inUse := s.active[path]
		s.mu.Unlock()
		if inUse {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("temp sweep: remove failed", "path", path, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Store) forget(path string) {
	s.mu.Lock()
	delete(s.active, path)
	s.mu.Unlock()
}

// File is a scratch file owned by a single request.
type File struct {
	store *Store
	path  string

	mu       sync.Mutex
	f        *os.File
	size     int64
	released bool
}

// Path returns the file's location on disk.
func (f *File) Path() string { return f.path }

// Size returns the number of bytes written by Fill.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Fill streams r into the file and closes it. Input beyond the store's cap
// fails with a too-large failure.
func (f *File) Fill(r io.Reader) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f == nil {
		return 0, fmt.Errorf("temp file %s already filled or released", filepath.Base(f.path))
	}
	limit := f.store.maxBytes
	written, err := io.Copy(f.f, io.LimitReader(r, limit+1))
	closeErr := f.f.Close()
	f.f = nil
	f.size = written
	if err != nil {
		return written, fmt.Errorf("write temp file: %w", err)
	}
	if written > limit {
		return written, &domain.Failure{
			Kind: domain.FailureTooLarge,
			Op:   "tempstore.fill",
			Err:  fmt.Errorf("file too large: more than %d bytes", limit),
		}
	}
	if closeErr != nil {
		return written, fmt.Errorf("close temp file: %w", closeErr)
	}
	return written, nil
}

// Download fetches url with client and fills the file with the body.
func (f *File) Download(ctx context.Context, client *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.store.maxBytes {
		return 0, &domain.Failure{
			Kind: domain.FailureTooLarge,
			Op:   "tempstore.download",
			Err:  fmt.Errorf("declared size %d exceeds %d bytes", resp.ContentLength, f.store.maxBytes),
		}
	}
	return f.Fill(resp.Body)
}

// Release closes and removes the file. It is safe to call more than once;
// removal failures are logged and otherwise ignored.
func (f *File) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return
	}
	f.released = true
	if f.f != nil {
		_ = f.f.Close()
		f.f = nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.store.logger.Warn("temp file cleanup failed", "path", f.path, "err", err)
	}
	f.store.forget(f.path)
}

// sanitizeKey keeps a short, filesystem-safe form of key.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxKeyLen {
			break
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
