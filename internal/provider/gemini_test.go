package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestGemini_NoKeyIsUnavailable(t *testing.T) {
	g, err := NewGemini(context.Background(), GeminiConfig{Logger: testLogger()})
	if err != nil {
		t.Fatalf("empty key must not fail construction: %v", err)
	}
	if g.Available() {
		t.Fatal("provider without key should not be available")
	}

	_, err = g.Generate(context.Background(), "hello")
	f, ok := domain.AsFailure(err)
	if !ok || f.Kind != domain.FailureUnavailable || f.Reply != "ai.disabled" {
		t.Fatalf("err = %v", err)
	}

	_, err = g.GenerateWithFile(context.Background(), "p", "/tmp/x.pdf", "application/pdf")
	if domain.KindOf(err) != domain.FailureUnavailable {
		t.Fatalf("upload err = %v", err)
	}
}

func TestGemini_Generate(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"  the answer  "}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-test",
		BaseURL: srv.URL,
		Client:  srv.Client(),
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Name() != "gemini" || !g.Available() {
		t.Fatal("provider should be available")
	}

	answer, err := g.Generate(context.Background(), "what is go?")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "the answer" {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(gotPath, "gemini-test:generateContent") {
		t.Errorf("path = %s", gotPath)
	}
	if !strings.Contains(gotBody, "what is go?") {
		t.Errorf("prompt not sent: %s", gotBody)
	}
}

func TestGemini_GenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey: "k", BaseURL: srv.URL, Client: srv.Client(), Logger: testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.Generate(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.FailureExternal {
		t.Errorf("kind = %s, want external", domain.KindOf(err))
	}
}

func TestGemini_RateLimitHonorsContext(t *testing.T) {
	g, _ := NewGemini(context.Background(), GeminiConfig{Logger: testLogger(), RateLimitPerMin: 1})
	g.client = nil
	if g.limiter == nil {
		t.Fatal("limiter should be configured")
	}
	// Drain the single token, then the next wait must give up on a short deadline.
	g.limiter.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := g.limiter.Wait(ctx); err == nil {
		t.Fatal("expected wait to fail on deadline")
	}
}

func TestSharedHTTPClient_DefaultTimeout(t *testing.T) {
	c := SharedHTTPClient(0)
	if c.Timeout != 120*time.Second {
		t.Errorf("timeout = %v", c.Timeout)
	}
	if s := StreamingHTTPClient(time.Second); s.Timeout != 0 {
		t.Errorf("streaming client should have no overall timeout, got %v", s.Timeout)
	}
}
