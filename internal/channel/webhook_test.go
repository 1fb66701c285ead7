package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/handler"
	"relaybot/internal/i18n"
	"relaybot/internal/metrics"
	"relaybot/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type recordingUpdates struct {
	got []domain.Update
	err error
}

func (r *recordingUpdates) Process(ctx context.Context, u domain.Update) error {
	r.got = append(r.got, u)
	return r.err
}

type stubDocuments struct {
	result []string
	err    error
	panic  bool
	src    handler.Source
}

func (s *stubDocuments) Process(ctx context.Context, src handler.Source, onExtracted func()) ([]string, error) {
	s.src = src
	if s.panic {
		panic("processor exploded")
	}
	return s.result, s.err
}

type stubUsers struct{ users []store.User }

func (s stubUsers) List(ctx context.Context) ([]store.User, error) { return s.users, nil }
func (s stubUsers) Count(ctx context.Context) (int, error)         { return len(s.users), nil }

func newTestWebhook(t *testing.T, cfg WebhookConfig) http.Handler {
	t.Helper()
	cfg.Logger = testWebhookLogger()
	if cfg.Catalog == nil {
		cat, err := i18n.Load("en", "")
		if err != nil {
			t.Fatal(err)
		}
		cfg.Catalog = cat
	}
	return NewWebhook(cfg).Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decodeProcess(t *testing.T, rec *httptest.ResponseRecorder) ProcessResponse {
	t.Helper()
	var resp ProcessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestWebhook_Health(t *testing.T) {
	h := newTestWebhook(t, WebhookConfig{})
	for _, path := range []string{"/", "/healthz"} {
		rec := do(h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK || rec.Body.String() != healthText {
			t.Errorf("%s: %d %q", path, rec.Code, rec.Body.String())
		}
	}
	if rec := do(h, http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path code = %d", rec.Code)
	}
}

func TestWebhook_UpdateInvalidJSON(t *testing.T) {
	h := newTestWebhook(t, WebhookConfig{Updates: &recordingUpdates{}})
	if rec := do(h, http.MethodPost, "/webhook", "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestWebhook_UpdateMethodNotAllowed(t *testing.T) {
	h := newTestWebhook(t, WebhookConfig{Updates: &recordingUpdates{}})
	if rec := do(h, http.MethodGet, "/webhook", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}

func TestWebhook_UpdateDispatchedEvenOnHandlerError(t *testing.T) {
	updates := &recordingUpdates{err: errors.New("handler failed")}
	h := newTestWebhook(t, WebhookConfig{Path: "/tg", Updates: updates})

	body := `{"update_id": 10, "message": {"message_id": 5, "chat": {"id": 42, "type": "private"},
		"from": {"id": 7, "first_name": "Ali", "username": "ali"},
		"document": {"file_id": "F", "file_unique_id": "U", "mime_type": "application/pdf", "file_name": "a.pdf", "file_size": 1234},
		"caption": "https://youtu.be/x"}}`
	rec := do(h, http.MethodPost, "/tg", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if len(updates.got) != 1 {
		t.Fatalf("updates = %d", len(updates.got))
	}
	u := updates.got[0]
	if u.ChatID != 42 || u.UserID != 7 || u.Caption != "https://youtu.be/x" || u.Text != "" {
		t.Errorf("update = %+v", u)
	}
	if u.Document == nil || !u.Document.IsPDF() || u.Document.FileSize != 1234 || u.Document.FileUniqueID != "U" {
		t.Errorf("document = %+v", u.Document)
	}
}

func TestWebhook_SecretToken(t *testing.T) {
	updates := &recordingUpdates{}
	h := newTestWebhook(t, WebhookConfig{Updates: updates, Secret: "s3cret_token"})
	body := `{"update_id": 1, "message": {"message_id": 1, "chat": {"id": 1, "type": "private"}, "text": "hi"}}`

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "not-it", http.StatusForbidden},
		{"match", "s3cret_token", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		if tc.header != "" {
			req.Header.Set(SecretTokenHeader, tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Errorf("%s: code = %d, want %d", tc.name, rec.Code, tc.code)
		}
	}
	if len(updates.got) != 1 {
		t.Errorf("dispatched updates = %d, want 1", len(updates.got))
	}
}

func TestWebhook_NonMessageUpdateIgnored(t *testing.T) {
	updates := &recordingUpdates{}
	h := newTestWebhook(t, WebhookConfig{Updates: updates})
	if rec := do(h, http.MethodPost, "/webhook", `{"update_id": 1}`); rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
	if len(updates.got) != 0 {
		t.Error("update without message must not be processed")
	}
}

func TestProcess_ValidationIs400(t *testing.T) {
	docs := &stubDocuments{}
	h := newTestWebhook(t, WebhookConfig{Documents: docs})

	cases := []string{
		`{bad`,
		`{"file_name": "a.pdf"}`,
		`{"file_url": "ftp://x/a.pdf", "file_name": "a.pdf"}`,
		`{"file_url": "https://example.com/a.pdf"}`,
	}
	for _, body := range cases {
		rec := do(h, http.MethodPost, "/process", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", body, rec.Code)
			continue
		}
		if resp := decodeProcess(t, rec); resp.Error == "" {
			t.Errorf("%s: missing error body", body)
		}
	}
}

func TestProcess_SuccessIs200WithResult(t *testing.T) {
	docs := &stubDocuments{result: []string{"part one", "part two"}}
	h := newTestWebhook(t, WebhookConfig{Documents: docs})

	rec := do(h, http.MethodPost, "/process", `{"file_url": "https://example.com/a.pdf", "file_name": "a.pdf"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	resp := decodeProcess(t, rec)
	if len(resp.Result) != 2 || resp.Error != "" {
		t.Errorf("resp = %+v", resp)
	}
	if docs.src.URL != "https://example.com/a.pdf" || docs.src.Name != "a.pdf" {
		t.Errorf("source = %+v", docs.src)
	}
}

func TestProcess_FailureIs200WithError(t *testing.T) {
	docs := &stubDocuments{err: domain.Fail(domain.FailureInsufficientText, "document.extract")}
	h := newTestWebhook(t, WebhookConfig{
		Documents: docs,
		Reply:     func(route string, err error) string { return route + ": " + string(domain.KindOf(err)) },
	})

	rec := do(h, http.MethodPost, "/process", `{"file_url": "https://example.com/a.pdf", "file_name": "a.pdf"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	resp := decodeProcess(t, rec)
	if resp.Error != "document: insufficient_text" || resp.Result != nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestProcess_PanicIs500(t *testing.T) {
	h := newTestWebhook(t, WebhookConfig{Documents: &stubDocuments{panic: true}})
	rec := do(h, http.MethodPost, "/process", `{"file_url": "https://example.com/a.pdf", "file_name": "a.pdf"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
}

func TestWebhook_UsersAndCount(t *testing.T) {
	first := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newTestWebhook(t, WebhookConfig{Users: stubUsers{users: []store.User{
		{ID: 1, FirstName: "Ali", UserName: "ali", FirstSeen: first},
		{ID: 2, FirstName: "Mona", FirstSeen: first},
	}}})

	rec := do(h, http.MethodGet, "/users", "")
	var got map[string]store.LegacyEntry
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["1"].Username != "ali" || got["1"].Date != "2025-01-02 03:04:05" {
		t.Errorf("users = %+v", got)
	}

	rec = do(h, http.MethodGet, "/count", "")
	if body, _ := io.ReadAll(rec.Body); string(body) != "Total users: 2" {
		t.Errorf("count = %q", body)
	}
}

func TestWebhook_Metrics(t *testing.T) {
	m := metrics.New(nil)
	m.ObserveRejected()
	h := newTestWebhook(t, WebhookConfig{Metrics: m})
	rec := do(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "relaybot_updates_rejected_total 1") {
		t.Errorf("metrics code = %d", rec.Code)
	}
}

func TestToUpdate_NoMessage(t *testing.T) {
	if _, ok := ToUpdate(tgbotapi.Update{UpdateID: 1}); ok {
		t.Error("update without message should be skipped")
	}
}

func TestToUpdate_Text(t *testing.T) {
	u, ok := ToUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 3,
		Chat:      &tgbotapi.Chat{ID: 100},
		Text:      "/song https://youtu.be/x",
	}})
	if !ok || u.ChatID != 100 || u.MessageID != 3 || u.Document != nil || u.UserID != 0 {
		t.Errorf("update = %+v ok = %v", u, ok)
	}
}
