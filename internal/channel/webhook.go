package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/handler"
	"relaybot/internal/i18n"
	"relaybot/internal/metrics"
	"relaybot/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	healthText      = "Bot is Running Successfully!"
	maxWebhookBody  = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// UpdateProcessor handles one update synchronously.
type UpdateProcessor interface {
	Process(ctx context.Context, u domain.Update) error
}

// DocumentProcessor turns a document URL into reply texts.
type DocumentProcessor interface {
	Process(ctx context.Context, src handler.Source, onExtracted func()) ([]string, error)
}

// UserLister reads the user registry.
type UserLister interface {
	List(ctx context.Context) ([]store.User, error)
	Count(ctx context.Context) (int, error)
}

// WebhookConfig configures the HTTP surface. Nil collaborators disable
// their routes.
type WebhookConfig struct {
	Host        string
	Port        int
	Path        string // Telegram update path (default: /webhook)
	Secret      string // required in SecretTokenHeader on update requests
	Updates     UpdateProcessor
	Documents   DocumentProcessor
	Users       UserLister
	Catalog     *i18n.Catalog
	Reply       func(route string, err error) string
	Metrics     *metrics.Metrics
	MetricsPath string
	Logger      *slog.Logger
}

// Webhook serves Telegram webhook updates, the /process endpoint, health
// checks, the user registry and metrics.
type Webhook struct {
	addr        string
	path        string
	secret      string
	updates     UpdateProcessor
	documents   DocumentProcessor
	users       UserLister
	catalog     *i18n.Catalog
	reply       func(route string, err error) string
	metrics     *metrics.Metrics
	metricsPath string
	logger      *slog.Logger
	server      *http.Server
}

// ProcessRequest is the /process request body.
type ProcessRequest struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
}

// ProcessResponse is the /process response body. Exactly one field is set.
type ProcessResponse struct {
	Result []string `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Updates != nil && cfg.Secret == "" {
		cfg.Logger.Warn("webhook secret not set, update requests are not authenticated", "path", cfg.Path)
	}
	return &Webhook{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		path:        cfg.Path,
		secret:      cfg.Secret,
		updates:     cfg.Updates,
		documents:   cfg.Documents,
		users:       cfg.Users,
		catalog:     cfg.Catalog,
		reply:       cfg.Reply,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Addr returns the listen address.
func (w *Webhook) Addr() string { return w.addr }

// Handler returns the routed HTTP handler.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.handleHealth)
	mux.HandleFunc("/healthz", w.handleHealth)
	if w.updates != nil {
		mux.HandleFunc(w.path, w.handleUpdate)
	}
	if w.documents != nil {
		mux.HandleFunc("/process", w.handleProcess)
	}
	if w.users != nil {
		mux.HandleFunc("/users", w.handleUsers)
		mux.HandleFunc("/count", w.handleCount)
	}
	if w.metrics != nil {
		mux.Handle(w.metricsPath, w.metrics.Handler())
	}
	return mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("http server starting", "addr", w.addr, "webhook_path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func (w *Webhook) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/healthz" {
		http.NotFound(rw, r)
		return
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(rw, healthText)
}

// handleUpdate answers 200 once the update is handled. Handler failures
// were already replied to in chat.
func (w *Webhook) handleUpdate(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if got == "" {
			http.Error(rw, "Missing secret token", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) != 1 {
			http.Error(rw, "Invalid secret token", http.StatusForbidden)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&update); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if u, ok := ToUpdate(update); ok {
		w.logger.Debug("webhook update received", "update_id", update.UpdateID, "chat_id", u.ChatID)
		if err := w.updates.Process(r.Context(), u); err != nil {
			w.logger.Debug("webhook update finished with error", "update_id", update.UpdateID, "err", err)
		}
	}
	rw.WriteHeader(http.StatusOK)
}

func (w *Webhook) handleProcess(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var req ProcessRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, ProcessResponse{Error: "invalid JSON body"})
		return
	}
	if msg := validateProcess(req); msg != "" {
		writeJSON(rw, http.StatusBadRequest, ProcessResponse{Error: msg})
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("process panic", "panic", rec, "stack", string(debug.Stack()))
			writeJSON(rw, http.StatusInternalServerError, ProcessResponse{Error: "internal error"})
		}
	}()

	result, err := w.documents.Process(r.Context(), handler.Source{
		URL:  req.FileURL,
		Name: req.FileName,
		Key:  req.FileName,
	}, nil)
	if err != nil {
		w.logger.Warn("process failed", "file_name", req.FileName, "kind", domain.KindOf(err), "err", err)
		writeJSON(rw, http.StatusOK, ProcessResponse{Error: w.errorText(err)})
		return
	}
	writeJSON(rw, http.StatusOK, ProcessResponse{Result: result})
}

func validateProcess(req ProcessRequest) string {
	if strings.TrimSpace(req.FileURL) == "" {
		return "file_url is required"
	}
	u, err := url.Parse(req.FileURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "file_url must be an http(s) URL"
	}
	if strings.TrimSpace(req.FileName) == "" {
		return "file_name is required"
	}
	return ""
}

func (w *Webhook) errorText(err error) string {
	if w.reply != nil {
		return w.reply("document", err)
	}
	return err.Error()
}

func (w *Webhook) handleUsers(rw http.ResponseWriter, r *http.Request) {
	users, err := w.users.List(r.Context())
	if err != nil {
		w.logger.Error("list users failed", "err", err)
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, http.StatusOK, store.Export(users))
}

func (w *Webhook) handleCount(rw http.ResponseWriter, r *http.Request) {
	n, err := w.users.Count(r.Context())
	if err != nil {
		w.logger.Error("count users failed", "err", err)
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	text := strconv.Itoa(n)
	if w.catalog != nil {
		text = w.catalog.T("users.count", n)
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(rw, text)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
