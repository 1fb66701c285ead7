package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"relaybot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramPollTimeout = 30

	// PublicDownloadLimit is the largest file getFile serves on the public
	// Bot API. A self-hosted Bot API server has no such limit.
	PublicDownloadLimit = 20 * 1024 * 1024

	// SecretTokenHeader carries the secret registered with setWebhook.
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// IsPublicAPI reports whether endpoint is the public Bot API.
func IsPublicAPI(endpoint string) bool {
	return endpoint == "" || endpoint == tgbotapi.APIEndpoint
}

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	Token       string
	APIEndpoint string // default: tgbotapi.APIEndpoint
	Client      *http.Client
	// Lenient keeps an unverified client when the token check fails instead
	// of returning the error.
	Lenient bool
	Logger  *slog.Logger
}

// Telegram implements domain.Messenger on the Bot API and feeds updates
// to a domain.UpdateHandler, either by long polling or from the webhook.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	verified bool
	logger   *slog.Logger
}

// NewTelegram connects to the Bot API and validates the token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.Client)
	if err != nil {
		if !cfg.Lenient {
			return nil, fmt.Errorf("telegram bot init: %w", err)
		}
		cfg.Logger.Error("telegram token check failed, continuing with an unverified client", "err", err)
		bot = &tgbotapi.BotAPI{Token: cfg.Token, Client: cfg.Client, Buffer: 100}
		bot.SetAPIEndpoint(cfg.APIEndpoint)
		return &Telegram{bot: bot, logger: cfg.Logger}, nil
	}

	cfg.Logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return &Telegram{bot: bot, verified: true, logger: cfg.Logger}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// UserName returns the bot's username, empty for an unverified client.
func (t *Telegram) UserName() string { return t.bot.Self.UserName }

// Poll long-polls for updates and hands each one to h until ctx is done.
// Any webhook is removed first, as Telegram refuses getUpdates otherwise.
func (t *Telegram) Poll(ctx context.Context, h domain.UpdateHandler) error {
	if _, err := t.api(ctx).Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		t.logger.Warn("delete webhook failed", "err", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram polling stopping")
			if t.verified {
				t.bot.StopReceivingUpdates()
			}
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if du, ok := ToUpdate(update); ok {
				h.HandleUpdate(ctx, du)
			}
		}
	}
}

// SetWebhook registers url with Telegram as the update destination.
// Telegram echoes secret in SecretTokenHeader on every delivery.
func (t *Telegram) SetWebhook(ctx context.Context, url, secret string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	params := tgbotapi.Params{"url": wh.URL.String()}
	params.AddNonEmpty("secret_token", secret)
	if _, err := t.api(ctx).MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	t.logger.Info("telegram webhook registered", "url", url, "secret", secret != "")
	return nil
}

// ToUpdate normalizes a Bot API update. ok is false for updates that carry
// no message.
func ToUpdate(update tgbotapi.Update) (domain.Update, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return domain.Update{}, false
	}
	u := domain.Update{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Caption:   msg.Caption,
	}
	if msg.From != nil {
		u.UserID = msg.From.ID
		u.UserName = msg.From.UserName
		u.FirstName = msg.From.FirstName
	}
	if d := msg.Document; d != nil {
		u.Document = &domain.DocumentRef{
			FileID:       d.FileID,
			FileUniqueID: d.FileUniqueID,
			MimeType:     d.MimeType,
			FileName:     d.FileName,
			FileSize:     int64(d.FileSize),
		}
	}
	return u, true
}

// api returns a view of the bot whose HTTP requests carry ctx, so a call
// is abandoned once ctx is done. tgbotapi builds requests without a context.
func (t *Telegram) api(ctx context.Context) *tgbotapi.BotAPI {
	bot := *t.bot
	bot.Client = contextClient{ctx: ctx, next: t.bot.Client}
	return &bot
}

type contextClient struct {
	ctx  context.Context
	next tgbotapi.HTTPClient
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.next.Do(req.WithContext(c.ctx))
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) (domain.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageRef{}, err
	}
	sent, err := t.api(ctx).Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	return domain.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (t *Telegram) EditText(ctx context.Context, ref domain.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api(ctx).Send(tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *Telegram) Delete(ctx context.Context, ref domain.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api(ctx).Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (t *Telegram) SendAudio(ctx context.Context, chatID int64, a domain.Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, closeFile, err := requestFile(a)
	if err != nil {
		return err
	}
	defer closeFile()

	audio := tgbotapi.NewAudio(chatID, file)
	audio.Caption = a.Caption
	if _, err := t.api(ctx).Send(audio); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

func (t *Telegram) SendVideo(ctx context.Context, chatID int64, a domain.Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, closeFile, err := requestFile(a)
	if err != nil {
		return err
	}
	defer closeFile()

	video := tgbotapi.NewVideo(chatID, file)
	video.Caption = a.Caption
	if _, err := t.api(ctx).Send(video); err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	return nil
}

func (t *Telegram) FileURL(ctx context.Context, fileID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	link, err := t.api(ctx).GetFileDirectURL(fileID)
	if err != nil {
		return "", fileError(err)
	}
	return link, nil
}

// fileError classifies a getFile failure. Files over the download limit
// become too-large failures.
func fileError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "file is too big") {
		return domain.Wrap(domain.FailureTooLarge, "telegram.getFile", err)
	}
	return fmt.Errorf("get file: %w", err)
}

// requestFile turns an attachment into upload data. Local files are sent
// under the attachment's display name.
func requestFile(a domain.Attachment) (tgbotapi.RequestFileData, func(), error) {
	if a.URL != "" {
		return tgbotapi.FileURL(a.URL), func() {}, nil
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment: %w", err)
	}
	name := a.Name
	if name == "" {
		name = f.Name()
	}
	return tgbotapi.FileReader{Name: name, Reader: f}, func() { f.Close() }, nil
}
