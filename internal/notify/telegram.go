package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/chat"
)

const telegramMessageLimit = 4096

// Telegram sends notifications to a single chat through the Bot API.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	siteURL  string
	interval time.Duration
	logger   *slog.Logger
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	SiteURL  string        // marketplace root used for chat links
	Interval time.Duration // escalated polling interval quoted in alerts
	Endpoint string        // Bot API endpoint format, defaults to tgbotapi.APIEndpoint

	// Client performs Bot API requests. tgbotapi sends without a context, so
	// its Timeout is what bounds an abandoned request; Send* methods return
	// as soon as their ctx ends. Defaults to a 15s timeout.
	Client *http.Client
}

// NewTelegram connects to the Bot API and verifies the token.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 15 * time.Second}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	logger.Info("telegram bot connected", "username", bot.Self.UserName, "chat_id", cfg.ChatID)

	return &Telegram{
		bot:      bot,
		chatID:   cfg.ChatID,
		siteURL:  strings.TrimSuffix(cfg.SiteURL, "/"),
		interval: cfg.Interval,
		logger:   logger,
	}, nil
}

func (t *Telegram) SendErrorAlert(ctx context.Context, n int) error {
	var b strings.Builder
	b.WriteString("🚨 <b>Repeated errors</b>\n\n")
	fmt.Fprintf(&b, "The bot hit <code>%d</code> errors in a row.\n", n)
	fmt.Fprintf(&b, "Polling interval raised to <code>%s</code>.\n\n", t.interval)
	b.WriteString("Possible causes:\n")
	b.WriteString("• the marketplace is down\n")
	b.WriteString("• network problems\n")
	b.WriteString("• golden_key expired\n\n")
	b.WriteString("The bot keeps trying to reconnect.")
	return t.send(ctx, b.String(), nil)
}

func (t *Telegram) SendNewMessage(ctx context.Context, msg chat.Summary) error {
	link := fmt.Sprintf("%s/chat/?node=%s", t.siteURL, msg.Node)
	text := fmt.Sprintf("💬 <b>New message</b> from <b><i>%s</i></b>.\n\n%s\n\n<i>%s</i>",
		html.EscapeString(msg.User), html.EscapeString(msg.Message), html.EscapeString(msg.Time))

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🔗 Open chat", link)),
	)
	return t.send(ctx, text, &markup)
}

func (t *Telegram) SendOrdersChanged(ctx context.Context) error {
	return t.send(ctx, fmt.Sprintf("🛒 <b>Orders changed</b>\n\n<a href=\"%s/orders/trade\">Open sales</a>", t.siteURL), nil)
}

func (t *Telegram) SendBalanceChange(ctx context.Context, prev, cur decimal.Decimal) error {
	arrow := "📉"
	if cur.GreaterThan(prev) {
		arrow = "📈"
	}
	return t.send(ctx, fmt.Sprintf("%s <b>Balance changed</b>\n\n💰 <code>%s</code> → <code>%s</code>",
		arrow, prev.StringFixed(2), cur.StringFixed(2)), nil)
}

func (t *Telegram) SendAccountBlocked(ctx context.Context) error {
	return t.send(ctx, "🚨🚨🚨 <b>ACCOUNT BLOCKED!</b> Check the marketplace now.", nil)
}

func (t *Telegram) SendLifecycle(ctx context.Context, text string) error {
	return t.send(ctx, html.EscapeString(text), nil)
}

func (t *Telegram) send(ctx context.Context, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, truncate(text))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.logger.Warn("telegram send failed", "chat_id", t.chatID, "error", err)
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

func truncate(text string) string {
	if len(text) <= telegramMessageLimit {
		return text
	}
	// Cut on a rune boundary.
	cut := telegramMessageLimit - 3
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
