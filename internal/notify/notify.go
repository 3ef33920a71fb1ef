// Package notify delivers operator notifications: escalation alerts, new
// chat messages, order changes, balance changes and lifecycle messages.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/chat"
)

// Notifier sends operator notifications.
type Notifier interface {
	SendErrorAlert(ctx context.Context, consecutiveErrors int) error
	SendNewMessage(ctx context.Context, msg chat.Summary) error
	SendOrdersChanged(ctx context.Context) error
	SendBalanceChange(ctx context.Context, prev, cur decimal.Decimal) error
	SendAccountBlocked(ctx context.Context) error
	SendLifecycle(ctx context.Context, text string) error
}

// Log writes notifications to the logger. It is used when no Telegram bot
// is configured.
type Log struct {
	logger   *slog.Logger
	interval time.Duration
}

// NewLog creates a logging notifier. interval is the escalated polling
// interval quoted in error alerts.
func NewLog(interval time.Duration, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, interval: interval}
}

func (l *Log) SendErrorAlert(_ context.Context, n int) error {
	l.logger.Warn("ALERT: repeated runner errors", "consecutive", n, "interval", l.interval)
	return nil
}

func (l *Log) SendNewMessage(_ context.Context, msg chat.Summary) error {
	l.logger.Info("NOTIFY: new message", "user", msg.User, "node", msg.Node, "message", msg.Message)
	return nil
}

func (l *Log) SendOrdersChanged(_ context.Context) error {
	l.logger.Info("NOTIFY: orders changed")
	return nil
}

func (l *Log) SendBalanceChange(_ context.Context, prev, cur decimal.Decimal) error {
	l.logger.Info("NOTIFY: balance changed", "from", prev.String(), "to", cur.String())
	return nil
}

func (l *Log) SendAccountBlocked(_ context.Context) error {
	l.logger.Error("ALERT: account is blocked")
	return nil
}

func (l *Log) SendLifecycle(_ context.Context, text string) error {
	l.logger.Info("NOTIFY: " + text)
	return nil
}
