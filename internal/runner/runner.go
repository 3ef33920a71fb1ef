package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/account"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/chat"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/transport"
)

// Errors
var ErrNoSession = errors.New("no account session")

// Caller performs runner requests.
type Caller interface {
	Call(ctx context.Context, url string, opts transport.Options, delay time.Duration, maxRetries int) *transport.Result
}

// SessionSource provides the session each poll is authenticated with.
type SessionSource interface {
	Current() (account.Session, bool)
}

// Alerter is told once when the polling interval escalates.
type Alerter interface {
	SendErrorAlert(ctx context.Context, consecutiveErrors int) error
}

// ChatParser turns the chat bookmarks HTML into summaries.
type ChatParser func(html string) ([]chat.Summary, error)

// Config holds runner configuration.
type Config struct {
	BaseURL           string        // marketplace root, the endpoint is BaseURL + "/runner/"
	GoldenKey         string        // sent as a cookie with every poll
	Interval          time.Duration // baseline tick interval (default: 6s)
	EscalatedInterval time.Duration // interval after repeated failures (default: 30s)
	ErrorThreshold    int           // consecutive failures before escalating (default: 5)
	AlertTimeout      time.Duration // bound on a single alert delivery (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://funpay.com",
		Interval:          6 * time.Second,
		EscalatedInterval: 30 * time.Second,
		ErrorThreshold:    5,
		AlertTimeout:      10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.EscalatedInterval <= 0 {
		c.EscalatedInterval = d.EscalatedInterval
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	if c.AlertTimeout <= 0 {
		c.AlertTimeout = d.AlertTimeout
	}
}

// handlerSlot is one registered callback plus any extra subscribers.
type handlerSlot[F any] struct {
	primary *F
	extra   []F
}

func (s *handlerSlot[F]) all() []F {
	out := make([]F, 0, len(s.extra)+1)
	if s.primary != nil {
		out = append(out, *s.primary)
	}
	return append(out, s.extra...)
}

// Runner is the polling loop. The tick state below is owned by the loop
// goroutine; stats and handlers have their own locks.
type Runner struct {
	cfg       Config
	endpoint  string
	caller    Caller
	session   SessionSource
	alerter   Alerter
	sinks     []EventSink
	parseChat ChatParser
	logger    *slog.Logger

	ordersTag         Tag
	chatTag           Tag
	snapshot          []chat.Summary
	primed            bool
	consecutiveErrors int
	interval          time.Duration
	escalated         bool

	handlersMu sync.RWMutex
	onOrders   handlerSlot[func()]
	onStream   handlerSlot[func()]
	onUnread   handlerSlot[func(chat.Summary)]

	statsMu sync.RWMutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithAlerter sets the escalation alerter.
func WithAlerter(a Alerter) Option {
	return func(r *Runner) {
		r.alerter = a
	}
}

// WithSink adds event sinks.
func WithSink(sinks ...EventSink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithChatParser replaces the chat bookmarks parser.
func WithChatParser(p ChatParser) Option {
	return func(r *Runner) {
		r.parseChat = p
	}
}

// New creates a new Runner with fresh random tags.
func New(cfg Config, caller Caller, session SessionSource, opts ...Option) *Runner {
	cfg.applyDefaults()
	r := &Runner{
		cfg:       cfg,
		endpoint:  strings.TrimSuffix(cfg.BaseURL, "/") + "/runner/",
		caller:    caller,
		session:   session,
		parseChat: chat.ParseBookmarks,
		logger:    slog.Default(),
		ordersTag: NewTag(),
		chatTag:   NewTag(),
		interval:  cfg.Interval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stats.Interval = r.interval
	r.stats.OrdersTag = r.ordersTag
	r.stats.ChatTag = r.chatTag
	return r
}

// RegisterOrderChangedCallback sets the order change callback, replacing
// any previous one.
func (r *Runner) RegisterOrderChangedCallback(fn func()) {
	r.handlersMu.Lock()
	r.onOrders.primary = &fn
	r.handlersMu.Unlock()
}

// RegisterStreamChangedCallback sets the chat stream change callback,
// replacing any previous one.
func (r *Runner) RegisterStreamChangedCallback(fn func()) {
	r.handlersMu.Lock()
	r.onStream.primary = &fn
	r.handlersMu.Unlock()
}

// RegisterNewUnreadCallback sets the new unread message callback,
// replacing any previous one.
func (r *Runner) RegisterNewUnreadCallback(fn func(chat.Summary)) {
	r.handlersMu.Lock()
	r.onUnread.primary = &fn
	r.handlersMu.Unlock()
}

// SubscribeOrderChanged adds a listener called after the registered callback.
func (r *Runner) SubscribeOrderChanged(fn func()) {
	r.handlersMu.Lock()
	r.onOrders.extra = append(r.onOrders.extra, fn)
	r.handlersMu.Unlock()
}

// SubscribeStreamChanged adds a listener called after the registered callback.
func (r *Runner) SubscribeStreamChanged(fn func()) {
	r.handlersMu.Lock()
	r.onStream.extra = append(r.onStream.extra, fn)
	r.handlersMu.Unlock()
}

// SubscribeNewUnread adds a listener called after the registered callback.
func (r *Runner) SubscribeNewUnread(fn func(chat.Summary)) {
	r.handlersMu.Lock()
	r.onUnread.extra = append(r.onUnread.extra, fn)
	r.handlersMu.Unlock()
}

// Start runs a warm-up tick synchronously and then begins the loop.
// A failed warm-up is counted like any other failed tick.
func (r *Runner) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.runTick(r.ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("runner started",
		"endpoint", r.endpoint,
		"interval", r.cfg.Interval,
		"escalated_interval", r.cfg.EscalatedInterval,
	)
	return nil
}

// Stop gracefully shuts down the runner.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run reschedules after every tick using the interval that tick left.
func (r *Runner) run() {
	defer r.wg.Done()

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
			r.runTick(r.ctx)
			timer.Reset(r.interval)
		}
	}
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

// Interval returns the interval the next tick will be scheduled with.
func (r *Runner) Interval() time.Duration {
	return r.Stats().Interval
}
