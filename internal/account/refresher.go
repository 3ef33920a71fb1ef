package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults
const (
	DefaultRefreshInterval = 5 * time.Minute
	HistorySize            = 168
)

// Fetcher loads a fresh session.
type Fetcher interface {
	Fetch(ctx context.Context) (Session, error)
}

// BalancePoint is one balance observation.
type BalancePoint struct {
	At      time.Time       `json:"at"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceChangeFunc is called when a refresh observes a different balance.
type BalanceChangeFunc func(prev, cur decimal.Decimal)

// Refresher holds the current session and reloads it on an interval.
type Refresher struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	current  Session
	loaded   bool
	history  []BalancePoint
	onChange BalanceChangeFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a refresher. interval <= 0 selects the default.
func NewRefresher(f Fetcher, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		fetcher:  f,
		interval: interval,
		logger:   logger,
	}
}

// OnBalanceChange sets the balance change hook.
func (r *Refresher) OnBalanceChange(fn BalanceChangeFunc) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Start loads the session once (blocking) and then keeps it fresh.
// A failed initial load is returned; the process cannot poll without it.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.Refresh(r.ctx); err != nil {
		r.cancel()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.refreshLoop(r.ctx)
	}()

	s, _ := r.Current()
	r.logger.Info("account session loaded",
		"user", s.UserName,
		"user_id", s.UserID,
		"balance", s.Balance.String(),
		"sales", s.Sales,
	)
	return nil
}

// Stop gracefully shuts down.
func (r *Refresher) Stop(ctx context.Context) error {
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
		r.logger.Info("account refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("account refresh failed, keeping previous session", "error", err)
			}
		}
	}
}

// Refresh fetches the session now. On failure the previous session is kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	s, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev, hadPrev := r.current.Balance, r.loaded
	r.current = s
	r.loaded = true
	r.history = append(r.history, BalancePoint{At: s.FetchedAt, Balance: s.Balance})
	if len(r.history) > HistorySize {
		r.history = r.history[len(r.history)-HistorySize:]
	}
	onChange := r.onChange
	r.mu.Unlock()

	if hadPrev && !prev.Equal(s.Balance) {
		r.logger.Info("balance changed", "from", prev.String(), "to", s.Balance.String())
		if onChange != nil {
			onChange(prev, s.Balance)
		}
	}
	return nil
}

// Current returns the latest session and whether one has been loaded.
func (r *Refresher) Current() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.loaded
}

// BalanceHistory returns up to the last n points, oldest first.
// n <= 0 returns the whole history.
func (r *Refresher) BalanceHistory(n int) []BalancePoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := r.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	out := make([]BalancePoint, len(h))
	copy(out, h)
	return out
}
