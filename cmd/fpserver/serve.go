package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/account"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/chat"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/config"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/database"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/feed"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/journal"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/logging"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/notify"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/runner"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/server"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/transport"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/version"
)

const (
	shutdownTimeout = 10 * time.Second
	notifyTimeout   = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the seller bot",
	Long: `Start the seller bot.

The bot will:
  - Load the account session (exits if the golden_key is rejected)
  - Poll the runner endpoint for order and chat changes
  - Notify the operator through Telegram (or the log)
  - Serve /health, /ws and, when server.api_key is set, the status API

The bot runs until interrupted (Ctrl+C) or receives SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting fpserver",
		"version", version.Version,
		"commit", version.Commit,
		"base_url", cfg.Account.BaseURL,
		"mock", cfg.Transport.Mock,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger, logCloser)
}

// run wires the components and blocks until ctx is cancelled or a listener
// fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, logCloser io.Closer) error {
	notifier := newNotifier(cfg, logger)
	async := &asyncNotifier{n: notifier, logger: logger}
	defer async.Wait()

	client, closeCache, err := newTransport(ctx, cfg, logger, func(reason string) {
		logger.Error("fatal transport escalation, exiting", "reason", reason)
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = notifier.SendLifecycle(fctx, "Bot stopped: "+reason)
		cancel()
		_ = logCloser.Close()
		os.Exit(1)
	})
	if err != nil {
		return err
	}
	defer closeCache()

	// Account session
	accountClient := account.NewClient(cfg.Account.BaseURL, cfg.Account.GoldenKey, client, logger)
	refresher := account.NewRefresher(accountClient, cfg.Account.RefreshInterval, logger)
	refresher.OnBalanceChange(func(prev, cur decimal.Decimal) {
		async.Go(func(ctx context.Context) error { return notifier.SendBalanceChange(ctx, prev, cur) })
	})
	if err := refresher.Start(ctx); err != nil {
		if errors.Is(err, account.ErrAccountBlocked) {
			async.Go(notifier.SendAccountBlocked)
		}
		return fmt.Errorf("load account session: %w", err)
	}

	// Event sinks
	hub := feed.NewHub(logger)
	sinks := []runner.EventSink{hub}
	var events server.EventSource = hub

	var journalWriter *journal.Writer
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database connected")

		journalWriter = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, journal.NewPostgresStore(pool), logger)
		if err := journalWriter.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		sinks = append(sinks, journalWriter)
		events = journalWriter
	}

	// Runner
	r := runner.New(runner.Config{
		BaseURL:           cfg.Account.BaseURL,
		GoldenKey:         cfg.Account.GoldenKey,
		Interval:          cfg.Runner.Interval,
		EscalatedInterval: cfg.Runner.EscalatedInterval,
		ErrorThreshold:    cfg.Runner.ErrorThreshold,
	}, client, refresher,
		runner.WithLogger(logger),
		runner.WithAlerter(notifier),
		runner.WithSink(sinks...),
	)
	r.RegisterOrderChangedCallback(func() {
		async.Go(notifier.SendOrdersChanged)
	})
	r.RegisterNewUnreadCallback(func(msg chat.Summary) {
		async.Go(func(ctx context.Context) error { return notifier.SendNewMessage(ctx, msg) })
	})
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}

	// Operator surfaces
	deps := server.Deps{
		Runner:    r,
		Account:   refresher,
		Events:    events,
		Transport: client,
		Feed:      hub,
		Started:   time.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New("health", cfg.Server.HealthPort, server.NewHealthHandler(deps, logger), logger).Run(gctx)
	})
	if cfg.Server.APIKey != "" {
		g.Go(func() error {
			return server.New("api", cfg.Server.APIPort, server.NewAPIRouter(deps, cfg.Server.APIKey, logger), logger).Run(gctx)
		})
	} else {
		logger.Warn("server.api_key not set, status API disabled")
	}

	sess, _ := refresher.Current()
	async.Go(func(ctx context.Context) error {
		return notifier.SendLifecycle(ctx, fmt.Sprintf("Bot started (%s, %s)", sess.UserName, version.Version))
	})
	logger.Info("fpserver running",
		"user", sess.UserName,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.HealthPort),
	)

	runErr := g.Wait()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopAll(shutdownCtx, logger,
		stopper{"runner", r.Stop},
		stopper{"account refresher", refresher.Stop},
	)
	if journalWriter != nil {
		stopAll(shutdownCtx, logger, stopper{"journal", journalWriter.Stop})
	}

	if err := notifier.SendLifecycle(shutdownCtx, "Bot stopped"); err != nil {
		logger.Warn("stop notification not delivered", "error", err)
	}
	logger.Info("fpserver stopped")
	return runErr
}

type stopper struct {
	name string
	stop func(context.Context) error
}

func stopAll(ctx context.Context, logger *slog.Logger, stoppers ...stopper) {
	for _, s := range stoppers {
		if err := s.stop(ctx); err != nil {
			logger.Warn("stop failed", "component", s.name, "error", err)
		}
	}
}

// newTransport builds the transport client from config. The returned func
// releases the cache backend.
func newTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger, onFatal transport.FatalFunc) (*transport.Client, func(), error) {
	tc := cfg.Transport
	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithTimeout(tc.Timeout),
		transport.WithMinInterval(tc.MinInterval),
		transport.WithRetries(tc.MaxRetries, tc.BackoffBase, tc.BackoffMax),
		transport.WithFatalThreshold(tc.FatalThreshold),
		transport.WithFatalFunc(onFatal),
		transport.WithUserAgent(cfg.Account.UserAgent),
		transport.WithMock(tc.Mock),
	}

	if cfg.Proxy.Enabled {
		p := cfg.Proxy
		u, err := transport.ProxyURL(p.Type, p.Host, p.Port, p.Login, p.Password)
		if err != nil {
			return nil, nil, fmt.Errorf("proxy: %w", err)
		}
		opts = append(opts, transport.WithProxy(u))
		logger.Info("using proxy", "type", p.Type, "host", p.Host, "port", p.Port)
	}

	release := func() {}
	switch tc.CacheBackend {
	case config.CacheBackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: tc.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis cache %s: %w", tc.RedisAddr, err)
		}
		opts = append(opts, transport.WithCache(transport.NewRedisCache(rdb, tc.CacheTTL, tc.CacheMaxEntries, logger)))
		release = func() { _ = rdb.Close() }
		logger.Info("using redis response cache", "addr", tc.RedisAddr)
	default:
		opts = append(opts, transport.WithCache(transport.NewMemoryCache(tc.CacheTTL, tc.CacheMaxEntries)))
	}

	return transport.New(opts...), release, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if !cfg.Telegram.Enabled {
		return notify.NewLog(cfg.Runner.EscalatedInterval, logger)
	}
	tg, err := notify.NewTelegram(notify.TelegramConfig{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		SiteURL:  cfg.Account.BaseURL,
		Interval: cfg.Runner.EscalatedInterval,
	}, logger)
	if err != nil {
		logger.Warn("telegram unavailable, notifications go to the log", "error", err)
		return notify.NewLog(cfg.Runner.EscalatedInterval, logger)
	}
	return tg
}

// asyncNotifier sends notifications off the runner tick.
type asyncNotifier struct {
	n      notify.Notifier
	logger *slog.Logger
	wg     sync.WaitGroup
}

func (a *asyncNotifier) Go(send func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			a.logger.Warn("notification not delivered", "error", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (a *asyncNotifier) Wait() {
	a.wg.Wait()
}
