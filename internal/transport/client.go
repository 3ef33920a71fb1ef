package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for a Client built without options.
const (
	DefaultTimeout        = 15 * time.Second
	DefaultMinInterval    = 1 * time.Second
	DefaultCacheTTL       = 30 * time.Second
	DefaultCacheEntries   = 100
	DefaultMaxRetries     = 20
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultFatalThreshold = 5

	maxBodySize = 8 << 20 // 8MB
)

// FatalFunc is invoked once the exhaustion counter crosses the fatal threshold.
// The default logs nothing further and exits the process with status 1.
type FatalFunc func(reason string)

// Client is the resilient transport. It is safe for concurrent use; the
// cache, limiter and failure counter are shared by every caller.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	cache      Cache

	timeout        time.Duration
	maxRetries     int
	backoffBase    time.Duration
	backoffMax     time.Duration
	fatalThreshold int
	userAgent      string
	mock           bool

	onFatal FatalFunc
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	failures int // consecutive calls that exhausted their retries
	stats    Stats
}

// Stats is a point-in-time view of transport counters.
type Stats struct {
	Calls             int64 `json:"calls"`
	Attempts          int64 `json:"attempts"`
	Retries           int64 `json:"retries"`
	CacheHits         int64 `json:"cache_hits"`
	Exhausted         int64 `json:"exhausted"`
	ConsecutiveFailed int   `json:"consecutive_failed"`
}

// Option configures a Client.
type Option func(*Client)

// New creates a transport Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		logger:         slog.Default(),
		limiter:        newLimiter(DefaultMinInterval),
		timeout:        DefaultTimeout,
		maxRetries:     DefaultMaxRetries,
		backoffBase:    DefaultBackoffBase,
		backoffMax:     DefaultBackoffMax,
		fatalThreshold: DefaultFatalThreshold,
		onFatal:        exitProcess,
		sleep:          sleepContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.cache == nil {
		c.cache = NewMemoryCache(DefaultCacheTTL, DefaultCacheEntries)
	}

	return c
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMinInterval sets the minimum spacing between any two outbound requests.
// Zero or negative disables throttling.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		c.limiter = newLimiter(d)
	}
}

// WithRetries sets the default attempt ceiling and the backoff schedule.
func WithRetries(max int, base, ceiling time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.backoffBase = base
		c.backoffMax = ceiling
	}
}

// WithFatalThreshold sets how many consecutive exhausted calls are tolerated.
func WithFatalThreshold(n int) Option {
	return func(c *Client) {
		c.fatalThreshold = n
	}
}

// WithFatalFunc replaces the process exit performed on fatal escalation.
func WithFatalFunc(fn FatalFunc) Option {
	return func(c *Client) {
		c.onFatal = fn
	}
}

// WithCache sets the GET response cache.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent used when a request does not carry one.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithProxy routes every request through the given proxy URL.
func WithProxy(u *url.URL) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyURL(u),
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		}
	}
}

// WithMock makes every call return a canned success without touching the network.
func WithMock(enabled bool) Option {
	return func(c *Client) {
		c.mock = enabled
	}
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.ConsecutiveFailed = c.failures
	return s
}

func newLimiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func exitProcess(string) {
	// Give buffered log writers a moment before the hard exit.
	time.Sleep(100 * time.Millisecond)
	os.Exit(1)
}
