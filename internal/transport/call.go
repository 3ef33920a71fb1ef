package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Do performs a call with no startup delay and the default attempt ceiling.
func (c *Client) Do(ctx context.Context, url string, opts Options) *Result {
	return c.Call(ctx, url, opts, 0, 0)
}

// Call performs url with opts. It waits delay before the first attempt and
// makes at most maxRetries attempts (the client default when <= 0).
//
// The returned Result is never nil. Callers must only check Result.OK and must
// not assume any retries happened.
func (c *Client) Call(ctx context.Context, url string, opts Options, delay time.Duration, maxRetries int) *Result {
	if maxRetries <= 0 {
		maxRetries = c.maxRetries
	}
	method := opts.method()

	c.mu.Lock()
	c.stats.Calls++
	c.mu.Unlock()

	if c.mock {
		return c.mockResult(method, url)
	}

	if method == http.MethodGet {
		if e, ok := c.cache.Get(ctx, url); ok {
			c.mu.Lock()
			c.stats.CacheHits++
			c.mu.Unlock()
			return &Result{StatusCode: http.StatusOK, Header: e.Header.Clone(), Cached: true, body: e.Body}
		}
	}

	if err := c.sleep(ctx, delay); err != nil {
		return failed(fmt.Errorf("startup delay: %w", err))
	}

	schedule := c.newSchedule()
	var res *Result
	for attempt := 1; ; attempt++ {
		res = c.attempt(ctx, method, url, opts)
		res.Attempts = attempt

		if res.OK() {
			c.recordSuccess()
			if method == http.MethodGet {
				c.cache.Set(ctx, url, Entry{Body: res.body, Header: res.Header.Clone(), CapturedAt: time.Now()})
				c.logger.Debug("cached response", "url", url, "bytes", len(res.body))
			}
			return res
		}

		// Caller shutdown is not a remote failure.
		if ctx.Err() != nil {
			return res
		}
		if attempt >= maxRetries {
			break
		}

		wait := schedule.NextBackOff()
		c.logRetry(url, method, attempt, maxRetries, wait, res)
		c.mu.Lock()
		c.stats.Retries++
		c.mu.Unlock()

		if err := c.sleep(ctx, wait); err != nil {
			res.Err = fmt.Errorf("retry wait: %w", err)
			return res
		}
	}

	c.recordExhausted(method, url, maxRetries, res)
	return res
}

// attempt performs one bounded HTTP exchange.
func (c *Client) attempt(ctx context.Context, method, url string, opts Options) *Result {
	if err := c.limiter.Wait(ctx); err != nil {
		return failed(fmt.Errorf("rate limit wait: %w", err))
	}

	c.mu.Lock()
	c.stats.Attempts++
	c.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, body)
	if err != nil {
		return failed(fmt.Errorf("create request: %w", err))
	}
	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failed(c.classify(ctx, url, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Err: c.classify(ctx, url, err)}
	}

	res := &Result{StatusCode: resp.StatusCode, Header: resp.Header, body: data}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Err = &StatusError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       data,
		}
	}
	return res
}

// classify turns an attempt deadline into ErrTimeout; the parent context's
// own cancellation passes through untouched.
func (c *Client) classify(ctx context.Context, url string, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("request timed out", "url", url, "timeout", c.timeout)
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	return fmt.Errorf("do request: %w", err)
}

// newSchedule returns the capped exponential schedule: base, 2*base, 4*base...
func (c *Client) newSchedule() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.backoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.backoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (c *Client) logRetry(url, method string, attempt, maxRetries int, wait time.Duration, res *Result) {
	level := c.logger.Warn
	var se *StatusError
	if errors.As(res.Err, &se) && !se.IsRetryable() {
		level = c.logger.Error
	}
	level("request failed, retrying",
		"url", url,
		"method", method,
		"attempt", attempt,
		"max_attempts", maxRetries,
		"backoff", wait,
		"status", res.StatusCode,
		"error", res.Err,
	)
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

// recordExhausted counts a call whose every attempt failed and escalates to
// fatal once the consecutive count exceeds the threshold.
func (c *Client) recordExhausted(method, url string, maxRetries int, res *Result) {
	c.mu.Lock()
	c.failures++
	c.stats.Exhausted++
	n := c.failures
	c.mu.Unlock()

	c.logger.Error("request retries exhausted",
		"url", url,
		"method", method,
		"attempts", maxRetries,
		"consecutive_exhausted", n,
		"status", res.StatusCode,
		"error", res.Err,
	)

	if n > c.fatalThreshold {
		reason := fmt.Sprintf("%d consecutive requests exhausted their retries (threshold %d): session credential or network assumed unusable", n, c.fatalThreshold)
		c.logger.Error("transport escalation, terminating process", "reason", reason)
		c.onFatal(reason)
	}
}
