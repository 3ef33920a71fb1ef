package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/runner"
)

// Config holds journal writer configuration.
type Config struct {
	BatchSize     int           // Rows per insert batch (default: 100)
	FlushInterval time.Duration // Max time between flushes (default: 2s)
	BufferSize    int           // Pending events before Publish drops (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		BufferSize:    1000,
	}
}

// Metrics tracks writer statistics.
type Metrics struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Flushes   int64 `json:"flushes"`
	Errors    int64 `json:"errors"`
	Dropped   int64 `json:"dropped"`
}

// Writer buffers runner events and writes them to a Store.
type Writer struct {
	cfg    Config
	store  Store
	logger *slog.Logger

	input chan runner.Event

	// Batching
	batch   []Row
	batchMu sync.Mutex
	metrics Metrics

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a new Writer.
func NewWriter(cfg Config, store Store, logger *slog.Logger) *Writer {
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		store:  store,
		logger: logger,
		input:  make(chan runner.Event, cfg.BufferSize),
		batch:  make([]Row, 0, cfg.BatchSize),
	}
}

// Publish queues ev. When the buffer is full the event is dropped.
func (w *Writer) Publish(ev runner.Event) {
	select {
	case w.input <- ev:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("journal buffer full, event dropped", "kind", ev.Kind, "id", ev.ID)
	}
}

// Start begins consuming events and writing to the store.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains pending events and performs a final flush within ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

drain:
	for {
		select {
		case ev := <-w.input:
			w.handleEvent(ctx, ev)
		default:
			break drain
		}
	}
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Recent returns the latest persisted events, newest first.
func (w *Writer) Recent(ctx context.Context, limit int) ([]runner.Event, error) {
	return w.store.Recent(ctx, limit)
}

func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.input:
			w.handleEvent(w.ctx, ev)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) handleEvent(ctx context.Context, ev runner.Event) {
	r, err := toRow(ev)
	if err != nil {
		w.logger.Error("encode journal event", "error", err, "kind", ev.Kind)
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// flush writes the current batch to the store. A failed batch is dropped
// and counted.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	conflicts, err := w.store.Insert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed runner events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}
