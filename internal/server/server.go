package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/account"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/runner"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// RunnerSource reports runner state.
type RunnerSource interface {
	Stats() runner.Stats
}

// AccountSource reports the current session and balance history.
type AccountSource interface {
	Current() (account.Session, bool)
	BalanceHistory(n int) []account.BalancePoint
}

// EventSource returns recent runner events, newest first.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]runner.Event, error)
}

// TransportSource reports transport counters.
type TransportSource interface {
	Stats() transport.Stats
}

// Deps are the components the operator surfaces read from.
type Deps struct {
	Runner    RunnerSource
	Account   AccountSource
	Events    EventSource
	Transport TransportSource
	Feed      http.Handler // mounted at /ws when set
	Started   time.Time
}

// Server is one HTTP listener.
type Server struct {
	name    string
	port    int
	handler http.Handler
	logger  *slog.Logger
}

// New creates a listener named name on port.
func New(name string, port int, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{name: name, port: port, handler: handler, logger: logger}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
// It fails fast when the port cannot be bound.
func (s *Server) Run(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("%s server: bind port %d: %w", s.name, s.port, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so long-lived handlers like /ws exit on shutdown.
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting "+s.name+" server", "port", s.port)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", s.name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error(s.name+" server shutdown error", "error", err)
		return err
	}
	s.logger.Info(s.name + " server stopped")
	return nil
}

// summary is the body shared by /health and /api/status.
type summary struct {
	Status  string `json:"status"`
	Uptime  int64  `json:"uptime"`
	RAM     string `json:"ram"`
	Errors  int64  `json:"errors"`
	Account string `json:"account"`
}

func (d Deps) summary() summary {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := summary{
		Status:  "ok",
		Uptime:  int64(time.Since(d.Started).Seconds()),
		RAM:     humanize.Bytes(mem.HeapAlloc),
		Account: "unknown",
	}
	if d.Runner != nil {
		st := d.Runner.Stats()
		s.Errors = st.ErrorsTotal
		if st.Escalated {
			s.Status = "degraded"
		}
	}
	if d.Account != nil {
		if sess, ok := d.Account.Current(); ok {
			s.Account = sess.UserName
		}
	}
	return s
}
