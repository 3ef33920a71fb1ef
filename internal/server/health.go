package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// NewHealthHandler creates the handler for the health listener.
func NewHealthHandler(d Deps, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.summary()); err != nil {
			logger.Warn("write health response", "error", err)
		}
	})

	if d.Feed != nil {
		mux.Handle("GET /ws", d.Feed)
	}

	return mux
}
