package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/version"
)

const (
	APIKeyHeader       = "X-API-Key"
	RequestIDHeaderKey = "X-Request-ID"
	requestIDKey       = "request_id"

	balanceHistoryPoints = 24
	defaultEventLimit    = 50
	maxEventLimit        = 100
	requestTimeout       = 10 * time.Second
)

const notFoundMessage = "Not Found. Available: /api/status, /api/balance, /api/runner, /api/events"

// API serves the key-protected status routes.
type API struct {
	deps   Deps
	apiKey string
	logger *slog.Logger
}

// NewAPIRouter creates the status API router. Every route, including
// unknown ones, requires the X-API-Key header to match apiKey.
func NewAPIRouter(d Deps, apiKey string, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	h := &API{deps: d, apiKey: apiKey, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(h.loggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(h.apiKeyMiddleware())

	api := router.Group("/api")
	api.GET("/status", h.getStatus)
	api.GET("/balance", h.getBalance)
	api.GET("/runner", h.getRunner)
	api.GET("/events", h.getEvents)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage})
	})

	return router
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Set(requestIDKey, requestID)
		c.Next()
	}
}

func (h *API) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("api request",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func (h *API) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized. Provide X-API-Key header."})
			return
		}
		c.Next()
	}
}

func (h *API) getStatus(c *gin.Context) {
	s := h.deps.summary()
	body := gin.H{
		"status":  s.Status,
		"uptime":  s.Uptime,
		"ram":     s.RAM,
		"errors":  s.Errors,
		"account": s.Account,
		"version": version.Get(),
	}
	if h.deps.Transport != nil {
		body["transport"] = h.deps.Transport.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (h *API) getBalance(c *gin.Context) {
	if h.deps.Account == nil {
		h.handleError(c, http.StatusServiceUnavailable, "account not available", nil)
		return
	}
	sess, ok := h.deps.Account.Current()
	if !ok {
		h.handleError(c, http.StatusServiceUnavailable, "account not loaded", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance": sess.Balance,
		"sales":   sess.Sales,
		"history": h.deps.Account.BalanceHistory(balanceHistoryPoints),
	})
}

func (h *API) getRunner(c *gin.Context) {
	if h.deps.Runner == nil {
		h.handleError(c, http.StatusServiceUnavailable, "runner not available", nil)
		return
	}
	st := h.deps.Runner.Stats()
	c.JSON(http.StatusOK, gin.H{
		"stats":    st,
		"interval": st.Interval.String(),
	})
}

func (h *API) getEvents(c *gin.Context) {
	if h.deps.Events == nil {
		h.handleError(c, http.StatusServiceUnavailable, "events not available", nil)
		return
	}

	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			h.handleError(c, http.StatusBadRequest, "limit must be between 1 and 100", nil)
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	events, err := h.deps.Events.Recent(ctx, limit)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Internal server error", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "events": events})
}

// handleError logs err (when set) and sends a JSON error body.
func (h *API) handleError(c *gin.Context, status int, message string, err error) {
	if err != nil {
		h.logger.Error("API error",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"error", err,
		)
	}
	c.JSON(status, gin.H{"error": message})
}
