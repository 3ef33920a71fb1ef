package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/transport"
)

// Errors
var (
	ErrNotAuthorized  = errors.New("not authorized, golden_key is invalid or expired")
	ErrAccountBlocked = errors.New("account is blocked")
)

var blockedMarkers = []string{
	"Пользователь заблокирован",
	"account is blocked",
	"Доступ ограничен",
}

// Session is the authenticated identity a poll request is made with.
type Session struct {
	UserID    int64           `json:"user_id"`
	CSRFToken string          `json:"-"`
	SessionID string          `json:"-"`
	UserName  string          `json:"user_name"`
	Balance   decimal.Decimal `json:"balance"`
	Sales     int             `json:"sales"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Caller is the subset of the transport client the account loader needs.
type Caller interface {
	Call(ctx context.Context, url string, opts transport.Options, delay time.Duration, maxRetries int) *transport.Result
}

// Client fetches the account page.
type Client struct {
	baseURL   string
	goldenKey string
	caller    Caller
	logger    *slog.Logger
}

// NewClient creates an account client for baseURL authenticated by goldenKey.
func NewClient(baseURL, goldenKey string, caller Caller, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		goldenKey: goldenKey,
		caller:    caller,
		logger:    logger,
	}
}

// Fetch loads the front page and extracts the session from it.
func (c *Client) Fetch(ctx context.Context) (Session, error) {
	header := http.Header{}
	header.Set("Cookie", "golden_key="+c.goldenKey+";")

	res := c.caller.Call(ctx, c.baseURL, transport.Options{Header: header}, 0, 0)
	if !res.OK() {
		return Session{}, fmt.Errorf("fetch account page: %w", res.Cause())
	}

	s, err := parsePage(res.Text())
	if err != nil {
		return Session{}, err
	}
	s.SessionID = sessionCookie(res.Header)
	s.FetchedAt = time.Now()
	return s, nil
}

type appData struct {
	UserID    int64  `json:"userId"`
	CSRFToken string `json:"csrf-token"`
}

func parsePage(body string) (Session, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Session{}, fmt.Errorf("parse account page: %w", err)
	}

	raw, ok := doc.Find("body").Attr("data-app-data")
	if !ok || raw == "" {
		for _, marker := range blockedMarkers {
			if strings.Contains(body, marker) {
				return Session{}, ErrAccountBlocked
			}
		}
		return Session{}, fmt.Errorf("%w: data-app-data missing", ErrNotAuthorized)
	}

	var data appData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Session{}, fmt.Errorf("decode data-app-data: %w", err)
	}

	name := strings.TrimSpace(doc.Find(".user-link-name").First().Text())
	if name == "" || data.UserID == 0 {
		return Session{}, ErrNotAuthorized
	}

	return Session{
		UserID:    data.UserID,
		CSRFToken: data.CSRFToken,
		UserName:  name,
		Balance:   parseBalance(doc.Find(".badge-balance").First().Text()),
		Sales:     parseCount(doc.Find(".badge-trade").First().Text()),
	}, nil
}

// parseBalance reads badges like "1 234,50 ₽". Unreadable text is zero.
func parseBalance(text string) decimal.Decimal {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',':
			b.WriteRune('.')
		}
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseCount(text string) int {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}

func sessionCookie(h http.Header) string {
	resp := http.Response{Header: h}
	for _, ck := range resp.Cookies() {
		if ck.Name == "PHPSESSID" {
			return ck.Value
		}
	}
	return ""
}
