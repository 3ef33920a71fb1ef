package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/transport"
)

const frontPage = `<html><body data-app-data='{"userId":4242,"csrf-token":"tok-1","locale":"ru"}'>
<div class="user-link-name">seller_one</div>
<span class="badge badge-balance">1 234,50 ₽</span>
<span class="badge badge-trade">17</span>
</body></html>`

func newTransport() *transport.Client {
	return transport.New(
		transport.WithMinInterval(0),
		transport.WithRetries(1, time.Millisecond, time.Millisecond),
		transport.WithFatalFunc(func(string) {}),
	)
}

func TestFetch(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "sess-9", Path: "/"})
		fmt.Fprint(w, frontPage)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "gk", newTransport(), nil)
	s, err := c.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "golden_key=gk;", gotCookie)
	assert.Equal(t, int64(4242), s.UserID)
	assert.Equal(t, "tok-1", s.CSRFToken)
	assert.Equal(t, "sess-9", s.SessionID)
	assert.Equal(t, "seller_one", s.UserName)
	assert.True(t, decimal.RequireFromString("1234.50").Equal(s.Balance), "balance = %s", s.Balance)
	assert.Equal(t, 17, s.Sales)
	assert.False(t, s.FetchedAt.IsZero())
}

func TestParsePageErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no app data", `<html><body><p>login</p></body></html>`, ErrNotAuthorized},
		{"blocked", `<html><body>account is blocked</body></html>`, ErrAccountBlocked},
		{"no user name", `<html><body data-app-data='{"userId":5,"csrf-token":"x"}'></body></html>`, ErrNotAuthorized},
		{"anonymous", `<html><body data-app-data='{"userId":0}'><a class="user-link-name">x</a></body></html>`, ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePage(tt.body)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseBalance(t *testing.T) {
	assert.True(t, parseBalance("0 ₽").IsZero())
	assert.True(t, parseBalance("").IsZero())
	assert.Equal(t, "99.9", parseBalance("99.90 $").String())
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "gk", newTransport(), nil).Fetch(context.Background())
	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
}

type fakeFetcher struct {
	calls    atomic.Int32
	balances []string
	err      error
}

func (f *fakeFetcher) Fetch(context.Context) (Session, error) {
	n := int(f.calls.Add(1)) - 1
	if f.err != nil && n > 0 {
		return Session{}, f.err
	}
	b := f.balances[min(n, len(f.balances)-1)]
	return Session{UserID: 1, UserName: "u", Balance: decimal.RequireFromString(b), FetchedAt: time.Now()}, nil
}

func TestRefresher(t *testing.T) {
	t.Run("start fails without session", func(t *testing.T) {
		r := NewRefresher(fetchFunc(func(context.Context) (Session, error) {
			return Session{}, ErrNotAuthorized
		}), time.Hour, nil)
		err := r.Start(context.Background())
		require.ErrorIs(t, err, ErrNotAuthorized)
		_, ok := r.Current()
		assert.False(t, ok)
	})

	t.Run("balance change and history", func(t *testing.T) {
		f := &fakeFetcher{balances: []string{"10", "10", "12.5"}}
		r := NewRefresher(f, time.Hour, nil)

		var changes []string
		r.OnBalanceChange(func(prev, cur decimal.Decimal) {
			changes = append(changes, prev.String()+"->"+cur.String())
		})

		require.NoError(t, r.Refresh(context.Background()))
		require.NoError(t, r.Refresh(context.Background()))
		require.NoError(t, r.Refresh(context.Background()))

		assert.Equal(t, []string{"10->12.5"}, changes)
		assert.Len(t, r.BalanceHistory(0), 3)
		last := r.BalanceHistory(1)
		require.Len(t, last, 1)
		assert.Equal(t, "12.5", last[0].Balance.String())
	})

	t.Run("failed refresh keeps session", func(t *testing.T) {
		f := &fakeFetcher{balances: []string{"3"}, err: errors.New("down")}
		r := NewRefresher(f, time.Hour, nil)
		require.NoError(t, r.Refresh(context.Background()))
		require.Error(t, r.Refresh(context.Background()))

		s, ok := r.Current()
		assert.True(t, ok)
		assert.Equal(t, "3", s.Balance.String())
	})

	t.Run("history is bounded", func(t *testing.T) {
		f := &fakeFetcher{balances: []string{"1"}}
		r := NewRefresher(f, time.Hour, nil)
		for i := 0; i < HistorySize+10; i++ {
			require.NoError(t, r.Refresh(context.Background()))
		}
		assert.Len(t, r.BalanceHistory(0), HistorySize)
	})

	t.Run("background refresh", func(t *testing.T) {
		f := &fakeFetcher{balances: []string{"1"}}
		r := NewRefresher(f, 10*time.Millisecond, nil)
		require.NoError(t, r.Start(context.Background()))
		assert.Eventually(t, func() bool { return f.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, r.Stop(ctx))
	})
}

type fetchFunc func(context.Context) (Session, error)

func (f fetchFunc) Fetch(ctx context.Context) (Session, error) { return f(ctx) }
