package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/account"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/chat"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/transport"
)

type sessionFunc func() (account.Session, bool)

func (f sessionFunc) Current() (account.Session, bool) { return f() }

var testSession = sessionFunc(func() (account.Session, bool) {
	return account.Session{UserID: 77, CSRFToken: "csrf-1", SessionID: "sess-1"}, true
})

// pollServer answers runner requests with scripted responses. A response of
// status 0 is served as 200. Past the end of the script the last response
// repeats.
type pollServer struct {
	*httptest.Server

	mu        sync.Mutex
	responses []scripted
	requests  []*http.Request
	forms     []url.Values
}

type scripted struct {
	status int
	body   string
}

func newPollServer(t *testing.T, responses ...scripted) *pollServer {
	t.Helper()
	ps := &pollServer{responses: responses}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))

		ps.mu.Lock()
		n := len(ps.requests)
		ps.requests = append(ps.requests, r)
		ps.forms = append(ps.forms, form)
		resp := ps.responses[min(n, len(ps.responses)-1)]
		ps.mu.Unlock()

		if resp.status != 0 {
			w.WriteHeader(resp.status)
		}
		io.WriteString(w, resp.body)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pollServer) form(i int) url.Values {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.forms[i]
}

func (ps *pollServer) request(i int) *http.Request {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.requests[i]
}

func (ps *pollServer) count() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.requests)
}

type entry struct {
	user, message, node string
	unread              bool
}

func bookmarks(entries ...entry) string {
	var b strings.Builder
	for _, e := range entries {
		class := "contact-item"
		if e.unread {
			class += " unread"
		}
		fmt.Fprintf(&b, `<a class="%s" data-id="%s"><div class="media-user-name">%s</div>`+
			`<div class="contact-item-message">%s</div><div class="contact-item-time">12:00</div></a>`,
			class, e.node, e.user, e.message)
	}
	return b.String()
}

func pollBody(ordersTag, chatTag string, chatHTML *string) string {
	objects := []map[string]any{
		{"type": "orders_counters", "id": "77", "tag": ordersTag, "data": map[string]int{"buyer": 0, "seller": 1}},
	}
	chatObj := map[string]any{"type": "chat_bookmarks", "id": "77", "tag": chatTag, "data": false}
	if chatHTML != nil {
		chatObj["data"] = map[string]any{"html": *chatHTML, "messages": []any{}}
	}
	objects = append(objects, chatObj)
	raw, _ := json.Marshal(map[string]any{"objects": objects, "response": false})
	return string(raw)
}

func ptr(s string) *string { return &s }

func testTransport() *transport.Client {
	return transport.New(
		transport.WithMinInterval(0),
		transport.WithRetries(1, time.Millisecond, time.Millisecond),
		transport.WithFatalFunc(func(string) {}),
	)
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		GoldenKey:         "gk-secret",
		Interval:          6 * time.Second,
		EscalatedInterval: 30 * time.Second,
		ErrorThreshold:    3,
	}
}

type recorder struct {
	mu      sync.Mutex
	calls   []string
	unread  []chat.Summary
	events  []Event
	alerts  []int
	alertFn func() error
}

func (rc *recorder) add(s string) {
	rc.mu.Lock()
	rc.calls = append(rc.calls, s)
	rc.mu.Unlock()
}

func (rc *recorder) Publish(ev Event) {
	rc.mu.Lock()
	rc.events = append(rc.events, ev)
	rc.mu.Unlock()
}

func (rc *recorder) SendErrorAlert(_ context.Context, n int) error {
	rc.mu.Lock()
	rc.alerts = append(rc.alerts, n)
	rc.mu.Unlock()
	if rc.alertFn != nil {
		return rc.alertFn()
	}
	return nil
}

func (rc *recorder) eventKinds() []EventKind {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	var out []EventKind
	for _, ev := range rc.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (rc *recorder) register(r *Runner) {
	r.RegisterOrderChangedCallback(func() { rc.add("orders") })
	r.RegisterStreamChangedCallback(func() { rc.add("stream") })
	r.RegisterNewUnreadCallback(func(s chat.Summary) {
		rc.mu.Lock()
		rc.unread = append(rc.unread, s)
		rc.mu.Unlock()
		rc.add("unread")
	})
}

func TestTick_FirstTickThenChange(t *testing.T) {
	srv := newPollServer(t,
		scripted{body: pollBody("A", "X", ptr(""))},
		scripted{body: pollBody("B", "Y", ptr(bookmarks(entry{"bob", "hello", "101", true})))},
	)

	rc := &recorder{}
	r := New(testConfig(srv.URL), testTransport(), testSession, WithSink(rc))
	rc.register(r)
	ctx := context.Background()

	r.runTick(ctx)
	assert.Empty(t, rc.calls, "first tick must not fire callbacks")
	assert.Equal(t, Tag("A"), r.ordersTag)
	assert.Equal(t, Tag("X"), r.chatTag)

	r.runTick(ctx)
	assert.Equal(t, []string{"orders", "unread", "stream"}, rc.calls)
	require.Len(t, rc.unread, 1)
	assert.Equal(t, "bob", rc.unread[0].User)
	assert.Equal(t, "101", rc.unread[0].Node)
	assert.Equal(t, Tag("B"), r.ordersTag)
	assert.Equal(t, Tag("Y"), r.chatTag)

	assert.Equal(t, []EventKind{EventOrdersChanged, EventNewUnread, EventStreamChanged}, rc.eventKinds())

	st := r.Stats()
	assert.True(t, st.Primed)
	assert.Equal(t, int64(2), st.Ticks)
	assert.Equal(t, Tag("B"), st.OrdersTag)
}

func TestTick_FirstTickWithUnreadIsSilent(t *testing.T) {
	html := bookmarks(entry{"bob", "hello", "101", true})
	srv := newPollServer(t,
		scripted{body: pollBody("A", "X", &html)},
		scripted{body: pollBody("A", "X2", &html)},
	)

	rc := &recorder{}
	r := New(testConfig(srv.URL), testTransport(), testSession)
	rc.register(r)

	r.runTick(context.Background())
	assert.Empty(t, rc.calls)
	require.Len(t, r.snapshot, 1, "first tick still records the snapshot")

	// Same content on the next tick is not new.
	r.runTick(context.Background())
	assert.Equal(t, []string{"orders", "stream"}, rc.calls)
}

func TestTick_PollRequest(t *testing.T) {
	srv := newPollServer(t, scripted{body: pollBody("A", "X", nil)})

	r := New(testConfig(srv.URL+"/"), testTransport(), testSession)
	initialOrders, initialChat := r.ordersTag, r.chatTag
	r.runTick(context.Background())
	r.runTick(context.Background())

	req := srv.request(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/runner/", req.URL.Path)
	assert.Equal(t, "*/*", req.Header.Get("Accept"))
	assert.Equal(t, "XMLHttpRequest", req.Header.Get("X-Requested-With"))
	assert.Contains(t, req.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
	assert.Equal(t, "golden_key=gk-secret; PHPSESSID=sess-1", req.Header.Get("Cookie"))

	form := srv.form(0)
	assert.Equal(t, "false", form.Get("request"))
	assert.Equal(t, "csrf-1", form.Get("csrf_token"))

	var objects []pollObject
	require.NoError(t, json.Unmarshal([]byte(form.Get("objects")), &objects))
	assert.Equal(t, []pollObject{
		{Type: StreamOrders, ID: "77", Tag: initialOrders},
		{Type: StreamChat, ID: "77", Tag: initialChat},
	}, objects)

	// The second poll echoes the tags from the first response.
	require.NoError(t, json.Unmarshal([]byte(srv.form(1).Get("objects")), &objects))
	assert.Equal(t, Tag("A"), objects[0].Tag)
	assert.Equal(t, Tag("X"), objects[1].Tag)
}

func TestNewTag(t *testing.T) {
	a, b := NewTag(), NewTag()
	assert.Len(t, string(a), 10)
	assert.NotEqual(t, a, b)
}

func TestDiffChat(t *testing.T) {
	var next []chat.Summary
	r := New(testConfig("http://unused"), testTransport(), testSession,
		WithChatParser(func(string) ([]chat.Summary, error) { return next, nil }))
	payload := json.RawMessage(`{"html":"<ignored>"}`)

	s1 := []chat.Summary{
		{User: "a", Message: "1", Node: "1"},
		{User: "b", Message: "2", Node: "2"},
		{User: "c", Message: "3", Node: "3"},
	}
	next = s1
	_, ok := r.diffChat(payload)
	assert.False(t, ok, "nothing unread")
	assert.Nil(t, r.snapshot, "snapshot only replaced when something is reported")

	s2 := []chat.Summary{
		{User: "a", Message: "1", Node: "1"},
		{User: "b", Message: "new", Node: "2", Unread: true},
		{User: "c", Message: "also new", Node: "3", Unread: true},
	}
	next = s2
	got, ok := r.diffChat(payload)
	require.True(t, ok)
	assert.Equal(t, s2[1], got, "only the first changed unread entry is reported")
	assert.Equal(t, s2, r.snapshot)

	next = s2
	_, ok = r.diffChat(payload)
	assert.False(t, ok, "unchanged snapshot reports nothing")

	// A changed but read entry is skipped in favor of a later unread one.
	s3 := []chat.Summary{
		{User: "a", Message: "read reply", Node: "1"},
		{User: "b", Message: "new", Node: "2", Unread: true},
		{User: "c", Message: "third", Node: "3", Unread: true},
	}
	next = s3
	got, ok = r.diffChat(payload)
	require.True(t, ok)
	assert.Equal(t, s3[2], got)

	for _, raw := range []string{`false`, `null`, `{"html":""}`} {
		_, ok = r.diffChat(json.RawMessage(raw))
		assert.False(t, ok, raw)
	}
}

func TestDiffChat_ParseErrorIsNotFatal(t *testing.T) {
	srv := newPollServer(t, scripted{body: pollBody("A", "X", ptr("<x>"))})
	r := New(testConfig(srv.URL), testTransport(), testSession,
		WithChatParser(func(string) ([]chat.Summary, error) { return nil, fmt.Errorf("broken markup") }))

	r.runTick(context.Background())
	assert.Equal(t, 0, r.consecutiveErrors)
	assert.Equal(t, Tag("X"), r.chatTag)
}

func TestBackoff_EscalateAndRecover(t *testing.T) {
	failing := scripted{status: http.StatusInternalServerError, body: "oops"}
	srv := newPollServer(t, failing, failing, failing, failing, scripted{body: pollBody("A", "X", nil)})

	rc := &recorder{}
	r := New(testConfig(srv.URL), testTransport(), testSession, WithAlerter(rc), WithSink(rc))
	ctx := context.Background()

	r.runTick(ctx)
	r.runTick(ctx)
	assert.Equal(t, 6*time.Second, r.Interval())
	assert.Empty(t, rc.alerts)

	r.runTick(ctx)
	assert.Equal(t, 30*time.Second, r.Interval())
	assert.Equal(t, []int{3}, rc.alerts)
	assert.True(t, r.Stats().Escalated)

	r.runTick(ctx)
	assert.Equal(t, 30*time.Second, r.Interval())
	assert.Equal(t, []int{3}, rc.alerts, "alert is raised once per escalation")
	assert.Equal(t, 4, r.Stats().ConsecutiveErrors)

	r.runTick(ctx)
	st := r.Stats()
	assert.Equal(t, 6*time.Second, st.Interval)
	assert.Equal(t, 0, st.ConsecutiveErrors)
	assert.Equal(t, int64(4), st.ErrorsTotal)
	assert.False(t, st.Escalated)
	assert.Equal(t, 0, r.consecutiveErrors)
	assert.True(t, st.Primed)

	assert.Equal(t, []EventKind{EventIntervalEscalated, EventRecovered}, rc.eventKinds())
}

func TestBackoff_EqualIntervalsAlertOnce(t *testing.T) {
	failing := scripted{status: http.StatusInternalServerError, body: "oops"}
	srv := newPollServer(t, failing, failing, failing, failing, failing, failing, scripted{body: pollBody("A", "X", nil)})

	cfg := testConfig(srv.URL)
	cfg.EscalatedInterval = cfg.Interval
	rc := &recorder{}
	r := New(cfg, testTransport(), testSession, WithAlerter(rc), WithSink(rc))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		r.runTick(ctx)
	}
	assert.Equal(t, []int{3}, rc.alerts)
	assert.Equal(t, []EventKind{EventIntervalEscalated}, rc.eventKinds())
	st := r.Stats()
	assert.True(t, st.Escalated)
	assert.Equal(t, 6, st.ConsecutiveErrors)

	r.runTick(ctx)
	assert.False(t, r.Stats().Escalated)
	assert.Equal(t, []EventKind{EventIntervalEscalated, EventRecovered}, rc.eventKinds())
}

func TestBackoff_FailedAlertDoesNotStopRunner(t *testing.T) {
	srv := newPollServer(t, scripted{status: http.StatusBadGateway})
	rc := &recorder{alertFn: func() error { return fmt.Errorf("telegram down") }}
	cfg := testConfig(srv.URL)
	cfg.ErrorThreshold = 1
	r := New(cfg, testTransport(), testSession, WithAlerter(rc))

	r.runTick(context.Background())
	assert.Equal(t, 30*time.Second, r.Interval())
	assert.Equal(t, []int{1}, rc.alerts)
}

func TestTick_Failures(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		srv := newPollServer(t, scripted{body: "<html>not json</html>"})
		r := New(testConfig(srv.URL), testTransport(), testSession)
		r.runTick(context.Background())
		assert.Equal(t, 1, r.consecutiveErrors)
		assert.False(t, r.primed)
		assert.Contains(t, r.Stats().LastError, "decode poll response")
	})

	t.Run("no session", func(t *testing.T) {
		srv := newPollServer(t, scripted{body: pollBody("A", "X", nil)})
		r := New(testConfig(srv.URL), testTransport(),
			sessionFunc(func() (account.Session, bool) { return account.Session{}, false }))
		err := r.tick(context.Background())
		assert.ErrorIs(t, err, ErrNoSession)
		assert.Equal(t, 0, srv.count())
	})

	t.Run("failed warm-up does not prime", func(t *testing.T) {
		srv := newPollServer(t,
			scripted{status: http.StatusServiceUnavailable},
			scripted{body: pollBody("A", "X", nil)},
			scripted{body: pollBody("B", "Y", nil)},
		)
		rc := &recorder{}
		r := New(testConfig(srv.URL), testTransport(), testSession)
		rc.register(r)

		r.runTick(context.Background())
		r.runTick(context.Background())
		assert.Empty(t, rc.calls, "first successful tick is still silent")
		r.runTick(context.Background())
		assert.Equal(t, []string{"orders", "stream"}, rc.calls)
	})

	t.Run("callback panic counts as error", func(t *testing.T) {
		srv := newPollServer(t, scripted{body: pollBody("A", "X", nil)})
		r := New(testConfig(srv.URL), testTransport(), testSession)
		r.RegisterOrderChangedCallback(func() { panic("boom") })

		r.runTick(context.Background())
		r.runTick(context.Background())
		assert.Equal(t, 1, r.consecutiveErrors)
		assert.Equal(t, Tag("A"), r.ordersTag, "state committed before the callback ran")
	})

	t.Run("canceled context is not counted", func(t *testing.T) {
		srv := newPollServer(t, scripted{body: pollBody("A", "X", nil)})
		r := New(testConfig(srv.URL), testTransport(), testSession)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r.runTick(ctx)
		assert.Equal(t, 0, r.consecutiveErrors)
		assert.Equal(t, int64(0), r.Stats().Ticks)
	})
}

func TestCallbacks_RegisterReplacesSubscribeAppends(t *testing.T) {
	srv := newPollServer(t, scripted{body: pollBody("A", "X", nil)})
	r := New(testConfig(srv.URL), testTransport(), testSession)

	var calls []string
	r.RegisterOrderChangedCallback(func() { calls = append(calls, "first") })
	r.RegisterOrderChangedCallback(func() { calls = append(calls, "second") })
	r.SubscribeOrderChanged(func() { calls = append(calls, "sub-1") })
	r.SubscribeOrderChanged(func() { calls = append(calls, "sub-2") })

	r.runTick(context.Background())
	r.runTick(context.Background())
	assert.Equal(t, []string{"second", "sub-1", "sub-2"}, calls)
}

func TestStartStop(t *testing.T) {
	srv := newPollServer(t, scripted{body: pollBody("A", "X", nil)})
	cfg := testConfig(srv.URL)
	cfg.Interval = 10 * time.Millisecond

	r := New(cfg, testTransport(), testSession)
	var mu sync.Mutex
	orders := 0
	r.RegisterOrderChangedCallback(func() {
		mu.Lock()
		orders++
		mu.Unlock()
	})

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, 1, srv.count(), "warm-up tick runs before Start returns")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return orders >= 3
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))

	n := srv.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, srv.count(), "no ticks after Stop")
}
