package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/chat"
	"github.com/random4ik-wat/FunPayServe-new-era/internal/transport"
)

// runTick performs one tick and applies the backoff bookkeeping.
func (r *Runner) runTick(ctx context.Context) {
	err := r.safeTick(ctx)
	if ctx.Err() != nil {
		// Shutdown, not a remote failure.
		return
	}

	r.statsMu.Lock()
	r.stats.Ticks++
	r.stats.LastTick = time.Now()
	r.statsMu.Unlock()

	if err != nil {
		r.recordError(ctx, err)
		return
	}
	r.recordSuccess()
}

func (r *Runner) safeTick(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("runner tick panicked",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("tick panic: %v", rec)
		}
	}()
	return r.tick(ctx)
}

// tick polls once. The server only lists streams that advanced past the
// tags sent, so every listed stream counts as changed. Tags and the chat
// snapshot are committed before any callback runs.
func (r *Runner) tick(ctx context.Context) error {
	sess, ok := r.session.Current()
	if !ok {
		return ErrNoSession
	}

	body, err := encodePollForm(sess.UserID, r.ordersTag, r.chatTag, sess.CSRFToken)
	if err != nil {
		return fmt.Errorf("encode poll form: %w", err)
	}

	header := http.Header{}
	header.Set("Accept", "*/*")
	header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	header.Set("X-Requested-With", "XMLHttpRequest")
	header.Set("Cookie", fmt.Sprintf("golden_key=%s; PHPSESSID=%s", r.cfg.GoldenKey, sess.SessionID))

	res := r.caller.Call(ctx, r.endpoint, transport.Options{
		Method: http.MethodPost,
		Header: header,
		Body:   []byte(body),
	}, 0, 0)
	if !res.OK() {
		return fmt.Errorf("poll runner: %w", res.Cause())
	}

	var resp pollResponse
	if err := res.JSON(&resp); err != nil {
		return fmt.Errorf("decode poll response: %w", err)
	}

	first := !r.primed
	var events []Event
	for _, obj := range resp.Objects {
		switch obj.Type {
		case StreamOrders:
			r.ordersTag = obj.Tag
			if !first {
				events = append(events, newEvent(EventOrdersChanged))
			}

		case StreamChat:
			r.chatTag = obj.Tag
			if msg, ok := r.diffChat(obj.Data); ok && !first {
				ev := newEvent(EventNewUnread)
				ev.Message = &msg
				events = append(events, ev)
			}
			if !first {
				events = append(events, newEvent(EventStreamChanged))
			}

		default:
			r.logger.Debug("ignoring unknown runner object", "type", obj.Type)
		}
	}
	r.primed = true

	r.statsMu.Lock()
	r.stats.OrdersTag = r.ordersTag
	r.stats.ChatTag = r.chatTag
	r.stats.Primed = true
	r.statsMu.Unlock()

	r.dispatch(events)
	return nil
}

// diffChat compares the chat bookmarks position by position against the
// stored snapshot. At the first position that changed and is unread the
// snapshot is replaced and that entry reported; later changes in the same
// tick are not. A tick that reports nothing keeps the old snapshot.
func (r *Runner) diffChat(data json.RawMessage) (chat.Summary, bool) {
	var payload chatData
	if err := json.Unmarshal(data, &payload); err != nil || payload.HTML == "" {
		// data is false or null when the server sent no body for the stream.
		return chat.Summary{}, false
	}

	msgs, err := r.parseChat(payload.HTML)
	if err != nil {
		r.logger.Warn("chat bookmarks parse failed", "error", err)
		return chat.Summary{}, false
	}

	for i, m := range msgs {
		var prev chat.Summary
		if i < len(r.snapshot) {
			prev = r.snapshot[i]
		}
		if m != prev && m.Unread {
			r.snapshot = msgs
			return m, true
		}
	}
	return chat.Summary{}, false
}

func (r *Runner) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}

	r.handlersMu.RLock()
	orders := r.onOrders.all()
	stream := r.onStream.all()
	unread := r.onUnread.all()
	r.handlersMu.RUnlock()

	for _, ev := range events {
		switch ev.Kind {
		case EventOrdersChanged:
			r.logger.Info("orders changed")
			for _, fn := range orders {
				fn()
			}
		case EventStreamChanged:
			for _, fn := range stream {
				fn()
			}
		case EventNewUnread:
			r.logger.Info("new unread message", "user", ev.Message.User, "node", ev.Message.Node)
			for _, fn := range unread {
				fn(*ev.Message)
			}
		}
		r.publish(ev)
	}
}

func (r *Runner) publish(ev Event) {
	for _, s := range r.sinks {
		s.Publish(ev)
	}
}

// recordError counts a failed tick and escalates the interval once the
// threshold is reached.
func (r *Runner) recordError(ctx context.Context, err error) {
	r.consecutiveErrors++
	n := r.consecutiveErrors

	r.statsMu.Lock()
	r.stats.ErrorsTotal++
	r.stats.ConsecutiveErrors = n
	r.stats.LastError = err.Error()
	total := r.stats.ErrorsTotal
	r.statsMu.Unlock()

	r.logger.Error("runner tick failed",
		"consecutive", n,
		"errors_total", total,
		"error", err,
	)

	if n < r.cfg.ErrorThreshold || r.escalated {
		return
	}

	r.setInterval(r.cfg.EscalatedInterval, true)
	r.logger.Warn("too many consecutive errors, polling interval escalated",
		"consecutive", n,
		"interval", r.interval,
	)

	ev := newEvent(EventIntervalEscalated)
	ev.ConsecutiveErrors = n
	ev.Interval = r.interval
	r.publish(ev)

	if r.alerter == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(ctx, r.cfg.AlertTimeout)
	defer cancel()
	if err := r.alerter.SendErrorAlert(alertCtx, n); err != nil {
		r.logger.Warn("error alert not delivered", "error", err)
	}
}

// recordSuccess clears the failure streak and restores the baseline interval.
func (r *Runner) recordSuccess() {
	r.statsMu.Lock()
	r.stats.LastSuccess = time.Now()
	r.stats.ConsecutiveErrors = 0
	r.stats.LastError = ""
	r.statsMu.Unlock()

	if r.consecutiveErrors == 0 {
		return
	}

	n := r.consecutiveErrors
	r.consecutiveErrors = 0
	escalated := r.escalated
	r.setInterval(r.cfg.Interval, false)
	r.logger.Info("runner recovered", "after_errors", n, "interval", r.interval)

	if escalated {
		ev := newEvent(EventRecovered)
		ev.ConsecutiveErrors = n
		ev.Interval = r.interval
		r.publish(ev)
	}
}

func (r *Runner) setInterval(d time.Duration, escalated bool) {
	r.interval = d
	r.escalated = escalated
	r.statsMu.Lock()
	r.stats.Interval = d
	r.stats.Escalated = escalated
	r.statsMu.Unlock()
}
