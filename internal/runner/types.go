package runner

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/chat"
)

// Tag is the opaque change marker of a stream. Two tags are equal only if
// their strings are equal.
type Tag string

// NewTag returns a random tag the server has never issued, so the first
// poll always returns the current state.
func NewTag() Tag {
	return Tag(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// Stream identifies a watched object type.
type Stream string

const (
	StreamOrders Stream = "orders_counters"
	StreamChat   Stream = "chat_bookmarks"
)

type pollObject struct {
	Type Stream `json:"type"`
	ID   string `json:"id"`
	Tag  Tag    `json:"tag"`
	Data bool   `json:"data"`
}

// encodePollForm builds the form body of a runner request.
func encodePollForm(userID int64, ordersTag, chatTag Tag, csrf string) (string, error) {
	id := strconv.FormatInt(userID, 10)
	objects, err := json.Marshal([]pollObject{
		{Type: StreamOrders, ID: id, Tag: ordersTag},
		{Type: StreamChat, ID: id, Tag: chatTag},
	})
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("objects", string(objects))
	form.Set("request", "false")
	form.Set("csrf_token", csrf)
	return form.Encode(), nil
}

type pollResponse struct {
	Objects []pollResult `json:"objects"`
}

type pollResult struct {
	Type Stream          `json:"type"`
	Tag  Tag             `json:"tag"`
	Data json.RawMessage `json:"data"`
}

type chatData struct {
	HTML string `json:"html"`
}

// EventKind names a runner event.
type EventKind string

const (
	EventOrdersChanged     EventKind = "orders_changed"
	EventStreamChanged     EventKind = "stream_changed"
	EventNewUnread         EventKind = "new_unread_message"
	EventIntervalEscalated EventKind = "interval_escalated"
	EventRecovered         EventKind = "recovered"
)

// Event is published to sinks for every callback fired and every
// backoff transition.
type Event struct {
	ID                uuid.UUID     `json:"id"`
	Kind              EventKind     `json:"kind"`
	At                time.Time     `json:"at"`
	Message           *chat.Summary `json:"message,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
	Interval          time.Duration `json:"interval,omitempty"`
}

func newEvent(kind EventKind) Event {
	return Event{ID: uuid.New(), Kind: kind, At: time.Now()}
}

// EventSink receives runner events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Stats is a point-in-time view of the runner.
type Stats struct {
	Ticks             int64         `json:"ticks"`
	ErrorsTotal       int64         `json:"errors_total"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	Interval          time.Duration `json:"interval"`
	Escalated         bool          `json:"escalated"`
	Primed            bool          `json:"primed"`
	OrdersTag         Tag           `json:"orders_tag"`
	ChatTag           Tag           `json:"chat_tag"`
	LastTick          time.Time     `json:"last_tick"`
	LastSuccess       time.Time     `json:"last_success"`
	LastError         string        `json:"last_error,omitempty"`
}
