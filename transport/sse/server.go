// Package sse streams change events and notifications to HTTP clients as
// server-sent events.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	kiterr "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/notify"
)

// Event is one server-sent event.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// TypeNotification is the event type used by Hub.Notify.
const TypeNotification = "notification"

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBacklog sets how many past events are kept for clients resuming with
// Last-Event-ID.
func WithBacklog(n int) HubOption {
	return func(h *Hub) { h.backlogSize = n }
}

// WithHeartbeat sets the interval of keep-alive comments.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) { h.heartbeat = d }
}

// WithBuffer sets the per-subscriber queue length. Events for a subscriber
// whose queue is full are dropped.
func WithBuffer(n int) HubOption {
	return func(h *Hub) { h.buffer = n }
}

func WithLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// Hub fans published events out to every connected stream.
type Hub struct {
	backlogSize int
	heartbeat   time.Duration
	buffer      int
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	seq     int64
	backlog []Event
	subs    map[chan Event]struct{}
	dropped int64
	closed  bool
}

// NewHub creates a hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		backlogSize: 256,
		heartbeat:   15 * time.Second,
		buffer:      64,
		now:         time.Now,
		subs:        make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.WithComponent("transport/sse").Logger
	}
	return h
}

// Publish sends data, JSON-encoded, as an event of type typ.
func (h *Hub) Publish(typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return kiterr.E(kiterr.Op("sse.Publish"), kiterr.Component("transport/sse"), kiterr.KindInvalid, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return kiterr.E(kiterr.Op("sse.Publish"), kiterr.Component("transport/sse"), kiterr.ErrClosed)
	}

	h.seq++
	ev := Event{ID: h.seq, Type: typ, Data: raw, At: h.now()}
	if h.backlogSize > 0 {
		h.backlog = append(h.backlog, ev)
		if len(h.backlog) > h.backlogSize {
			h.backlog = h.backlog[len(h.backlog)-h.backlogSize:]
		}
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
	return nil
}

// Notify publishes n as a notification event, so a Hub can be handed to the
// mutation engines as their notifier.
func (h *Hub) Notify(n notify.Notification) {
	if err := h.Publish(TypeNotification, n); err != nil {
		h.logger.Debug("notification not streamed", "error", err)
	}
}

// Dropped counts events not delivered to slow subscribers.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Subscribers returns the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// subscribe registers a stream and returns the backlog after lastID.
func (h *Hub) subscribe(lastID int64) (chan Event, []Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, false
	}
	ch := make(chan Event, h.buffer)
	h.subs[ch] = struct{}{}

	var replay []Event
	if lastID > 0 {
		for _, ev := range h.backlog {
			if ev.ID > lastID {
				replay = append(replay, ev)
			}
		}
	}
	return ch, replay, true
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Close ends every stream. Later publishes fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
	return nil
}

// Handler streams events. Clients resume with the Last-Event-ID header or the
// last_event_id query parameter.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		lastID, err := parseLastEventID(r)
		if err != nil {
			http.Error(w, "bad Last-Event-ID", http.StatusBadRequest)
			return
		}

		ch, replay, ok := h.subscribe(lastID)
		if !ok {
			http.Error(w, "stream closed", http.StatusServiceUnavailable)
			return
		}
		defer h.unsubscribe(ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for _, ev := range replay {
			if err := writeEvent(w, ev); err != nil {
				return
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					h.logger.Debug("stream write failed", "error", err)
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func parseLastEventID(r *http.Request) (int64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload)
	return err
}
