// Package notify carries human-readable lifecycle notifications and the
// global busy flag out of the mutation engine. The host application drains
// a Queue or plugs in its own Notifier.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Type is the severity of a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Notification is an advisory status message.
type Notification struct {
	Type     Type      `json:"type"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Mutation string    `json:"mutation,omitempty"`
	UpdateID string    `json:"update_id,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(Notification)
}

// BusySink is toggled while mutations are in flight.
type BusySink interface {
	SetBusy(busy bool)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Multi fans a notification out to several notifiers in order.
func Multi(notifiers ...Notifier) Notifier {
	return Func(func(n Notification) {
		for _, nt := range notifiers {
			if nt != nil {
				nt.Notify(n)
			}
		}
	})
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Type {
	case TypeWarning:
		level = slog.LevelWarn
	case TypeError:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, n.Title,
		"message", n.Message,
		"type", string(n.Type),
		"mutation", n.Mutation,
		"update_id", n.UpdateID)
}

// Queue is a bounded outbox of notifications. When the buffer is full new
// notifications are dropped and counted instead of blocking the engine.
type Queue struct {
	ch      chan Notification
	dropped atomic.Int64
	mu      sync.Mutex
	closed  bool
}

// NewQueue creates a queue holding up to size undrained notifications.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ch: make(chan Notification, size)}
}

func (q *Queue) Notify(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- n:
	default:
		q.dropped.Add(1)
	}
}

// C exposes the queue for range loops. It is closed by Close.
func (q *Queue) C() <-chan Notification { return q.ch }

// Drain returns every queued notification without blocking.
func (q *Queue) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, n)
		default:
			return out
		}
	}
}

// Dropped returns how many notifications were discarded on a full buffer.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Close stops accepting notifications and closes C.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// BusyFlag is a BusySink backed by an atomic bool.
type BusyFlag struct {
	busy    atomic.Bool
	toggles atomic.Int64
}

func (b *BusyFlag) SetBusy(busy bool) {
	if b.busy.Swap(busy) != busy {
		b.toggles.Add(1)
	}
}

// Busy reports the current flag.
func (b *BusyFlag) Busy() bool { return b.busy.Load() }

// Toggles counts state changes since creation.
func (b *BusyFlag) Toggles() int64 { return b.toggles.Load() }

// BusyCounter lets several engines share one sink. Each SetBusy(true) must be
// paired with a SetBusy(false); the wrapped sink sees only the edges.
type BusyCounter struct {
	mu    sync.Mutex
	count int
	sink  BusySink
}

// NewBusyCounter wraps sink.
func NewBusyCounter(sink BusySink) *BusyCounter {
	return &BusyCounter{sink: sink}
}

func (b *BusyCounter) SetBusy(busy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if busy {
		b.count++
		if b.count == 1 {
			b.sink.SetBusy(true)
		}
		return
	}
	if b.count == 0 {
		return
	}
	b.count--
	if b.count == 0 {
		b.sink.SetBusy(false)
	}
}
