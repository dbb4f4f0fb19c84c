package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/go-optimistic-kit/audit"
)

// ResolutionNotice is the NOTIFY payload sent for every appended record. It
// omits the JSON payload columns; callers load them with ForResource.
type ResolutionNotice struct {
	Seq        int64     `json:"seq"`
	ConflictID string    `json:"conflict_id"`
	ResourceID string    `json:"resource_id"`
	Kind       string    `json:"kind"`
	Action     string    `json:"action"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ResolutionHandler handles an incoming resolution notice.
type ResolutionHandler func(notice ResolutionNotice) error

type subscription struct {
	filter  *audit.Criteria
	handler ResolutionHandler
}

func (s subscription) matches(n ResolutionNotice) bool {
	if s.filter == nil {
		return true
	}
	return s.filter.Matches(audit.Record{
		ConflictID: n.ConflictID,
		ResourceID: n.ResourceID,
		Kind:       n.Kind,
		Action:     n.Action,
		ResolvedAt: n.ResolvedAt,
	})
}

// ListenerOption configures a ResolutionListener.
type ListenerOption func(*ResolutionListener)

// WithReconnectSettings sets the pq.Listener reconnect backoff bounds.
func WithReconnectSettings(minInterval, maxInterval time.Duration) ListenerOption {
	return func(rl *ResolutionListener) {
		if minInterval > 0 {
			rl.minReconnect = minInterval
		}
		if maxInterval >= rl.minReconnect {
			rl.maxReconnect = maxInterval
		}
	}
}

// WithPingInterval sets how long the loop waits on an idle connection before
// pinging it.
func WithPingInterval(d time.Duration) ListenerOption {
	return func(rl *ResolutionListener) {
		if d > 0 {
			rl.pingInterval = d
		}
	}
}

// ResolutionListener follows one NOTIFY channel and dispatches decoded
// notices to filtered subscribers.
type ResolutionListener struct {
	channel string
	logger  *slog.Logger

	listener *pq.Listener
	closed   int32 // atomic
	started  int32 // atomic
	done     chan struct{}

	mu            stdSync.RWMutex
	subscriptions []subscription

	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
}

// NewResolutionListener prepares a listener on channel. It connects on Start.
func NewResolutionListener(connectionString, channel string, logger *slog.Logger, opts ...ListenerOption) (*ResolutionListener, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	if !identifierPattern.MatchString(channel) {
		return nil, fmt.Errorf("invalid channel name %q", channel)
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := &ResolutionListener{
		channel:      channel,
		logger:       logger.With("channel", channel),
		done:         make(chan struct{}),
		minReconnect: 5 * time.Second,
		maxReconnect: time.Minute,
		pingInterval: 90 * time.Second,
	}
	for _, opt := range opts {
		opt(rl)
	}

	rl.listener = pq.NewListener(connectionString, rl.minReconnect, rl.maxReconnect, rl.eventCallback)
	return rl, nil
}

func (rl *ResolutionListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		rl.logger.Info("connected for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		rl.logger.Warn("disconnected from PostgreSQL", "error", err)
	case pq.ListenerEventReconnected:
		// pq re-issues LISTEN for known channels itself; notices sent while
		// disconnected are lost.
		rl.logger.Info("reconnected to PostgreSQL")
	case pq.ListenerEventConnectionAttemptFailed:
		rl.logger.Warn("connection attempt failed", "error", err)
	}
}

// Start issues LISTEN and begins dispatching. Calling Start twice is a no-op.
func (rl *ResolutionListener) Start(ctx context.Context) error {
	if atomic.LoadInt32(&rl.closed) == 1 {
		return fmt.Errorf("listener is closed")
	}
	if !atomic.CompareAndSwapInt32(&rl.started, 0, 1) {
		return nil
	}
	if err := rl.listener.Listen(rl.channel); err != nil {
		atomic.StoreInt32(&rl.started, 0)
		return fmt.Errorf("failed to listen to channel %s: %w", rl.channel, err)
	}
	go rl.listenLoop(ctx)
	return nil
}

// Subscribe registers handler for notices matching filter.
func (rl *ResolutionListener) Subscribe(filter *audit.Criteria, handler ResolutionHandler) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.subscriptions = append(rl.subscriptions, subscription{filter: filter, handler: handler})
}

func (rl *ResolutionListener) listenLoop(ctx context.Context) {
	defer rl.logger.Debug("listen loop stopped")

	ticker := time.NewTicker(rl.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rl.done:
			return
		case n, ok := <-rl.listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect.
			if n != nil {
				rl.dispatch(n.Extra)
			}
		case <-ticker.C:
			go func() {
				if err := rl.listener.Ping(); err != nil {
					rl.logger.Warn("ping failed", "error", err)
				}
			}()
		}
	}
}

func (rl *ResolutionListener) dispatch(payload string) {
	notice, err := decodeNotice(payload)
	if err != nil {
		rl.logger.Error("failed to parse notification payload", "error", err)
		return
	}

	rl.mu.RLock()
	subs := append([]subscription(nil), rl.subscriptions...)
	rl.mu.RUnlock()

	for _, s := range subs {
		if !s.matches(notice) {
			continue
		}
		if err := s.handler(notice); err != nil {
			rl.logger.Error("resolution handler failed",
				"conflict_id", notice.ConflictID, "error", err)
		}
	}
}

func decodeNotice(payload string) (ResolutionNotice, error) {
	var n ResolutionNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return ResolutionNotice{}, fmt.Errorf("decode resolution notice: %w", err)
	}
	return n, nil
}

// IsConnected pings the server.
func (rl *ResolutionListener) IsConnected() bool {
	if atomic.LoadInt32(&rl.closed) == 1 {
		return false
	}
	return rl.listener.Ping() == nil
}

// Close stops the loop and the underlying pq.Listener.
func (rl *ResolutionListener) Close() error {
	if !atomic.CompareAndSwapInt32(&rl.closed, 0, 1) {
		return nil
	}
	close(rl.done)
	return rl.listener.Close()
}
