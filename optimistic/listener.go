package optimistic

import (
	"time"

	"github.com/c0deZ3R0/go-optimistic-kit/conflict"
)

// Listener observes update lifecycle events. Methods are called synchronously
// after the transition is recorded and outside the registry lock, so they may
// call back into the engine.
type Listener[V, T any] interface {
	OnConfirmed(u Update[V, T], result T)
	OnFailed(u Update[V, T], err error)
	OnConflicted(u Update[V, T], c conflict.Conflict)
	OnRolledBack(u Update[V, T], original T)
}

// Hooks adapts optional functions to Listener.
type Hooks[V, T any] struct {
	Confirmed  func(u Update[V, T], result T)
	Failed     func(u Update[V, T], err error)
	Conflicted func(u Update[V, T], c conflict.Conflict)
	RolledBack func(u Update[V, T], original T)
}

func (h Hooks[V, T]) OnConfirmed(u Update[V, T], result T) {
	if h.Confirmed != nil {
		h.Confirmed(u, result)
	}
}

func (h Hooks[V, T]) OnFailed(u Update[V, T], err error) {
	if h.Failed != nil {
		h.Failed(u, err)
	}
}

func (h Hooks[V, T]) OnConflicted(u Update[V, T], c conflict.Conflict) {
	if h.Conflicted != nil {
		h.Conflicted(u, c)
	}
}

func (h Hooks[V, T]) OnRolledBack(u Update[V, T], original T) {
	if h.RolledBack != nil {
		h.RolledBack(u, original)
	}
}

// MetricsCollector provides hooks for collecting engine metrics
type MetricsCollector interface {
	// RecordMutation counts an update reaching status for the named engine
	RecordMutation(engine string, status Status)

	// RecordRemoteDuration records how long a remote call took
	RecordRemoteDuration(engine string, duration time.Duration, success bool)

	// RecordRetry counts retry requests, allowed or refused by the budget
	RecordRetry(engine string, allowed bool)

	// RecordRollback counts rollback attempts
	RecordRollback(engine string, success bool)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordMutation(engine string, status Status)                           {}
func (NoOpMetricsCollector) RecordRemoteDuration(engine string, duration time.Duration, success bool) {}
func (NoOpMetricsCollector) RecordRetry(engine string, allowed bool)                               {}
func (NoOpMetricsCollector) RecordRollback(engine string, success bool)                            {}
