package optimistic

import "time"

// Update is a single in-flight or recently settled mutation. Values returned
// by the engine are snapshots; mutating them has no effect on the registry.
type Update[V, T any] struct {
	ID         string
	ResourceID string
	Input      V

	// Data starts as the optimistic projection and is replaced by the server
	// result on confirmation or by the chosen data on conflict resolution.
	Data T

	OriginalData T
	HasOriginal  bool

	Timestamp    time.Time
	Status       Status
	RetryCount   int
	MaxRetries   int
	Version      *int64
	LastSyncTime time.Time

	// ConflictID is set if and only if Status is StatusConflicted.
	ConflictID string

	// History records every status the update has held, in order.
	History []Status

	hasData   bool
	server    T
	hasServer bool
}

// HasData reports whether Data holds a projection or a result.
func (u Update[V, T]) HasData() bool { return u.hasData }

func (u *Update[V, T]) transition(to Status) bool {
	if !CanTransition(u.Status, to) {
		return false
	}
	u.Status = to
	u.History = append(u.History, to)
	if to != StatusConflicted {
		u.ConflictID = ""
	}
	return true
}

func (u *Update[V, T]) snapshot() Update[V, T] {
	cp := *u
	cp.History = append([]Status(nil), u.History...)
	if u.Version != nil {
		v := *u.Version
		cp.Version = &v
	}
	return cp
}

// Projection is the result of an optimistic function: the assumed value and
// the value it replaces.
type Projection[T any] struct {
	Data        T
	Original    T
	HasOriginal bool
}

// Project builds a Projection with a known original value.
func Project[T any](data, original T) Projection[T] {
	return Projection[T]{Data: data, Original: original, HasOriginal: true}
}
