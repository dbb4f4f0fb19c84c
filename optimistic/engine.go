// Package optimistic applies local state changes before a remote write
// completes and tracks each in-flight change through its lifecycle.
//
// One Engine is created per logical mutation type ("create journal entry",
// "delete mood check-in"). Engines that share a conflict.Detector learn about
// conflicts raised by each other through the detector's subscription.
package optimistic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-optimistic-kit/conflict"
	"github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/notify"
)

// Engine runs one mutation type and owns the registry of its updates.
type Engine[V, T any] struct {
	cfg      Config[V, T]
	detector *conflict.Detector
	listener Listener[V, T]
	notifier notify.Notifier
	busy     notify.BusySink
	logger   *logging.Logger
	metrics  MetricsCollector
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	updates map[string]*Update[V, T]
	order   []string
	timers  map[string]*time.Timer
	closed  bool

	busyMu   sync.Mutex
	inFlight int

	unsubscribe func()
}

// New validates cfg and subscribes the engine to its detector.
func New[V, T any](cfg Config[V, T], opts ...Option) (*Engine[V, T], error) {
	const op = "optimistic.New"

	s := &settings{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.E(errors.Op(op), errors.Component("optimistic"), errors.KindInvalid, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.E(errors.Op(op), errors.Component("optimistic"), errors.KindInvalid,
			errors.ErrCodeValidationFailure, err)
	}
	if cfg.Policy == PolicyServerWins && !cfg.EnableRollback {
		return nil, errors.E(errors.Op(op), errors.Component("optimistic"), errors.KindInvalid,
			fmt.Errorf("engine %q: server-wins policy needs rollback enabled", cfg.Name),
			"suggestion: set EnableRollback or use the client-wins policy")
	}

	e := &Engine[V, T]{
		cfg:      cfg,
		detector: s.detector,
		notifier: s.notifier,
		busy:     s.busy,
		metrics:  s.metrics,
		now:      s.now,
		newID:    s.newID,
		updates:  make(map[string]*Update[V, T]),
		timers:   make(map[string]*time.Timer),
	}

	if s.listener != nil {
		l, ok := s.listener.(Listener[V, T])
		if !ok {
			return nil, errors.E(errors.Op(op), errors.Component("optimistic"), errors.KindInvalid,
				fmt.Errorf("listener %T does not match engine %q", s.listener, cfg.Name))
		}
		e.listener = l
	} else {
		e.listener = Hooks[V, T]{}
	}
	if s.logger != nil {
		e.logger = logging.Wrap(s.logger.With("engine", cfg.Name))
	} else {
		e.logger = logging.Wrap(logging.WithComponent("optimistic").With("engine", cfg.Name))
	}
	if e.notifier == nil {
		e.notifier = notify.Discard
	}
	if e.metrics == nil {
		e.metrics = NoOpMetricsCollector{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if e.detector == nil {
		e.detector = conflict.NewDetector(conflict.WithLogger(e.logger.Logger), conflict.WithClock(e.now))
	}

	e.unsubscribe = e.detector.OnConflict(e.onConflict)
	return e, nil
}

// Name returns the configured mutation name.
func (e *Engine[V, T]) Name() string { return e.cfg.Name }

// Detector returns the detector the engine subscribes to.
func (e *Engine[V, T]) Detector() *conflict.Detector { return e.detector }

// Mutate records a pending update, applies the optimistic projection and
// invokes the remote operation with vars. A remote failure is returned as a
// *errors.MutationError wrapping the remote error; conflicts are never
// returned as errors.
func (e *Engine[V, T]) Mutate(ctx context.Context, vars V) (T, error) {
	var zero T

	u := e.newUpdate(vars)
	id, resourceID := u.ID, u.ResourceID

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return zero, errors.E(errors.OpMutate, errors.Component("optimistic"), errors.ErrClosed)
	}
	e.updates[id] = u
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.logger.Debug("mutation started", "update_id", id, "resource_id", resourceID)
	e.notify(notify.TypeInfo, "Saving", "Saving your changes", id)

	return e.execute(ctx, id, errors.OpMutate)
}

func (e *Engine[V, T]) newUpdate(vars V) *Update[V, T] {
	now := e.now()
	u := &Update[V, T]{
		ID:           e.newID(),
		Input:        vars,
		Timestamp:    now,
		Status:       StatusPending,
		MaxRetries:   e.cfg.MaxRetries,
		LastSyncTime: now,
		History:      []Status{StatusPending},
	}

	u.ResourceID = u.ID
	if e.cfg.ResourceID != nil {
		if id := e.cfg.ResourceID(vars); id != "" {
			u.ResourceID = id
		}
	}
	if e.cfg.Optimistic != nil {
		p := e.cfg.Optimistic(vars)
		u.Data = p.Data
		u.hasData = true
		u.OriginalData = p.Original
		u.HasOriginal = p.HasOriginal
	}
	if e.cfg.LocalVersion != nil {
		if v, ok := e.cfg.LocalVersion(vars); ok {
			u.Version = &v
		}
	}
	if e.cfg.LastSyncTime != nil {
		if t := e.cfg.LastSyncTime(vars); !t.IsZero() {
			u.LastSyncTime = t
		}
	}
	return u
}

// execute runs the remote operation for a pending update and settles it.
func (e *Engine[V, T]) execute(ctx context.Context, id string, op errors.Operation) (T, error) {
	var zero T

	e.mu.Lock()
	u, ok := e.updates[id]
	if !ok {
		e.mu.Unlock()
		return zero, errors.E(op, errors.Component("optimistic"), errors.KindNotFound, errors.ErrNotFound)
	}
	vars := u.Input
	e.mu.Unlock()

	e.setBusy(1)
	defer e.setBusy(-1)

	start := time.Now()
	result, err := e.cfg.Remote(ctx, vars)
	e.metrics.RecordRemoteDuration(e.cfg.Name, time.Since(start), err == nil)

	if err != nil {
		return zero, e.fail(ctx, id, op, err)
	}
	e.succeed(ctx, id, result)
	return result, nil
}

func (e *Engine[V, T]) succeed(ctx context.Context, id string, result T) {
	serverID := ""
	if e.cfg.ResourceIDOf != nil {
		serverID = e.cfg.ResourceIDOf(result)
	}

	e.mu.Lock()
	u, ok := e.updates[id]
	if ok && u.Status == StatusConflicted {
		// kept for a later reject
		u.server = result
		u.hasServer = true
	}
	if !ok || u.Status != StatusPending {
		e.mu.Unlock()
		e.logger.InfoContext(ctx, "remote result ignored for settled update", "update_id", id)
		return
	}
	u.server = result
	u.hasServer = true
	if serverID != "" {
		u.ResourceID = serverID
	}
	snap := u.snapshot()
	e.mu.Unlock()

	e.detect(snap, result)

	e.mu.Lock()
	u, ok = e.updates[id]
	if !ok || u.Status != StatusPending {
		// a conflict was attributed to this update, or it was rolled back
		e.mu.Unlock()
		return
	}
	u.transition(StatusConfirmed)
	u.Data = result
	u.hasData = true
	e.scheduleCleanup(id)
	snap = u.snapshot()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "mutation confirmed",
		"update_id", id,
		"resource_id", snap.ResourceID,
		"retry_count", snap.RetryCount)
	e.metrics.RecordMutation(e.cfg.Name, StatusConfirmed)
	e.listener.OnConfirmed(snap, result)
	e.notify(notify.TypeSuccess, "Saved", "Your changes were saved", id)
}

// detect runs the configured checks against the server result and stops at
// the first conflict. Attribution to updates happens in onConflict.
func (e *Engine[V, T]) detect(u Update[V, T], result T) *conflict.Conflict {
	var local any = u.Input
	if u.hasData {
		local = u.Data
	}

	if u.Version != nil && e.cfg.ServerVersion != nil {
		if sv, ok := e.cfg.ServerVersion(result); ok {
			if c := e.detector.DetectVersionConflict(u.ResourceID, *u.Version, sv, local, result); c != nil {
				return c
			}
		}
	}

	if e.cfg.DetectConcurrentEdits && u.hasData && e.cfg.ServerModified != nil {
		if c := e.detectConcurrentEdits(u, result); c != nil {
			return c
		}
	}

	if len(e.cfg.UniqueFields) > 0 && e.cfg.ExistingRecords != nil {
		existing := e.cfg.ExistingRecords(u.Input)
		records := make([]any, 0, len(existing))
		for _, rec := range existing {
			records = append(records, rec)
		}
		return e.detector.DetectDuplicate(e.cfg.ResourceType, u.ResourceID, e.cfg.UniqueFields, local, records)
	}
	return nil
}

// detectConcurrentEdits compares the local data, the server result and the
// original data field by field. A field conflicts only when both sides
// changed it away from the original.
func (e *Engine[V, T]) detectConcurrentEdits(u Update[V, T], result T) *conflict.Conflict {
	if !u.HasOriginal {
		return nil
	}
	fields, err := conflict.ChangedFields(u.Data, result)
	if err != nil {
		e.logger.Warn("concurrent edit check skipped", "update_id", u.ID, "error", err)
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	local, err := conflict.FieldMap(u.Data)
	if err != nil {
		return nil
	}
	server, err := conflict.FieldMap(result)
	if err != nil {
		return nil
	}
	base, err := conflict.FieldMap(u.OriginalData)
	if err != nil {
		return nil
	}

	modified := e.cfg.ServerModified(result)
	for _, f := range fields {
		if e.cfg.ignored(f) {
			continue
		}
		if conflict.Equal(local[f], base[f]) || conflict.Equal(server[f], base[f]) {
			continue
		}
		c := e.detector.DetectConcurrentEditWithData(u.ResourceID, f, local[f], server[f], u.LastSyncTime, modified, result)
		if c != nil {
			return c
		}
	}
	return nil
}

func (e *Engine[V, T]) fail(ctx context.Context, id string, op errors.Operation, cause error) error {
	mErr := errors.NewRemoteError(op, cause).
		WithMetadata("engine", e.cfg.Name).
		WithMetadata("update_id", id)
	var remoteErr *errors.MutationError
	if errors.As(cause, &remoteErr) {
		// adapters know better whether a resend can help
		mErr.Retryable = remoteErr.Retryable
		if remoteErr.Kind != errors.KindOther {
			mErr.Kind = remoteErr.Kind
		}
	}

	e.mu.Lock()
	u, ok := e.updates[id]
	if !ok || u.Status != StatusPending {
		e.mu.Unlock()
		return mErr
	}
	u.transition(StatusFailed)
	mErr.WithMetadata("retry_count", u.RetryCount)
	snap := u.snapshot()
	e.mu.Unlock()

	e.logger.LogError(ctx, mErr, "remote operation failed", slog.String("update_id", id))
	e.metrics.RecordMutation(e.cfg.Name, StatusFailed)
	e.listener.OnFailed(snap, mErr)
	e.notify(notify.TypeError, "Save failed", cause.Error(), id)

	switch e.cfg.Policy {
	case PolicyServerWins:
		e.Rollback(id)
	case PolicyPromptUser:
		e.notify(notify.TypeWarning, "Action required", "Retry the change or discard it", id)
	}
	return mErr
}

type attributed[V, T any] struct {
	update   Update[V, T]
	conflict conflict.Conflict
}

// onConflict attributes a newly detected conflict to every pending update of
// the same resource. Each update claims its own conflict record.
func (e *Engine[V, T]) onConflict(c conflict.Conflict) {
	e.mu.Lock()
	var hit []attributed[V, T]
	for _, id := range e.order {
		u := e.updates[id]
		if u.Status != StatusPending || u.ResourceID != c.ResourceID {
			continue
		}
		claimed, ok := e.detector.Claim(c.ID)
		if !ok {
			break
		}
		u.transition(StatusConflicted)
		u.ConflictID = claimed.ID
		hit = append(hit, attributed[V, T]{update: u.snapshot(), conflict: claimed})
	}
	e.mu.Unlock()

	for _, a := range hit {
		e.logger.Warn("update conflicted",
			"update_id", a.update.ID,
			"conflict_id", a.conflict.ID,
			"kind", string(a.conflict.Kind),
			"field", a.conflict.Field)
		e.metrics.RecordMutation(e.cfg.Name, StatusConflicted)
		e.listener.OnConflicted(a.update, a.conflict)
		e.notify(notify.TypeWarning, "Conflict detected", a.conflict.String(), a.update.ID)
	}
}

// Rollback reverts a pending, failed or conflicted update to its original
// data. It is a no-op returning false when rollback is disabled, the update
// is unknown or settled, or there is no original data to restore.
func (e *Engine[V, T]) Rollback(id string) bool {
	if !e.cfg.EnableRollback {
		e.logger.Debug("rollback ignored: disabled", "update_id", id)
		return false
	}

	e.mu.Lock()
	u, ok := e.updates[id]
	if !ok || !u.Status.Rollbackable() {
		e.mu.Unlock()
		e.logger.Debug("rollback ignored", "update_id", id)
		return false
	}
	if !u.HasOriginal {
		e.mu.Unlock()
		err := errors.NewRollbackError(fmt.Errorf("update %s has no original data", id))
		e.logger.LogError(context.Background(), err, "rollback failed", slog.String("update_id", id))
		e.metrics.RecordRollback(e.cfg.Name, false)
		e.notify(notify.TypeError, "Rollback failed", "There is no previous state to restore", id)
		return false
	}
	conflictID := u.ConflictID
	u.transition(StatusRolledBack)
	e.scheduleCleanup(id)
	snap := u.snapshot()
	e.mu.Unlock()

	if conflictID != "" {
		e.detector.Resolve(context.Background(), conflictID, conflict.Resolution{Action: conflict.ActionReject})
	}

	e.logger.Info("update rolled back", "update_id", id, "resource_id", snap.ResourceID)
	e.metrics.RecordRollback(e.cfg.Name, true)
	e.metrics.RecordMutation(e.cfg.Name, StatusRolledBack)
	e.listener.OnRolledBack(snap, snap.OriginalData)
	e.notify(notify.TypeInfo, "Reverted", "Your changes were reverted", id)
	return true
}

// RollbackAll rolls back every pending, failed and conflicted update and
// returns how many were reverted.
func (e *Engine[V, T]) RollbackAll() int {
	e.mu.Lock()
	var ids []string
	for _, id := range e.order {
		if e.updates[id].Status.Rollbackable() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	n := 0
	for _, id := range ids {
		if e.Rollback(id) {
			n++
		}
	}
	return n
}

// Retry re-invokes the remote operation for a failed or conflicted update
// with its original input. Calls outside those states or past the retry
// budget are no-ops. The returned error is the remote failure, if any.
func (e *Engine[V, T]) Retry(ctx context.Context, id string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errors.E(errors.OpRetry, errors.Component("optimistic"), errors.ErrClosed)
	}
	u, ok := e.updates[id]
	if !ok || (u.Status != StatusFailed && u.Status != StatusConflicted) {
		e.mu.Unlock()
		e.logger.Debug("retry ignored", "update_id", id)
		return nil
	}
	if u.RetryCount >= u.MaxRetries {
		maxRetries := u.MaxRetries
		e.mu.Unlock()
		e.logger.Warn("retry refused: budget exhausted", "update_id", id, "max_retries", maxRetries)
		e.metrics.RecordRetry(e.cfg.Name, false)
		e.notify(notify.TypeWarning, "Max retries reached",
			fmt.Sprintf("Gave up after %d retries", maxRetries), id)
		return nil
	}
	conflictID := u.ConflictID
	u.RetryCount++
	u.transition(StatusPending)
	attempt, maxRetries := u.RetryCount, u.MaxRetries
	e.mu.Unlock()

	if conflictID != "" {
		e.detector.Resolve(ctx, conflictID, conflict.Resolution{Action: conflict.ActionRetry})
	}

	e.logger.InfoContext(ctx, "retrying mutation", "update_id", id, "attempt", attempt, "max_retries", maxRetries)
	e.metrics.RecordRetry(e.cfg.Name, true)
	e.notify(notify.TypeInfo, "Retrying", fmt.Sprintf("Attempt %d of %d", attempt, maxRetries), id)

	_, err := e.execute(ctx, id, errors.OpRetry)
	return err
}

// ResolveConflict closes out a conflicted update.
//
//   - overwrite keeps the local data
//   - merge replaces it with res.Data
//   - reject adopts the server representation captured with the conflict,
//     or a fresh one from Config.Refetch when set. Without either it is a
//     no-op and the update stays conflicted
//   - retry behaves like Retry
//   - manual leaves the update and its conflict in place
//
// Calls for updates that are not conflicted are no-ops. A malformed
// resolution is reported as a validation error.
func (e *Engine[V, T]) ResolveConflict(ctx context.Context, id string, res conflict.Resolution) error {
	if err := res.Validate(); err != nil {
		return errors.NewValidationError(errors.OpResolve, err).WithMetadata("update_id", id)
	}

	e.mu.Lock()
	u, ok := e.updates[id]
	if !ok || u.Status != StatusConflicted {
		e.mu.Unlock()
		e.logger.Debug("resolve ignored: update not conflicted", "update_id", id)
		return nil
	}
	snap := u.snapshot()
	e.mu.Unlock()

	switch res.Action {
	case conflict.ActionRetry:
		return e.Retry(ctx, id)
	case conflict.ActionManual:
		e.logger.InfoContext(ctx, "conflict left for manual resolution", "update_id", id, "conflict_id", snap.ConflictID)
		e.notify(notify.TypeInfo, "Manual resolution required", "Review the conflicting changes", id)
		return nil
	}

	data, replace, err := e.resolvedData(ctx, snap, res)
	if err != nil {
		return err
	}
	if res.Action == conflict.ActionReject && !replace {
		e.logger.WarnContext(ctx, "reject ignored: no server data", "update_id", id, "conflict_id", snap.ConflictID)
		e.notify(notify.TypeWarning, "Nothing to restore", "The server version is not available yet", id)
		return nil
	}

	e.mu.Lock()
	u, ok = e.updates[id]
	if !ok || u.Status != StatusConflicted || u.ConflictID != snap.ConflictID {
		e.mu.Unlock()
		return nil
	}
	if replace {
		u.Data = data
		u.hasData = true
	}
	u.transition(StatusConfirmed)
	e.scheduleCleanup(id)
	settled := u.snapshot()
	e.mu.Unlock()

	e.detector.Resolve(ctx, snap.ConflictID, res)

	e.logger.InfoContext(ctx, "conflict resolved",
		"update_id", id,
		"conflict_id", snap.ConflictID,
		"action", string(res.Action))
	e.metrics.RecordMutation(e.cfg.Name, StatusConfirmed)
	e.listener.OnConfirmed(settled, settled.Data)
	e.notify(notify.TypeSuccess, "Conflict resolved", fmt.Sprintf("Resolved with %s", res.Action), id)
	return nil
}

func (e *Engine[V, T]) resolvedData(ctx context.Context, u Update[V, T], res conflict.Resolution) (T, bool, error) {
	var zero T

	switch res.Action {
	case conflict.ActionMerge:
		v, err := coerce[T](res.Data)
		if err != nil {
			return zero, false, errors.NewValidationError(errors.OpResolve, fmt.Errorf("merge data: %w", err)).
				WithMetadata("update_id", u.ID)
		}
		return v, true, nil

	case conflict.ActionReject:
		if e.cfg.Refetch != nil {
			fresh, err := e.cfg.Refetch(ctx, u.ResourceID)
			if err != nil {
				mErr := errors.NewRemoteError(errors.OpResolve, err).WithMetadata("update_id", u.ID)
				e.logger.LogError(ctx, mErr, "refetch for reject failed", slog.String("update_id", u.ID))
				e.notify(notify.TypeError, "Could not load latest version", err.Error(), u.ID)
				return zero, false, mErr
			}
			return fresh, true, nil
		}
		if c, ok := e.detector.Get(u.ConflictID); ok && c.ConflictingData != nil {
			if v, err := coerce[T](c.ConflictingData); err == nil {
				return v, true, nil
			}
		}
		if u.hasServer {
			return u.server, true, nil
		}
		return zero, false, nil
	}

	// overwrite
	return zero, false, nil
}

// coerce converts v to T, through JSON when it is not already a T.
func coerce[T any](v any) (T, error) {
	var out T
	if t, ok := v.(T); ok {
		return t, nil
	}
	if v == nil {
		return out, fmt.Errorf("no data")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("cannot convert %T to %T: %w", v, out, err)
	}
	return out, nil
}

// ConflictData returns the conflict attached to a conflicted update.
func (e *Engine[V, T]) ConflictData(id string) (conflict.Conflict, bool) {
	e.mu.Lock()
	u, ok := e.updates[id]
	conflictID := ""
	if ok && u.Status == StatusConflicted {
		conflictID = u.ConflictID
	}
	e.mu.Unlock()

	if conflictID == "" {
		return conflict.Conflict{}, false
	}
	return e.detector.Get(conflictID)
}

// Get returns a snapshot of the update with the given id.
func (e *Engine[V, T]) Get(id string) (Update[V, T], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.updates[id]
	if !ok {
		return Update[V, T]{}, false
	}
	return u.snapshot(), true
}

// Updates returns every update in the registry in creation order.
func (e *Engine[V, T]) Updates() []Update[V, T] {
	return e.filter(func(Status) bool { return true })
}

// Pending returns updates awaiting the remote operation.
func (e *Engine[V, T]) Pending() []Update[V, T] {
	return e.filter(func(s Status) bool { return s == StatusPending })
}

// Conflicted returns updates waiting for a conflict resolution.
func (e *Engine[V, T]) Conflicted() []Update[V, T] {
	return e.filter(func(s Status) bool { return s == StatusConflicted })
}

// Failed returns updates whose remote operation failed.
func (e *Engine[V, T]) Failed() []Update[V, T] {
	return e.filter(func(s Status) bool { return s == StatusFailed })
}

// Len returns the number of updates in the registry.
func (e *Engine[V, T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.updates)
}

func (e *Engine[V, T]) filter(keep func(Status) bool) []Update[V, T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Update[V, T]
	for _, id := range e.order {
		if u := e.updates[id]; keep(u.Status) {
			out = append(out, u.snapshot())
		}
	}
	return out
}

// Close unsubscribes from the detector and stops pending cleanups. Updates
// stay readable; new mutations are refused.
func (e *Engine[V, T]) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	unsubscribe := e.unsubscribe
	e.mu.Unlock()

	unsubscribe()
	return nil
}

// scheduleCleanup must be called with e.mu held.
func (e *Engine[V, T]) scheduleCleanup(id string) {
	if e.closed {
		return
	}
	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.timers[id] = time.AfterFunc(e.cfg.CleanupDelay, func() { e.remove(id) })
}

func (e *Engine[V, T]) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.timers, id)
	u, ok := e.updates[id]
	if !ok || !u.Status.Terminal() {
		return
	}
	delete(e.updates, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// setBusy keeps a count of in-flight remote calls and reports only the
// idle/busy edges to the sink.
func (e *Engine[V, T]) setBusy(delta int) {
	if e.busy == nil {
		return
	}
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	before := e.inFlight
	e.inFlight += delta
	switch {
	case before == 0 && e.inFlight > 0:
		e.busy.SetBusy(true)
	case before > 0 && e.inFlight == 0:
		e.busy.SetBusy(false)
	}
}

func (e *Engine[V, T]) notify(typ notify.Type, title, message, updateID string) {
	e.notifier.Notify(notify.Notification{
		Type:     typ,
		Title:    title,
		Message:  message,
		Mutation: e.cfg.Name,
		UpdateID: updateID,
		At:       e.now(),
	})
}
