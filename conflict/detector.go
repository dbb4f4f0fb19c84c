package conflict

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-optimistic-kit/audit"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
)

// Listener is notified synchronously of every newly registered conflict.
type Listener func(Conflict)

// MetricsCollector provides hooks for collecting detector metrics
type MetricsCollector interface {
	RecordConflict(kind string)
	RecordResolution(kind, action string)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordConflict(kind string)           {}
func (NoOpMetricsCollector) RecordResolution(kind, action string) {}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Detector is a registry of active conflicts.
type Detector struct {
	mu        sync.RWMutex
	conflicts map[string]Conflict
	order     []string
	claimed   map[string]bool

	listeners    []listenerEntry
	nextListener uint64

	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	journal audit.Journal
	metrics MetricsCollector
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger for the detector.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator overrides conflict id generation.
func WithIDGenerator(gen func() string) Option {
	return func(d *Detector) {
		if gen != nil {
			d.newID = gen
		}
	}
}

// WithJournal records every resolution in j.
func WithJournal(j audit.Journal) Option {
	return func(d *Detector) {
		d.journal = j
	}
}

// WithMetrics sets the metrics collector for the detector.
func WithMetrics(m MetricsCollector) Option {
	return func(d *Detector) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDetector creates an empty detector.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		conflicts: make(map[string]Conflict),
		claimed:   make(map[string]bool),
		now:       time.Now,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:    logging.WithComponent("conflict-detector").Logger,
		metrics:   NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectVersionConflict registers a version conflict when the versions
// differ. It returns nil when they agree.
func (d *Detector) DetectVersionConflict(resourceID string, localVersion, serverVersion int64, localData, serverData any) *Conflict {
	if localVersion == serverVersion {
		return nil
	}
	return d.register(Conflict{
		ResourceID:      resourceID,
		Kind:            KindVersion,
		Field:           "version",
		LocalValue:      localData,
		ServerValue:     serverData,
		ConflictingData: serverData,
	}, slog.Int64("local_version", localVersion), slog.Int64("server_version", serverVersion))
}

// DetectConcurrentEdit registers a concurrent-edit conflict on field when the
// local and server values differ and the server was modified after lastSync.
func (d *Detector) DetectConcurrentEdit(resourceID, field string, localValue, serverValue any, lastSync, serverModified time.Time) *Conflict {
	return d.DetectConcurrentEditWithData(resourceID, field, localValue, serverValue, lastSync, serverModified, serverValue)
}

// DetectConcurrentEditWithData is DetectConcurrentEdit with the full server
// representation kept as the conflict's ConflictingData.
func (d *Detector) DetectConcurrentEditWithData(resourceID, field string, localValue, serverValue any, lastSync, serverModified time.Time, serverData any) *Conflict {
	if Equal(localValue, serverValue) {
		return nil
	}
	if !serverModified.After(lastSync) {
		return nil
	}
	return d.register(Conflict{
		ResourceID:      resourceID,
		Kind:            KindConcurrentEdit,
		Field:           field,
		LocalValue:      localValue,
		ServerValue:     serverValue,
		ConflictingData: serverData,
	}, slog.Time("last_sync", lastSync), slog.Time("server_modified", serverModified))
}

// DetectDuplicate registers a duplicate conflict when an existing record
// shares every unique field value with candidate. The first match wins.
func (d *Detector) DetectDuplicate(resourceType, resourceID string, uniqueFields []string, candidate any, existing []any) *Conflict {
	if len(uniqueFields) == 0 || candidate == nil {
		return nil
	}
	candidateFields, err := FieldMap(candidate)
	if err != nil {
		d.logger.Warn("duplicate check skipped", "resource_type", resourceType, "error", err)
		return nil
	}

	for _, rec := range existing {
		recFields, err := FieldMap(rec)
		if err != nil {
			continue
		}
		if !sameUniqueValues(uniqueFields, candidateFields, recFields) {
			continue
		}
		return d.register(Conflict{
			ResourceID:      resourceID,
			ResourceType:    resourceType,
			Kind:            KindDuplicate,
			Field:           strings.Join(uniqueFields, ","),
			LocalValue:      pick(candidateFields, uniqueFields),
			ServerValue:     pick(recFields, uniqueFields),
			ConflictingData: rec,
		})
	}
	return nil
}

func sameUniqueValues(fields []string, a, b map[string]any) bool {
	for _, f := range fields {
		av, ok := a[f]
		if !ok {
			return false
		}
		bv, ok := b[f]
		if !ok {
			return false
		}
		if !Equal(av, bv) {
			return false
		}
	}
	return true
}

func pick(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = m[f]
	}
	return out
}

func (d *Detector) register(c Conflict, attrs ...any) *Conflict {
	c.ID = d.newID()
	c.DetectedAt = d.now()

	d.mu.Lock()
	d.conflicts[c.ID] = c
	d.order = append(d.order, c.ID)
	listeners := make([]Listener, len(d.listeners))
	for i, l := range d.listeners {
		listeners[i] = l.fn
	}
	d.mu.Unlock()

	args := append([]any{
		"conflict_id", c.ID,
		"resource_id", c.ResourceID,
		"kind", string(c.Kind),
		"field", c.Field,
	}, attrs...)
	d.logger.Info("conflict detected", args...)
	d.metrics.RecordConflict(string(c.Kind))

	for _, fn := range listeners {
		fn(c)
	}
	return &c
}

// OnConflict subscribes fn to new conflicts. Listeners run synchronously in
// subscription order. The returned function unsubscribes and is safe to call
// more than once.
func (d *Detector) OnConflict(fn Listener) (unsubscribe func()) {
	d.mu.Lock()
	d.nextListener++
	id := d.nextListener
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, l := range d.listeners {
				if l.id == id {
					d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Claim hands the conflict to one owner. The first claim returns the conflict
// itself. Later claims register a copy under a new id with the same data and
// detection time, so each owner resolves its own record. Listeners and
// metrics are not triggered for copies. It reports false for an unknown or
// resolved conflict.
func (d *Detector) Claim(conflictID string) (Conflict, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conflicts[conflictID]
	if !ok {
		return Conflict{}, false
	}
	if !d.claimed[conflictID] {
		d.claimed[conflictID] = true
		return c, true
	}
	c.ID = d.newID()
	d.conflicts[c.ID] = c
	d.order = append(d.order, c.ID)
	d.claimed[c.ID] = true
	return c, true
}

// Resolve removes the conflict from the registry and records the resolution
// in the audit journal, if any. It does not touch the update that raised the
// conflict; that belongs to the owning engine. It reports false for an
// unknown or already resolved conflict.
func (d *Detector) Resolve(ctx context.Context, conflictID string, res Resolution) bool {
	d.mu.Lock()
	c, ok := d.conflicts[conflictID]
	if ok {
		delete(d.conflicts, conflictID)
		delete(d.claimed, conflictID)
		for i, id := range d.order {
			if id == conflictID {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("resolve of unknown conflict ignored", "conflict_id", conflictID)
		return false
	}

	d.logger.Info("conflict resolved",
		"conflict_id", conflictID,
		"resource_id", c.ResourceID,
		"kind", string(c.Kind),
		"action", string(res.Action))
	d.metrics.RecordResolution(string(c.Kind), string(res.Action))

	if d.journal != nil {
		if err := d.journal.Append(ctx, d.record(c, res)); err != nil {
			d.logger.Error("failed to append conflict resolution to audit journal",
				"conflict_id", conflictID, "error", err)
		}
	}
	return true
}

func (d *Detector) record(c Conflict, res Resolution) audit.Record {
	rec := audit.Record{
		ConflictID: c.ID,
		ResourceID: c.ResourceID,
		Kind:       string(c.Kind),
		Field:      c.Field,
		Action:     string(res.Action),
		DetectedAt: c.DetectedAt,
		ResolvedAt: d.now(),
	}
	var err error
	if rec.LocalValue, err = audit.Encode(c.LocalValue); err != nil {
		d.logger.Warn("audit local value dropped", "conflict_id", c.ID, "error", err)
	}
	if rec.ServerValue, err = audit.Encode(c.ServerValue); err != nil {
		d.logger.Warn("audit server value dropped", "conflict_id", c.ID, "error", err)
	}
	if rec.Data, err = audit.Encode(res.Data); err != nil {
		d.logger.Warn("audit resolution data dropped", "conflict_id", c.ID, "error", err)
	}
	return rec
}

// Get returns the active conflict with the given id.
func (d *Detector) Get(conflictID string) (Conflict, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conflicts[conflictID]
	return c, ok
}

// List returns active conflicts in detection order.
func (d *Detector) List() []Conflict {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conflict, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.conflicts[id])
	}
	return out
}

// ForResource returns the active conflicts raised against resourceID.
func (d *Detector) ForResource(resourceID string) []Conflict {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Conflict
	for _, id := range d.order {
		if c := d.conflicts[id]; c.ResourceID == resourceID {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of active conflicts.
func (d *Detector) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conflicts)
}
