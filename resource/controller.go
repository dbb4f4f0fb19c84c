// Package resource composes create, update and delete engines over one local
// cache of a remote collection.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-optimistic-kit/config"
	"github.com/c0deZ3R0/go-optimistic-kit/conflict"
	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/notify"
	"github.com/c0deZ3R0/go-optimistic-kit/optimistic"
)

// Entity is a versioned record with a server-assigned id.
type Entity interface {
	GetID() string
	GetVersion() int64
	GetUpdatedAt() time.Time
}

// Remote is the authoritative store of a collection.
type Remote[T Entity] interface {
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, item T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Config describes a controlled collection.
type Config[T Entity] struct {
	// Name prefixes the engine names: "<name>.create" and so on.
	Name   string
	Remote Remote[T]

	// AssignID returns item with its id replaced. Creates use it to key the
	// projection under a temporary id and to clear that id before the remote
	// call.
	AssignID func(item T, id string) T

	// ResourceType and UniqueFields enable duplicate detection on create.
	ResourceType string
	UniqueFields []string

	// DetectConcurrentEdits flags fields changed both locally and on the
	// server since the cached copy was loaded. IgnoreFields lists JSON field
	// names excluded from the check.
	DetectConcurrentEdits bool
	IgnoreFields          []string

	// RefetchOnReject loads the newest server state when a conflict is
	// resolved with reject.
	RefetchOnReject bool

	// Engine holds per-kind retry budgets and engine defaults. The zero value
	// uses config.Default().Engine.
	Engine *config.EngineConfig
}

// Change is one tracked mutation, whichever engine owns it.
type Change struct {
	UpdateID   string
	Kind       optimistic.Kind
	ResourceID string
	Status     optimistic.Status
	RetryCount int
	MaxRetries int
	ConflictID string
	Timestamp  time.Time
}

// Option configures a Controller.
type Option func(*settings)

type settings struct {
	detector *conflict.Detector
	notifier notify.Notifier
	busy     notify.BusySink
	logger   *slog.Logger
	metrics  optimistic.MetricsCollector
	now      func() time.Time
	newID    func() string
}

// WithDetector shares d with other controllers.
func WithDetector(d *conflict.Detector) Option {
	return func(s *settings) { s.detector = d }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

// WithBusySink sets the sink toggled while any of the controller's remote
// calls are in flight.
func WithBusySink(b notify.BusySink) Option {
	return func(s *settings) { s.busy = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func WithMetrics(m optimistic.MetricsCollector) Option {
	return func(s *settings) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithIDGenerator sets the generator for update ids and temporary item ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *settings) { s.newID = gen }
}

// Controller keeps a cache of T consistent with optimistic mutations.
type Controller[T Entity] struct {
	cfg      Config[T]
	cache    *Cache[T]
	detector *conflict.Detector
	logger   *logging.Logger
	now      func() time.Time
	newID    func() string

	creates *optimistic.Engine[T, T]
	updates *optimistic.Engine[T, T]
	deletes *optimistic.Engine[string, T]
}

// New builds the three engines for cfg.
func New[T Entity](cfg Config[T], opts ...Option) (*Controller[T], error) {
	const op = "resource.New"

	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Name == "" || cfg.Remote == nil || cfg.AssignID == nil {
		return nil, optErrors.E(optErrors.Op(op), optErrors.Component("resource"), optErrors.KindInvalid,
			fmt.Errorf("name, remote and AssignID are required"))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	logger := logging.WithComponent("resource").With("collection", cfg.Name)
	if s.logger != nil {
		logger = s.logger.With("collection", cfg.Name)
	}
	if s.detector == nil {
		s.detector = conflict.NewDetector(conflict.WithLogger(logger), conflict.WithClock(s.now))
	}
	engineCfg := config.Default().Engine
	if cfg.Engine != nil {
		engineCfg = *cfg.Engine
	}

	c := &Controller[T]{
		cfg:      cfg,
		cache:    NewCache[T](),
		detector: s.detector,
		logger:   logging.Wrap(logger),
		now:      s.now,
		newID:    s.newID,
	}

	engineOpts := []optimistic.Option{
		optimistic.WithDetector(s.detector),
		optimistic.WithLogger(logger),
		optimistic.WithClock(s.now),
		optimistic.WithIDGenerator(s.newID),
	}
	if s.notifier != nil {
		engineOpts = append(engineOpts, optimistic.WithNotifier(s.notifier))
	}
	if s.busy != nil {
		engineOpts = append(engineOpts, optimistic.WithBusySink(notify.NewBusyCounter(s.busy)))
	}
	if s.metrics != nil {
		engineOpts = append(engineOpts, optimistic.WithMetrics(s.metrics))
	}

	var err error
	if c.creates, err = c.newCreateEngine(engineCfg, engineOpts); err != nil {
		return nil, err
	}
	if c.updates, err = c.newUpdateEngine(engineCfg, engineOpts); err != nil {
		c.creates.Close()
		return nil, err
	}
	if c.deletes, err = c.newDeleteEngine(engineCfg, engineOpts); err != nil {
		c.creates.Close()
		c.updates.Close()
		return nil, err
	}
	return c, nil
}

func (c *Controller[T]) newCreateEngine(ec config.EngineConfig, opts []optimistic.Option) (*optimistic.Engine[T, T], error) {
	ecfg := optimistic.Config[T, T]{
		Name: c.cfg.Name + ".create",
		Kind: optimistic.KindCreate,
		Remote: func(ctx context.Context, item T) (T, error) {
			return c.cfg.Remote.Create(ctx, c.cfg.AssignID(item, ""))
		},
		Optimistic: func(item T) optimistic.Projection[T] {
			c.cache.Put(item)
			var absent T
			return optimistic.Project(item, absent)
		},
		ResourceID:   func(item T) string { return item.GetID() },
		ResourceIDOf: func(result T) string { return result.GetID() },
		ResourceType: c.cfg.ResourceType,
		UniqueFields: c.cfg.UniqueFields,
	}
	if len(c.cfg.UniqueFields) > 0 {
		ecfg.ExistingRecords = func(item T) []T {
			var out []T
			for _, rec := range c.cache.All() {
				if rec.GetID() != item.GetID() {
					out = append(out, rec)
				}
			}
			return out
		}
	}
	config.ApplyEngineDefaults(ec, &ecfg)

	hooks := optimistic.Hooks[T, T]{
		Confirmed: func(u optimistic.Update[T, T], result T) {
			if result.GetID() == u.Input.GetID() && u.ResourceID != u.Input.GetID() {
				result = c.cfg.AssignID(result, u.ResourceID)
			}
			c.cache.Rekey(u.Input.GetID(), result, c.now())
		},
		RolledBack: func(u optimistic.Update[T, T], _ T) {
			c.cache.Remove(u.Input.GetID())
		},
	}
	return optimistic.New(ecfg, append(opts, optimistic.WithHooks(hooks))...)
}

func (c *Controller[T]) newUpdateEngine(ec config.EngineConfig, opts []optimistic.Option) (*optimistic.Engine[T, T], error) {
	ecfg := optimistic.Config[T, T]{
		Name:   c.cfg.Name + ".update",
		Kind:   optimistic.KindUpdate,
		Remote: c.cfg.Remote.Update,
		Optimistic: func(item T) optimistic.Projection[T] {
			original, ok := c.cache.Get(item.GetID())
			c.cache.Put(item)
			return optimistic.Projection[T]{Data: item, Original: original, HasOriginal: ok}
		},
		ResourceID: func(item T) string { return item.GetID() },
		// The server bumps the version once per write, so a result more than
		// one ahead of the edited copy means someone else wrote in between.
		LocalVersion:          func(item T) (int64, bool) { return item.GetVersion() + 1, true },
		ServerVersion:         func(result T) (int64, bool) { return result.GetVersion(), true },
		LastSyncTime:          func(item T) time.Time { return c.cache.SyncedAt(item.GetID()) },
		ServerModified:        func(result T) time.Time { return result.GetUpdatedAt() },
		DetectConcurrentEdits: c.cfg.DetectConcurrentEdits,
		IgnoreFields:          c.cfg.IgnoreFields,
	}
	if c.cfg.RefetchOnReject {
		ecfg.Refetch = c.cfg.Remote.Get
	}
	config.ApplyEngineDefaults(ec, &ecfg)

	hooks := optimistic.Hooks[T, T]{
		Confirmed: func(_ optimistic.Update[T, T], result T) {
			c.cache.PutSynced(result, c.now())
		},
		RolledBack: func(u optimistic.Update[T, T], original T) {
			c.cache.Put(original)
		},
	}
	return optimistic.New(ecfg, append(opts, optimistic.WithHooks(hooks))...)
}

func (c *Controller[T]) newDeleteEngine(ec config.EngineConfig, opts []optimistic.Option) (*optimistic.Engine[string, T], error) {
	ecfg := optimistic.Config[string, T]{
		Name: c.cfg.Name + ".delete",
		Kind: optimistic.KindDelete,
		Remote: func(ctx context.Context, id string) (T, error) {
			var gone T
			return gone, c.cfg.Remote.Delete(ctx, id)
		},
		Optimistic: func(id string) optimistic.Projection[T] {
			var gone T
			original, ok := c.cache.Remove(id)
			return optimistic.Projection[T]{Data: gone, Original: original, HasOriginal: ok}
		},
		ResourceID: func(id string) string { return id },
	}
	config.ApplyEngineDefaults(ec, &ecfg)

	hooks := optimistic.Hooks[string, T]{
		Confirmed: func(u optimistic.Update[string, T], _ T) {
			c.cache.Remove(u.Input)
		},
		RolledBack: func(_ optimistic.Update[string, T], original T) {
			c.cache.Put(original)
		},
	}
	return optimistic.New(ecfg, append(opts, optimistic.WithHooks(hooks))...)
}

// Cache exposes the local collection.
func (c *Controller[T]) Cache() *Cache[T] { return c.cache }

// Detector returns the detector shared by the controller's engines.
func (c *Controller[T]) Detector() *conflict.Detector { return c.detector }

// Load replaces the cache with the remote collection.
func (c *Controller[T]) Load(ctx context.Context) error {
	items, err := c.cfg.Remote.List(ctx)
	if err != nil {
		return optErrors.E(optErrors.OpLoad, optErrors.Component("resource"), err)
	}
	c.cache.Replace(items, c.now())
	c.logger.DebugContext(ctx, "collection loaded", "items", len(items))
	return nil
}

// Create shows item in the cache under a temporary id and asks the server to
// create it. On success the cache entry takes the server's id.
func (c *Controller[T]) Create(ctx context.Context, item T) (T, error) {
	if item.GetID() == "" {
		item = c.cfg.AssignID(item, "tmp-"+c.newID())
	}
	return c.creates.Mutate(ctx, item)
}

// Update writes item to the cache and the server. item's version must be the
// version it was edited from.
func (c *Controller[T]) Update(ctx context.Context, item T) (T, error) {
	return c.updates.Mutate(ctx, item)
}

// Delete removes id from the cache and the server.
func (c *Controller[T]) Delete(ctx context.Context, id string) error {
	_, err := c.deletes.Mutate(ctx, id)
	return err
}

// Rollback reverts the update with the given id, in whichever engine owns it.
func (c *Controller[T]) Rollback(updateID string) bool {
	switch c.owner(updateID) {
	case optimistic.KindCreate:
		return c.creates.Rollback(updateID)
	case optimistic.KindUpdate:
		return c.updates.Rollback(updateID)
	case optimistic.KindDelete:
		return c.deletes.Rollback(updateID)
	}
	return false
}

// RollbackAll reverts every outstanding change.
func (c *Controller[T]) RollbackAll() int {
	return c.creates.RollbackAll() + c.updates.RollbackAll() + c.deletes.RollbackAll()
}

func (c *Controller[T]) Retry(ctx context.Context, updateID string) error {
	switch c.owner(updateID) {
	case optimistic.KindCreate:
		return c.creates.Retry(ctx, updateID)
	case optimistic.KindUpdate:
		return c.updates.Retry(ctx, updateID)
	case optimistic.KindDelete:
		return c.deletes.Retry(ctx, updateID)
	}
	return nil
}

func (c *Controller[T]) ResolveConflict(ctx context.Context, updateID string, res conflict.Resolution) error {
	switch c.owner(updateID) {
	case optimistic.KindCreate:
		return c.creates.ResolveConflict(ctx, updateID, res)
	case optimistic.KindUpdate:
		return c.updates.ResolveConflict(ctx, updateID, res)
	case optimistic.KindDelete:
		return c.deletes.ResolveConflict(ctx, updateID, res)
	}
	return nil
}

func (c *Controller[T]) owner(updateID string) optimistic.Kind {
	if _, ok := c.creates.Get(updateID); ok {
		return optimistic.KindCreate
	}
	if _, ok := c.updates.Get(updateID); ok {
		return optimistic.KindUpdate
	}
	if _, ok := c.deletes.Get(updateID); ok {
		return optimistic.KindDelete
	}
	return ""
}

// Changes returns every tracked change, oldest first.
func (c *Controller[T]) Changes() []Change {
	var out []Change
	for _, u := range c.creates.Updates() {
		out = append(out, changeOf(optimistic.KindCreate, u))
	}
	for _, u := range c.updates.Updates() {
		out = append(out, changeOf(optimistic.KindUpdate, u))
	}
	for _, u := range c.deletes.Updates() {
		out = append(out, changeOf(optimistic.KindDelete, u))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Pending returns the changes that still need the server or the user:
// pending, failed and conflicted ones.
func (c *Controller[T]) Pending() []Change {
	var out []Change
	for _, ch := range c.Changes() {
		if !ch.Status.Terminal() {
			out = append(out, ch)
		}
	}
	return out
}

// Conflicts returns the active conflicts attributed to this controller's
// changes.
func (c *Controller[T]) Conflicts() []conflict.Conflict {
	var out []conflict.Conflict
	for _, ch := range c.Changes() {
		if ch.ConflictID == "" {
			continue
		}
		if cf, ok := c.detector.Get(ch.ConflictID); ok {
			out = append(out, cf)
		}
	}
	return out
}

// Close stops the engines.
func (c *Controller[T]) Close() error {
	return errors.Join(c.creates.Close(), c.updates.Close(), c.deletes.Close())
}

func changeOf[V any, T Entity](kind optimistic.Kind, u optimistic.Update[V, T]) Change {
	return Change{
		UpdateID:   u.ID,
		Kind:       kind,
		ResourceID: u.ResourceID,
		Status:     u.Status,
		RetryCount: u.RetryCount,
		MaxRetries: u.MaxRetries,
		ConflictID: u.ConflictID,
		Timestamp:  u.Timestamp,
	}
}
