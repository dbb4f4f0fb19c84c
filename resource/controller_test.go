package resource

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-optimistic-kit/config"
	"github.com/c0deZ3R0/go-optimistic-kit/conflict"
	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/notify"
	"github.com/c0deZ3R0/go-optimistic-kit/optimistic"
)

type note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n note) GetID() string           { return n.ID }
func (n note) GetVersion() int64       { return n.Version }
func (n note) GetUpdatedAt() time.Time { return n.UpdatedAt }

func assignID(n note, id string) note {
	n.ID = id
	return n
}

// fakeRemote is an in-memory server that bumps the version on every write.
type fakeRemote struct {
	mu        sync.Mutex
	items     map[string]note
	order     []string
	seq       int
	failNext  int
	bumpNext  bool
	editTitle string
	onRequest func(op string)
}

func newFakeRemote(items ...note) *fakeRemote {
	r := &fakeRemote{items: make(map[string]note)}
	for _, n := range items {
		r.items[n.ID] = n
		r.order = append(r.order, n.ID)
	}
	r.seq = len(items)
	return r
}

func (r *fakeRemote) enter(op string) error {
	if r.onRequest != nil {
		r.onRequest(op)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return fmt.Errorf("%s: service unavailable", op)
	}
	return nil
}

func (r *fakeRemote) List(ctx context.Context) ([]note, error) {
	if err := r.enter("list"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []note
	for _, id := range r.order {
		if n, ok := r.items[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeRemote) Get(ctx context.Context, id string) (note, error) {
	if err := r.enter("get"); err != nil {
		return note{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return note{}, optErrors.ErrNotFound
	}
	return n, nil
}

func (r *fakeRemote) Create(ctx context.Context, n note) (note, error) {
	if err := r.enter("create"); err != nil {
		return note{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID != "" {
		return note{}, fmt.Errorf("client sent id %q", n.ID)
	}
	r.seq++
	n.ID = fmt.Sprintf("n%d", r.seq)
	n.Version = 1
	n.UpdatedAt = time.Now()
	r.items[n.ID] = n
	r.order = append(r.order, n.ID)
	return n, nil
}

func (r *fakeRemote) Update(ctx context.Context, n note) (note, error) {
	if err := r.enter("update"); err != nil {
		return note{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[n.ID]
	if !ok {
		return note{}, optErrors.ErrNotFound
	}
	if r.bumpNext {
		r.bumpNext = false
		stored.Version++
		stored.Title = "edited elsewhere"
	}
	if r.editTitle != "" {
		// another client's title lands in the same write
		n.Title = r.editTitle
		r.editTitle = ""
	}
	n.Version = stored.Version + 1
	n.UpdatedAt = time.Now()
	r.items[n.ID] = n
	return n, nil
}

func (r *fakeRemote) Delete(ctx context.Context, id string) error {
	if err := r.enter("delete"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

type harness struct {
	ctrl   *Controller[note]
	remote *fakeRemote
	queue  *notify.Queue
	busy   *notify.BusyFlag
}

func newHarness(t *testing.T, mutate func(*Config[note]), seed ...note) *harness {
	t.Helper()
	remote := newFakeRemote(seed...)
	queue := notify.NewQueue(256)
	busy := &notify.BusyFlag{}

	cfg := Config[note]{
		Name:     "notes",
		Remote:   remote,
		AssignID: assignID,
		Engine: &config.EngineConfig{
			Defaults:   config.EngineDefaults{CleanupDelay: time.Hour, Policy: optimistic.PolicyClientWins, EnableRollback: true},
			MaxRetries: config.MaxRetries{Create: 3, Update: 3, Delete: 2},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	seq := 0
	ctrl, err := New(cfg,
		WithNotifier(queue),
		WithBusySink(busy),
		WithLogger(logging.Discard().Logger),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("u%d", seq)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	require.NoError(t, ctrl.Load(context.Background()))
	return &harness{ctrl: ctrl, remote: remote, queue: queue, busy: busy}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config[note]{Name: "notes"})
	require.Error(t, err)
	assert.Equal(t, optErrors.KindInvalid, optErrors.KindOf(err))
}

func TestLoad(t *testing.T) {
	h := newHarness(t, nil, note{ID: "n1", Title: "first", Version: 3})
	got, ok := h.ctrl.Cache().Get("n1")
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Version)
	assert.False(t, h.ctrl.Cache().SyncedAt("n1").IsZero())

	h.remote.failNext = 1
	err := h.ctrl.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, optErrors.OpLoad, err.(*optErrors.MutationError).Op)
	assert.Equal(t, 1, h.ctrl.Cache().Len(), "failed load keeps the cache")
}

func TestCreate_ProjectsThenRekeys(t *testing.T) {
	h := newHarness(t, nil)

	var duringRemote []note
	h.remote.onRequest = func(op string) {
		if op == "create" {
			duringRemote = h.ctrl.Cache().All()
		}
	}

	created, err := h.ctrl.Create(context.Background(), note{Title: "groceries"})
	require.NoError(t, err)
	assert.Equal(t, "n1", created.ID)

	require.Len(t, duringRemote, 1)
	assert.Equal(t, "tmp-u1", duringRemote[0].ID, "projection is visible before the server answers")

	all := h.ctrl.Cache().All()
	require.Len(t, all, 1)
	assert.Equal(t, "n1", all[0].ID)
	assert.Equal(t, int64(1), all[0].Version)
	assert.Empty(t, h.ctrl.Pending())
	assert.True(t, h.busy.Toggles() >= 2)
	assert.False(t, h.busy.Busy())
}

func TestCreate_FailureThenRollback(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.failNext = 1

	_, err := h.ctrl.Create(context.Background(), note{Title: "groceries"})
	require.Error(t, err)
	assert.True(t, optErrors.IsRetryable(err))
	assert.Equal(t, 1, h.ctrl.Cache().Len(), "failed create stays visible")

	pending := h.ctrl.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, optimistic.KindCreate, pending[0].Kind)
	assert.Equal(t, optimistic.StatusFailed, pending[0].Status)

	require.True(t, h.ctrl.Rollback(pending[0].UpdateID))
	assert.Equal(t, 0, h.ctrl.Cache().Len())
	assert.False(t, h.ctrl.Rollback(pending[0].UpdateID), "rollback happens once")
}

func TestCreate_RetryAfterFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.remote.failNext = 1

	_, err := h.ctrl.Create(context.Background(), note{Title: "groceries"})
	require.Error(t, err)
	id := h.ctrl.Pending()[0].UpdateID

	require.NoError(t, h.ctrl.Retry(context.Background(), id))
	all := h.ctrl.Cache().All()
	require.Len(t, all, 1)
	assert.Equal(t, "n1", all[0].ID)
	assert.Empty(t, h.ctrl.Pending())
}

func TestCreate_DuplicateConflict(t *testing.T) {
	h := newHarness(t, func(c *Config[note]) {
		c.ResourceType = "note"
		c.UniqueFields = []string{"title"}
	}, note{ID: "n1", Title: "groceries", Version: 1})

	_, err := h.ctrl.Create(context.Background(), note{Title: "groceries"})
	require.NoError(t, err, "conflicts are not errors")

	conflicts := h.ctrl.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.KindDuplicate, conflicts[0].Kind)

	pending := h.ctrl.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, optimistic.StatusConflicted, pending[0].Status)

	require.NoError(t, h.ctrl.ResolveConflict(context.Background(), pending[0].UpdateID,
		conflict.Resolution{Action: conflict.ActionOverwrite}))
	assert.Empty(t, h.ctrl.Conflicts())

	all := h.ctrl.Cache().All()
	require.Len(t, all, 2)
	assert.Equal(t, "n1", all[0].ID)
	assert.Equal(t, "n2", all[1].ID, "overwritten projection takes the server id")
}

func TestUpdate_Confirmed(t *testing.T) {
	h := newHarness(t, nil, note{ID: "n1", Title: "draft", Version: 1})

	item, _ := h.ctrl.Cache().Get("n1")
	item.Title = "final"
	result, err := h.ctrl.Update(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)

	cached, _ := h.ctrl.Cache().Get("n1")
	assert.Equal(t, "final", cached.Title)
	assert.Equal(t, int64(2), cached.Version)
	assert.Empty(t, h.ctrl.Conflicts())
}

func TestUpdate_VersionConflictRejected(t *testing.T) {
	h := newHarness(t, nil, note{ID: "n1", Title: "draft", Version: 1})
	h.remote.bumpNext = true

	item, _ := h.ctrl.Cache().Get("n1")
	item.Title = "mine"
	_, err := h.ctrl.Update(context.Background(), item)
	require.NoError(t, err)

	conflicts := h.ctrl.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.KindVersion, conflicts[0].Kind)
	assert.Equal(t, "n1", conflicts[0].ResourceID)

	cached, _ := h.ctrl.Cache().Get("n1")
	assert.Equal(t, "mine", cached.Title, "conflicted projection stays until resolved")

	updateID := h.ctrl.Pending()[0].UpdateID
	require.NoError(t, h.ctrl.ResolveConflict(context.Background(), updateID,
		conflict.Resolution{Action: conflict.ActionReject}))

	cached, _ = h.ctrl.Cache().Get("n1")
	assert.Equal(t, int64(3), cached.Version, "reject adopts the server copy")
	assert.Empty(t, h.ctrl.Conflicts())
	assert.Empty(t, h.ctrl.Pending())
}

func TestUpdate_RejectWithRefetch(t *testing.T) {
	h := newHarness(t, func(c *Config[note]) { c.RefetchOnReject = true },
		note{ID: "n1", Title: "draft", Version: 1})
	h.remote.bumpNext = true

	item, _ := h.ctrl.Cache().Get("n1")
	item.Title = "mine"
	_, err := h.ctrl.Update(context.Background(), item)
	require.NoError(t, err)

	h.remote.mu.Lock()
	latest := h.remote.items["n1"]
	latest.Title = "newest"
	latest.Version = 9
	h.remote.items["n1"] = latest
	h.remote.mu.Unlock()

	updateID := h.ctrl.Pending()[0].UpdateID
	require.NoError(t, h.ctrl.ResolveConflict(context.Background(), updateID,
		conflict.Resolution{Action: conflict.ActionReject}))

	cached, _ := h.ctrl.Cache().Get("n1")
	assert.Equal(t, "newest", cached.Title)
	assert.Equal(t, int64(9), cached.Version)
}

func TestUpdate_ConcurrentEditsSingleWriter(t *testing.T) {
	h := newHarness(t, func(c *Config[note]) { c.DetectConcurrentEdits = true },
		note{ID: "n1", Title: "draft", Version: 1})

	item, _ := h.ctrl.Cache().Get("n1")
	item.Title = "final"
	result, err := h.ctrl.Update(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)

	assert.Empty(t, h.ctrl.Conflicts(), "server-owned fields are not edits")
	changes := h.ctrl.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, optimistic.StatusConfirmed, changes[0].Status)
}

func TestUpdate_ConcurrentEditOnSameField(t *testing.T) {
	h := newHarness(t, func(c *Config[note]) { c.DetectConcurrentEdits = true },
		note{ID: "n1", Title: "draft", Version: 1})
	h.remote.editTitle = "theirs"

	item, _ := h.ctrl.Cache().Get("n1")
	item.Title = "mine"
	_, err := h.ctrl.Update(context.Background(), item)
	require.NoError(t, err)

	conflicts := h.ctrl.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.KindConcurrentEdit, conflicts[0].Kind)
	assert.Equal(t, "title", conflicts[0].Field)
	assert.Equal(t, "mine", conflicts[0].LocalValue)
	assert.Equal(t, "theirs", conflicts[0].ServerValue)

	updateID := h.ctrl.Pending()[0].UpdateID
	require.NoError(t, h.ctrl.ResolveConflict(context.Background(), updateID,
		conflict.Resolution{Action: conflict.ActionReject}))
	cached, _ := h.ctrl.Cache().Get("n1")
	assert.Equal(t, "theirs", cached.Title)
	assert.Empty(t, h.ctrl.Conflicts())
}

func TestUpdate_FailureRollbackRestoresOriginal(t *testing.T) {
	h := newHarness(t, nil, note{ID: "n1", Title: "draft", Version: 1})
	h.remote.failNext = 1

	item, _ := h.ctrl.Cache().Get("n1")
	item.Title = "lost"
	_, err := h.ctrl.Update(context.Background(), item)
	require.Error(t, err)

	cached, _ := h.ctrl.Cache().Get("n1")
	assert.Equal(t, "lost", cached.Title)

	assert.Equal(t, 1, h.ctrl.RollbackAll())
	cached, _ = h.ctrl.Cache().Get("n1")
	assert.Equal(t, "draft", cached.Title)
}

func TestDelete_ServerWinsRestores(t *testing.T) {
	h := newHarness(t, func(c *Config[note]) {
		c.Engine.Defaults.Policy = optimistic.PolicyServerWins
	}, note{ID: "n1", Title: "keep me", Version: 1})
	h.remote.failNext = 1

	var duringRemote int
	h.remote.onRequest = func(op string) {
		if op == "delete" {
			duringRemote = h.ctrl.Cache().Len()
		}
	}

	err := h.ctrl.Delete(context.Background(), "n1")
	require.Error(t, err)
	assert.Equal(t, 0, duringRemote, "delete is applied before the server answers")

	cached, ok := h.ctrl.Cache().Get("n1")
	require.True(t, ok, "server-wins restores the deleted item")
	assert.Equal(t, "keep me", cached.Title)
	assert.Empty(t, h.ctrl.Pending())
}

func TestDelete_Confirmed(t *testing.T) {
	h := newHarness(t, nil, note{ID: "n1", Title: "bye", Version: 1})

	require.NoError(t, h.ctrl.Delete(context.Background(), "n1"))
	assert.Equal(t, 0, h.ctrl.Cache().Len())

	changes := h.ctrl.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, optimistic.KindDelete, changes[0].Kind)
	assert.Equal(t, optimistic.StatusConfirmed, changes[0].Status)
}

func TestUnknownUpdateIDs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	assert.False(t, h.ctrl.Rollback("missing"))
	assert.NoError(t, h.ctrl.Retry(ctx, "missing"))
	assert.NoError(t, h.ctrl.ResolveConflict(ctx, "missing", conflict.Resolution{Action: conflict.ActionReject}))
}

func TestNotificationsFlowToSharedQueue(t *testing.T) {
	h := newHarness(t, nil, note{ID: "n1", Title: "draft", Version: 1})

	_, err := h.ctrl.Create(context.Background(), note{Title: "new"})
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Delete(context.Background(), "n1"))

	var mutations []string
	for _, n := range h.queue.Drain() {
		if n.Type == notify.TypeSuccess {
			mutations = append(mutations, n.Mutation)
		}
	}
	assert.Equal(t, []string{"notes.create", "notes.delete"}, mutations)
}
