// Package journalapi is a small journal-entry service used to exercise the
// optimistic engines end to end. Every write bumps the entry's version, and
// the store can inject concurrent edits and failures on demand.
package journalapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/resource"
)

// Entry is a versioned journal entry.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title" validate:"required,max=200"`
	Body      string    `json:"body" validate:"max=10000"`
	Mood      string    `json:"mood,omitempty" validate:"omitempty,oneof=great good okay bad awful"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e Entry) GetID() string           { return e.ID }
func (e Entry) GetVersion() int64       { return e.Version }
func (e Entry) GetUpdatedAt() time.Time { return e.UpdatedAt }

// WithID returns e with its id replaced. It is the resource.Config AssignID
// for entries.
func WithID(e Entry, id string) Entry {
	e.ID = id
	return e
}

// Event types published on every change.
const (
	EventCreated = "entry.created"
	EventUpdated = "entry.updated"
	EventDeleted = "entry.deleted"
)

// Change is the payload of a published event.
type Change struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Source  string `json:"source"`
}

// Publisher receives change events. sse.Hub implements it.
type Publisher interface {
	Publish(typ string, data any) error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) { s.newID = gen }
}

func WithPublisher(p Publisher) StoreOption {
	return func(s *Store) { s.publisher = p }
}

// Store is an in-memory, versioned entry collection. It implements
// resource.Remote[Entry].
type Store struct {
	mu        sync.Mutex
	entries   map[string]Entry
	order     []string
	validate  *validator.Validate
	now       func() time.Time
	newID     func() string
	publisher Publisher

	failNext  int
	failErr   error
	latency   time.Duration
	failCalls int64
}

var _ resource.Remote[Entry] = (*Store)(nil)

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:  make(map[string]Entry),
		validate: validator.New(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) List(ctx context.Context) ([]Entry, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	if err := s.enter(ctx); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, notFound(id)
	}
	return e, nil
}

// Create stores e under a new id with version 1. Any id sent by the client is
// ignored.
func (s *Store) Create(ctx context.Context, e Entry) (Entry, error) {
	if err := s.enter(ctx); err != nil {
		return Entry{}, err
	}
	if err := s.validate.Struct(e); err != nil {
		return Entry{}, optErrors.NewValidationError(optErrors.OpStore, err)
	}

	s.mu.Lock()
	now := s.now()
	e.ID = s.newID()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	s.mu.Unlock()

	s.publish(EventCreated, e, "api")
	return e, nil
}

// Update replaces the stored entry and bumps its version. Last write wins:
// detecting that the client edited a stale copy is the client's job.
func (s *Store) Update(ctx context.Context, e Entry) (Entry, error) {
	if err := s.enter(ctx); err != nil {
		return Entry{}, err
	}
	if err := s.validate.Struct(e); err != nil {
		return Entry{}, optErrors.NewValidationError(optErrors.OpStore, err)
	}

	s.mu.Lock()
	stored, ok := s.entries[e.ID]
	if !ok {
		s.mu.Unlock()
		return Entry{}, notFound(e.ID)
	}
	e.Version = stored.Version + 1
	e.CreatedAt = stored.CreatedAt
	e.UpdatedAt = s.now()
	s.entries[e.ID] = e
	s.mu.Unlock()

	s.publish(EventUpdated, e, "api")
	return e, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.publish(EventDeleted, e, "api")
	return nil
}

// SimulateConcurrentEdit changes one field of an entry as another client
// would, bumping its version. field is one of title, body or mood.
func (s *Store) SimulateConcurrentEdit(id, field, value string) (Entry, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return Entry{}, notFound(id)
	}
	switch field {
	case "title":
		e.Title = value
	case "body":
		e.Body = value
	case "mood":
		e.Mood = value
	default:
		s.mu.Unlock()
		return Entry{}, optErrors.NewValidationError(optErrors.OpStore, fmt.Errorf("unknown field %q", field))
	}
	if err := s.validate.Struct(e); err != nil {
		s.mu.Unlock()
		return Entry{}, optErrors.NewValidationError(optErrors.OpStore, err)
	}
	e.Version++
	e.UpdatedAt = s.now()
	s.entries[id] = e
	s.mu.Unlock()

	s.publish(EventUpdated, e, "concurrent-edit")
	return e, nil
}

// FailNext makes the next n calls fail as unavailable. A nil err uses a
// generic network error. n < 0 fails every call until FailNext(0, nil).
func (s *Store) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("network error")
	}
	s.failNext = n
	s.failErr = err
}

// SetLatency delays every call by d.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailedCalls counts calls rejected by FailNext.
func (s *Store) FailedCalls() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failCalls
}

func (s *Store) enter(ctx context.Context) error {
	s.mu.Lock()
	latency := s.latency
	var injected error
	if s.failNext != 0 {
		if s.failNext > 0 {
			s.failNext--
		}
		s.failCalls++
		injected = s.failErr
	}
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(latency):
		}
	}
	if injected != nil {
		return optErrors.E(optErrors.OpStore, optErrors.Component("journalapi"), optErrors.KindUnavailable, injected)
	}
	return nil
}

func (s *Store) publish(typ string, e Entry, source string) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(typ, Change{ID: e.ID, Version: e.Version, Source: source})
}

func notFound(id string) error {
	return optErrors.E(optErrors.OpStore, optErrors.Component("journalapi"), optErrors.KindNotFound,
		fmt.Errorf("entry %s: %w", id, optErrors.ErrNotFound))
}
