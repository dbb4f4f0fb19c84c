package httpremote

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/notify"
	"github.com/c0deZ3R0/go-optimistic-kit/resource"
)

type task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t task) GetID() string           { return t.ID }
func (t task) GetVersion() int64       { return t.Version }
func (t task) GetUpdatedAt() time.Time { return t.UpdatedAt }

// memStore is a minimal resource.Remote used behind the handler.
type memStore struct {
	mu      sync.Mutex
	items   map[string]task
	order   []string
	seq     int
	failErr error
}

func newMemStore() *memStore { return &memStore{items: make(map[string]task)} }

func (s *memStore) List(ctx context.Context) ([]task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task
	for _, id := range s.order {
		if t, ok := s.items[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, id string) (task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok {
		return task{}, optErrors.E(optErrors.OpLoad, optErrors.KindNotFound, optErrors.ErrNotFound)
	}
	return t, nil
}

func (s *memStore) Create(ctx context.Context, t task) (task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return task{}, s.failErr
	}
	s.seq++
	t.ID = fmt.Sprintf("t%d", s.seq)
	t.Version = 1
	s.items[t.ID] = t
	s.order = append(s.order, t.ID)
	return t, nil
}

func (s *memStore) Update(ctx context.Context, t task) (task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return task{}, s.failErr
	}
	stored, ok := s.items[t.ID]
	if !ok {
		return task{}, optErrors.ErrNotFound
	}
	t.Version = stored.Version + 1
	s.items[t.ID] = t
	return t, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return optErrors.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func newTestServer(t *testing.T, store resource.Remote[task], opts ...ServerOption) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	opts = append([]ServerOption{WithServerLogger(logging.Discard().Logger)}, opts...)
	NewHandler[task]("tasks", store, opts...).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, opts ...ClientOption) *Client[task] {
	opts = append([]ClientOption{WithClientLogger(logging.Discard().Logger)}, opts...)
	return NewClient[task](srv.URL, "tasks", opts...)
}

func TestClient_CRUD(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	client := newTestClient(srv)
	ctx := context.Background()

	items, err := client.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	created, err := client.Create(ctx, task{Title: "write docs"})
	require.NoError(t, err)
	assert.Equal(t, "t1", created.ID)
	assert.Equal(t, int64(1), created.Version)

	created.Title = "write better docs"
	updated, err := client.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := client.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "write better docs", got.Title)

	items, err = client.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, client.Delete(ctx, "t1"))

	_, err = client.Get(ctx, "t1")
	require.Error(t, err)
	assert.Equal(t, optErrors.KindNotFound, optErrors.KindOf(err))
	assert.True(t, optErrors.Is(err, optErrors.ErrNotFound))
	assert.False(t, optErrors.IsRetryable(err))
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		storeErr  error
		kind      optErrors.Kind
		retryable bool
	}{
		{"conflict", optErrors.NewConflictError(optErrors.OpStore, fmt.Errorf("duplicate title")), optErrors.KindConflict, false},
		{"invalid", optErrors.NewValidationError(optErrors.OpStore, fmt.Errorf("title required")), optErrors.KindInvalid, false},
		{"unavailable", optErrors.E(optErrors.OpStore, optErrors.KindUnavailable, fmt.Errorf("maintenance")), optErrors.KindUnavailable, true},
		{"internal", fmt.Errorf("boom"), optErrors.KindInternal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.failErr = tt.storeErr
			client := newTestClient(newTestServer(t, store))

			_, err := client.Create(context.Background(), task{Title: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.kind, optErrors.KindOf(err))
			assert.Equal(t, tt.retryable, optErrors.IsRetryable(err))
		})
	}
}

func TestClient_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient[task](url, "tasks", WithClientLogger(logging.Discard().Logger))
	_, err := client.List(context.Background())
	require.Error(t, err)
	assert.True(t, optErrors.IsRetryable(err))
	assert.Equal(t, optErrors.KindUnavailable, optErrors.KindOf(err))
}

func TestClient_CanceledContext(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	client := newTestClient(srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.List(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, optErrors.IsRetryable(err))
}

func TestClient_UpdateNeedsID(t *testing.T) {
	client := NewClient[task]("http://127.0.0.1:1", "tasks")
	_, err := client.Update(context.Background(), task{Title: "orphan"})
	require.Error(t, err)
	assert.Equal(t, optErrors.KindInvalid, optErrors.KindOf(err))
}

func TestClient_Compression(t *testing.T) {
	var (
		mu             sync.Mutex
		requestEncoded bool
	)
	store := newMemStore()
	r := mux.NewRouter()
	NewHandler[task]("tasks", store, WithServerLogger(logging.Discard().Logger), WithCompressionThreshold(64)).Register(r)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Content-Encoding") == "gzip" {
			mu.Lock()
			requestEncoded = true
			mu.Unlock()
		}
		r.ServeHTTP(w, req)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(srv, WithGzipMinBytes(32))
	long := strings.Repeat("compress me ", 200)

	created, err := client.Create(context.Background(), task{Title: long})
	require.NoError(t, err)
	assert.Equal(t, long, created.Title)

	mu.Lock()
	assert.True(t, requestEncoded)
	mu.Unlock()

	items, err := client.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, long, items[0].Title)
}

func TestClient_ResponseTooLarge(t *testing.T) {
	store := newMemStore()
	_, _ = store.Create(context.Background(), task{Title: strings.Repeat("x", 4096)})
	srv := newTestServer(t, store, WithCompression(false))

	client := newTestClient(srv, WithMaxResponseSize(128))
	_, err := client.List(context.Background())
	require.Error(t, err)
}

func TestHandler_RejectsBadBodies(t *testing.T) {
	store := newMemStore()
	_, _ = store.Create(context.Background(), task{Title: "existing"})
	srv := newTestServer(t, store, WithMaxRequestSize(256), WithMaxDecompressedSize(1024))

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write([]byte(`{"title":"` + strings.Repeat("y", 4096) + `"}`))
	require.NoError(t, gw.Close())

	tests := []struct {
		name     string
		method   string
		path     string
		body     []byte
		headers  map[string]string
		wantCode int
	}{
		{"wrong media type", http.MethodPost, "/tasks", []byte(`title=x`),
			map[string]string{"Content-Type": "text/plain"}, http.StatusUnsupportedMediaType},
		{"unknown encoding", http.MethodPost, "/tasks", []byte(`{}`),
			map[string]string{"Content-Type": "application/json", "Content-Encoding": "br"}, http.StatusUnsupportedMediaType},
		{"invalid gzip", http.MethodPost, "/tasks", []byte("not gzip"),
			map[string]string{"Content-Type": "application/json", "Content-Encoding": "gzip"}, http.StatusBadRequest},
		{"too large", http.MethodPost, "/tasks", []byte(`{"title":"` + strings.Repeat("z", 1024) + `"}`),
			map[string]string{"Content-Type": "application/json"}, http.StatusRequestEntityTooLarge},
		{"too large decompressed", http.MethodPost, "/tasks", gz.Bytes(),
			map[string]string{"Content-Type": "application/json", "Content-Encoding": "gzip"}, http.StatusRequestEntityTooLarge},
		{"malformed json", http.MethodPost, "/tasks", []byte(`{"title":`),
			map[string]string{"Content-Type": "application/json"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/tasks", []byte(`{"colour":"red"}`),
			map[string]string{"Content-Type": "application/json"}, http.StatusBadRequest},
		{"id mismatch", http.MethodPut, "/tasks/t1", []byte(`{"id":"t2","title":"x"}`),
			map[string]string{"Content-Type": "application/json"}, http.StatusBadRequest},
		{"missing item", http.MethodDelete, "/tasks/nope", nil, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, bytes.NewReader(tt.body))
			require.NoError(t, err)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

func TestClient_DrivesController(t *testing.T) {
	srv := newTestServer(t, newMemStore())
	client := newTestClient(srv)
	queue := notify.NewQueue(64)

	ctrl, err := resource.New(resource.Config[task]{
		Name:     "tasks",
		Remote:   client,
		AssignID: func(t task, id string) task { t.ID = id; return t },
	}, resource.WithNotifier(queue), resource.WithLogger(logging.Discard().Logger))
	require.NoError(t, err)
	defer ctrl.Close()

	created, err := ctrl.Create(context.Background(), task{Title: "over the wire"})
	require.NoError(t, err)
	assert.Equal(t, "t1", created.ID)

	cached, ok := ctrl.Cache().Get("t1")
	require.True(t, ok)
	assert.Equal(t, "over the wire", cached.Title)

	require.NoError(t, ctrl.Delete(context.Background(), "t1"))
	assert.Equal(t, 0, ctrl.Cache().Len())

	err = ctrl.Delete(context.Background(), "t1")
	require.Error(t, err)
	assert.False(t, optErrors.IsRetryable(err), "a missing item is not worth retrying")
}
