package journalapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/transport/httpremote"
)

// Collection is the REST collection name entries are served under.
const Collection = "entries"

// EditRequest drives Store.SimulateConcurrentEdit over HTTP.
type EditRequest struct {
	Field string `json:"field" validate:"required,oneof=title body mood"`
	Value string `json:"value"`
}

// FailRequest drives Store.FailNext over HTTP.
type FailRequest struct {
	Count   int    `json:"count" validate:"gte=-1"`
	Message string `json:"message"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEvents serves h at /events.
func WithEvents(h http.Handler) ServerOption {
	return func(s *Server) { s.events = h }
}

// WithRoute mounts h at path, for example a metrics handler.
func WithRoute(path string, h http.Handler) ServerOption {
	return func(s *Server) { s.extra[path] = h }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithHandlerOptions passes options to the entries handler.
func WithHandlerOptions(opts ...httpremote.ServerOption) ServerOption {
	return func(s *Server) { s.handlerOpts = append(s.handlerOpts, opts...) }
}

// Server routes the journal API.
type Server struct {
	store       *Store
	events      http.Handler
	extra       map[string]http.Handler
	logger      *slog.Logger
	handlerOpts []httpremote.ServerOption
	validate    *validator.Validate
}

// NewServer creates a server for store.
func NewServer(store *Store, opts ...ServerOption) *Server {
	s := &Server{
		store:    store,
		extra:    make(map[string]http.Handler),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("journalapi").Logger
	}
	return s
}

// Router builds the HTTP routes:
//
//	/entries, /entries/{id}             REST collection
//	/events                             change stream, when configured
//	POST /admin/entries/{id}/edit       simulate another client's edit
//	POST /admin/fail                    fail the next calls
//	GET /healthz
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	opts := append([]httpremote.ServerOption{httpremote.WithServerLogger(s.logger)}, s.handlerOpts...)
	httpremote.NewHandler[Entry](Collection, s.store, opts...).Register(r)

	if s.events != nil {
		r.Handle("/events", s.events).Methods(http.MethodGet)
	}
	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/entries/{id}/edit", s.handleEdit).Methods(http.MethodPost)
	admin.HandleFunc("/fail", s.handleFail).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	for path, h := range s.extra {
		r.Handle(path, h)
	}
	return r
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	entry, err := s.store.SimulateConcurrentEdit(mux.Vars(r)["id"], req.Field, req.Value)
	if err != nil {
		code := http.StatusInternalServerError
		switch optErrors.KindOf(err) {
		case optErrors.KindNotFound:
			code = http.StatusNotFound
		case optErrors.KindInvalid:
			code = http.StatusBadRequest
		}
		respondJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	s.logger.InfoContext(r.Context(), "simulated concurrent edit",
		slog.String("entry_id", entry.ID),
		slog.String("field", req.Field),
		slog.Int64("version", entry.Version))
	respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var injected error
	if req.Message != "" {
		injected = errors.New(req.Message)
	}
	s.store.FailNext(req.Count, injected)
	w.WriteHeader(http.StatusNoContent)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps the event stream working behind the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.DebugContext(r.Context(), "request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
