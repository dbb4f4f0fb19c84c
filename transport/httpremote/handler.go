package httpremote

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	optErrors "github.com/c0deZ3R0/go-optimistic-kit/errors"
	"github.com/c0deZ3R0/go-optimistic-kit/logging"
	"github.com/c0deZ3R0/go-optimistic-kit/resource"
)

// Handler serves a resource.Remote as a REST collection.
type Handler[T resource.Entity] struct {
	collection string
	store      resource.Remote[T]
	options    *ServerOptions
	logger     *slog.Logger
}

// NewHandler returns a handler for store under /{collection}.
func NewHandler[T resource.Entity](collection string, store resource.Remote[T], opts ...ServerOption) *Handler[T] {
	options := applyServerOptions(opts...)
	logger := options.Logger
	if logger == nil {
		logger = logging.WithComponent(component).Logger
	}
	return &Handler[T]{
		collection: strings.Trim(collection, "/"),
		store:      store,
		options:    options,
		logger:     logger.With("collection", collection),
	}
}

// Register adds the collection routes to r.
func (h *Handler[T]) Register(r *mux.Router) {
	base := "/" + h.collection
	r.HandleFunc(base, h.list).Methods(http.MethodGet)
	r.HandleFunc(base, h.create).Methods(http.MethodPost)
	r.HandleFunc(base+"/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc(base+"/{id}", h.update).Methods(http.MethodPut)
	r.HandleFunc(base+"/{id}", h.delete).Methods(http.MethodDelete)
}

func (h *Handler[T]) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	h.respond(w, r, http.StatusOK, items)
}

func (h *Handler[T]) get(w http.ResponseWriter, r *http.Request) {
	item, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, item)
}

func (h *Handler[T]) create(w http.ResponseWriter, r *http.Request) {
	item, ok := h.decode(w, r)
	if !ok {
		return
	}
	created, err := h.store.Create(r.Context(), item)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/"+h.collection+"/"+created.GetID())
	h.respond(w, r, http.StatusCreated, created)
}

func (h *Handler[T]) update(w http.ResponseWriter, r *http.Request) {
	item, ok := h.decode(w, r)
	if !ok {
		return
	}
	if id := mux.Vars(r)["id"]; item.GetID() != id {
		h.respondErr(w, r, optErrors.NewValidationError(optErrors.OpTransport,
			fmt.Errorf("body id %q does not match path id %q", item.GetID(), id)))
		return
	}
	updated, err := h.store.Update(r.Context(), item)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, updated)
}

func (h *Handler[T]) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler[T]) decode(w http.ResponseWriter, r *http.Request) (T, bool) {
	var item T

	reader, cleanup, err := createSafeRequestReader(w, r, h.options)
	defer cleanup()
	if err != nil {
		h.respondError(w, r, statusForBodyError(err), err.Error(), "")
		return item, false
	}

	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&item); err != nil {
		code := statusForBodyError(err)
		h.respondError(w, r, code, fmt.Sprintf("invalid request body: %v", err), string(optErrors.KindInvalid))
		return item, false
	}
	return item, true
}

func (h *Handler[T]) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := optErrors.KindOf(err)
	if kind == optErrors.KindOther && optErrors.Is(err, optErrors.ErrNotFound) {
		kind = optErrors.KindNotFound
	}
	code := statusForKind(kind)
	if code >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	h.respondError(w, r, code, err.Error(), string(kind))
}

func (h *Handler[T]) respondError(w http.ResponseWriter, r *http.Request, code int, message, kind string) {
	h.respond(w, r, code, errorBody{Error: message, Kind: kind})
}

// respond writes payload as JSON, gzipped when the client accepts it and the
// body reaches the compression threshold.
func (h *Handler[T]) respond(w http.ResponseWriter, r *http.Request, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to marshal response", slog.String("error", err.Error()))
		code = http.StatusInternalServerError
		body = []byte(`{"error":"failed to marshal response"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.options.CompressionEnabled && int64(len(body)) >= h.options.CompressionThreshold &&
		strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err == nil && gz.Close() == nil {
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Set("Vary", "Accept-Encoding")
			body = buf.Bytes()
		}
	}
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
