// Package control exposes the operational HTTP surface over the table
// manager: global and per-model reindex/backfill, and a health check,
// routed with gorilla/mux in the same handler-plus-JSON-response style
// as the teacher's REST handlers.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/redbco/searchsync/internal/tablemanager"
)

// Manager is the subset of tablemanager's API the control surface
// drives.
type Manager interface {
	ReindexAll(ctx context.Context) error
	BackfillAll(ctx context.Context) error
	Reindex(ctx context.Context, docName string) error
	Backfill(ctx context.Context, docName string) error
}

// Logger is the leveled logging surface handlers use to report
// failures that were already turned into an HTTP error response.
type Logger interface {
	Error(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Error(string, ...interface{}) {}

// Handlers holds the manager and logger every route handler closes
// over.
type Handlers struct {
	manager Manager
	log     Logger
}

// NewRouter builds the control surface's mux.Router: POST /reindex,
// POST /backfill, GET /healthz, and the per-model
// POST /reindex/{model} / POST /backfill/{model} variants.
func NewRouter(manager Manager, log Logger) *mux.Router {
	if log == nil {
		log = noopLogger{}
	}
	h := &Handlers{manager: manager, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/reindex", h.ReindexAll).Methods(http.MethodPost)
	r.HandleFunc("/backfill", h.BackfillAll).Methods(http.MethodPost)
	r.HandleFunc("/reindex/{model}", h.ReindexOne).Methods(http.MethodPost)
	r.HandleFunc("/backfill/{model}", h.BackfillOne).Methods(http.MethodPost)
	return r
}

// Healthz reports the control surface is reachable. It does not probe
// the search cluster itself — reconcile already surfaces cluster
// trouble through its own operations.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReindexAll handles POST /reindex: it runs ReindexAll, then chains
// into BackfillAll unless the request explicitly passes
// ?backfill=false.
func (h *Handlers) ReindexAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute+30*time.Second)
	defer cancel()

	if err := h.manager.ReindexAll(ctx); err != nil {
		h.writeError(w, err)
		return
	}

	if wantsBackfill(r) {
		if err := h.manager.BackfillAll(ctx); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// wantsBackfill reports whether ReindexAll should chain into a
// backfill: true unless the request sets backfill=false.
func wantsBackfill(r *http.Request) bool {
	raw := r.URL.Query().Get("backfill")
	if raw == "" {
		return true
	}
	want, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return want
}

// BackfillAll handles POST /backfill.
func (h *Handlers) BackfillAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := h.manager.BackfillAll(ctx); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReindexOne handles POST /reindex/{model}.
func (h *Handlers) ReindexOne(w http.ResponseWriter, r *http.Request) {
	docName := mux.Vars(r)["model"]
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.manager.Reindex(ctx, docName); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": docName})
}

// BackfillOne handles POST /backfill/{model}.
func (h *Handlers) BackfillOne(w http.ResponseWriter, r *http.Request) {
	docName := mux.Vars(r)["model"]
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := h.manager.Backfill(ctx, docName); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": docName})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("control: encoding response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	h.log.Error("control: request failed: %v", err)
	status := http.StatusInternalServerError
	if errors.Is(err, tablemanager.ErrUnknownModel) {
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, map[string]string{"status": "error", "error": err.Error()})
}
