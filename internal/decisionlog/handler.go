package decisionlog

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loicricci/albee-poc-sub001/internal/http/middleware"
	"github.com/loicricci/albee-poc-sub001/internal/routing"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

const defaultWindow = 7 * 24 * time.Hour

// Handler serves decision statistics, replay and archive export to owners.
type Handler struct {
	store    Store
	router   *routing.Router
	archiver *Archiver
	logger   *logging.Logger
	now      func() time.Time
}

func NewHandler(store Store, router *routing.Router, archiver *Archiver, logger *logging.Logger) *Handler {
	if store == nil {
		panic("decisionlog: store cannot be nil")
	}
	if router == nil {
		panic("decisionlog: router cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, router: router, archiver: archiver, logger: logger, now: time.Now}
}

// Routes mounts under /admin/decisions.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{personaID}/summary", h.Summary)
	r.Post("/{personaID}/replay", h.Replay)
	r.Post("/{personaID}/archive", h.Archive)
	return r
}

// window reads from/to (RFC 3339) with a default of the last seven days.
func (h *Handler) window(r *http.Request) (time.Time, time.Time, error) {
	to := h.now().UTC()
	from := to.Add(-defaultWindow)
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, time.Time, time.Time, bool) {
	personaID := chi.URLParam(r, "personaID")
	if !middleware.CanManagePersona(r.Context(), personaID) {
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
		return "", time.Time{}, time.Time{}, false
	}
	from, to, err := h.window(r)
	if err != nil {
		http.Error(w, `{"error": "invalid time window"}`, http.StatusBadRequest)
		return "", time.Time{}, time.Time{}, false
	}
	return personaID, from, to, true
}

// Summary returns path counts, average confidence and the reuse rate.
// GET /admin/decisions/{personaID}/summary?from=&to=
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	personaID, from, to, ok := h.authorize(w, r)
	if !ok {
		return
	}
	summary, err := h.store.Summarize(r.Context(), personaID, from, to)
	if err != nil {
		h.logger.Error("failed to summarize decisions", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Replay re-runs the current router over recorded inputs.
// POST /admin/decisions/{personaID}/replay?from=&to=
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	personaID, from, to, ok := h.authorize(w, r)
	if !ok {
		return
	}
	records, err := h.store.List(r.Context(), Filter{PersonaID: personaID, From: from, To: to})
	if err != nil {
		h.logger.Error("failed to list decisions", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, Replay(h.router, records))
}

// Archive exports the window to S3.
// POST /admin/decisions/{personaID}/archive?from=&to=
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	personaID, from, to, ok := h.authorize(w, r)
	if !ok {
		return
	}
	res, err := h.archiver.Export(r.Context(), personaID, from, to)
	if errors.Is(err, ErrArchiveDisabled) {
		http.Error(w, `{"error": "archive not configured"}`, http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Error("failed to archive decisions", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "failed to archive decisions"}`, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
