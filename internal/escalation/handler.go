package escalation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/loicricci/albee-poc-sub001/internal/http/middleware"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Handler serves the owner's escalation inbox.
type Handler struct {
	manager *Manager
	logger  *logging.Logger
}

func NewHandler(manager *Manager, logger *logging.Logger) *Handler {
	if manager == nil {
		panic("escalation: manager cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

// Routes mounts under /admin/escalations.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{personaID}/pending", h.ListPending)
	r.Post("/{personaID}/{escalationID}/answer", h.Answer)
	return r
}

// ListPending returns accepted escalations awaiting an answer.
// GET /admin/escalations/{personaID}/pending?limit=50
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if !middleware.CanManagePersona(r.Context(), personaID) {
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, `{"error": "limit must be between 1 and 500"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}
	pending, err := h.manager.ListPending(r.Context(), personaID, limit)
	if err != nil {
		h.logger.Error("failed to list pending escalations", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []Escalation{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"escalations": pending})
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// Answer records the owner's reply.
// POST /admin/escalations/{personaID}/{escalationID}/answer
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	escalationID := chi.URLParam(r, "escalationID")
	if !middleware.CanManagePersona(r.Context(), personaID) {
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	e, err := h.manager.Get(r.Context(), escalationID)
	if errors.Is(err, ErrNotFound) || (err == nil && e.PersonaID != personaID) {
		http.Error(w, `{"error": "escalation not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load escalation", "escalation_id", escalationID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	answered, ans, err := h.manager.Answer(r.Context(), escalationID, req.Answer)
	switch {
	case errors.Is(err, ErrEmptyAnswer):
		http.Error(w, `{"error": "answer is required"}`, http.StatusBadRequest)
		return
	case errors.Is(err, ErrNotAccepted):
		http.Error(w, `{"error": "escalation is not awaiting an answer"}`, http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("failed to answer escalation", "escalation_id", escalationID, "error", err)
		http.Error(w, `{"error": "failed to answer escalation"}`, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"escalation":          answered,
		"canonical_answer_id": ans.ID,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
