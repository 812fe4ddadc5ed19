package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Handler exposes the engine to the chat transport as JSON over HTTP.
// Callers are authenticated upstream; user_id is trusted as sent.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("orchestrator: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// Routes mounts under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/messages", h.Message)
	r.Post("/escalations/{escalationID}/accept", h.Accept)
	r.Post("/escalations/{escalationID}/decline", h.Decline)
	return r
}

// Message handles POST /v1/messages.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	resp, err := h.engine.HandleMessage(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type replyRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// Accept handles POST /v1/escalations/{escalationID}/accept.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	resp, err := h.engine.AcceptEscalation(r.Context(), req.UserID, chi.URLParam(r, "escalationID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Decline handles POST /v1/escalations/{escalationID}/decline.
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	esc, err := h.engine.DeclineEscalation(r.Context(), req.UserID, chi.URLParam(r, "escalationID"), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"escalation": esc})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNotYourEscalation):
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
	case errors.Is(err, escalation.ErrNotFound):
		http.Error(w, `{"error": "escalation not found"}`, http.StatusNotFound)
	case errors.Is(err, escalation.ErrClosed):
		http.Error(w, `{"error": "escalation is closed"}`, http.StatusConflict)
	case errors.Is(err, escalation.ErrNotOffered):
		http.Error(w, `{"error": "escalation is no longer pending"}`, http.StatusConflict)
	default:
		h.logger.Error("orchestrator request failed", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
