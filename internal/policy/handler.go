package policy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loicricci/albee-poc-sub001/internal/http/middleware"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Handler serves the owner-facing policy endpoints.
type Handler struct {
	store  Store
	logger *logging.Logger
}

// NewHandler creates a new persona policy HTTP handler.
func NewHandler(store Store, logger *logging.Logger) *Handler {
	if store == nil {
		panic("policy: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Routes returns a chi router with the policy routes. Mount it under
// /admin/personas.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{personaID}/policy", h.GetPolicy)
	r.Put("/{personaID}/policy", h.UpdatePolicy)
	return r
}

// GetPolicy returns the persona policy.
// GET /admin/personas/{personaID}/policy
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if !middleware.CanManagePersona(r.Context(), personaID) {
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
		return
	}
	cfg, err := h.store.Get(r.Context(), personaID)
	if err != nil {
		h.logger.Error("failed to get persona policy", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cfg)
}

// UpdatePolicyRequest is a partial policy update. Omitted fields keep their
// current value.
type UpdatePolicyRequest struct {
	MaxEscalationsPerDay  *int     `json:"max_escalations_per_day,omitempty"`
	MaxEscalationsPerWeek *int     `json:"max_escalations_per_week,omitempty"`
	EscalationsEnabled    *bool    `json:"escalations_enabled,omitempty"`
	ConfidenceThreshold   *float64 `json:"confidence_threshold,omitempty"`
	ClarificationEnabled  *bool    `json:"clarification_enabled,omitempty"`
	AllowedAudienceTiers  []Tier   `json:"allowed_audience_tiers,omitempty"`
	BlockedTopics         []string `json:"blocked_topics,omitempty"`
	OwnerEmail            *string  `json:"owner_email,omitempty"`
}

func (req UpdatePolicyRequest) apply(cfg Config) Config {
	if req.MaxEscalationsPerDay != nil {
		cfg.MaxEscalationsPerDay = *req.MaxEscalationsPerDay
	}
	if req.MaxEscalationsPerWeek != nil {
		cfg.MaxEscalationsPerWeek = *req.MaxEscalationsPerWeek
	}
	if req.EscalationsEnabled != nil {
		cfg.EscalationsEnabled = *req.EscalationsEnabled
	}
	if req.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.ClarificationEnabled != nil {
		cfg.ClarificationEnabled = *req.ClarificationEnabled
	}
	if req.AllowedAudienceTiers != nil {
		cfg.AllowedAudienceTiers = req.AllowedAudienceTiers
	}
	if req.BlockedTopics != nil {
		cfg.BlockedTopics = req.BlockedTopics
	}
	if req.OwnerEmail != nil {
		cfg.OwnerEmail = *req.OwnerEmail
	}
	return cfg
}

// UpdatePolicy merges a partial update into the current policy and saves it.
// PUT /admin/personas/{personaID}/policy
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if !middleware.CanManagePersona(r.Context(), personaID) {
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
		return
	}

	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	cfg, err := h.store.Get(r.Context(), personaID)
	if err != nil {
		h.logger.Error("failed to get persona policy", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	cfg = req.apply(cfg)
	cfg.PersonaID = personaID

	if err := h.store.Put(r.Context(), cfg); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			writeJSON(w, h.logger, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("failed to save persona policy", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "failed to save policy"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("persona policy updated", "persona_id", personaID,
		"confidence_threshold", cfg.ConfidenceThreshold,
		"escalations_enabled", cfg.EscalationsEnabled)
	saved, err := h.store.Get(r.Context(), personaID)
	if err != nil {
		saved = cfg.Normalize()
	}
	writeJSON(w, h.logger, http.StatusOK, saved)
}

func writeJSON(w http.ResponseWriter, logger *logging.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
