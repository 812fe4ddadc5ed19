package retrieval

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loicricci/albee-poc-sub001/internal/http/middleware"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Handler serves knowledge-base ingestion for persona owners.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("retrieval: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts under /admin/knowledge.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{personaID}", h.Ingest)
	return r
}

type ingestRequest struct {
	Passages []string `json:"passages"`
}

// Ingest embeds and stores passages.
// POST /admin/knowledge/{personaID}
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if !middleware.CanManagePersona(r.Context(), personaID) {
		http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	n, err := h.service.Ingest(r.Context(), personaID, req.Passages)
	if errors.Is(err, ErrNoPassages) {
		http.Error(w, `{"error": "passages are required"}`, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("failed to ingest passages", "persona_id", personaID, "error", err)
		http.Error(w, `{"error": "failed to ingest passages"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]int{"ingested": n}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
