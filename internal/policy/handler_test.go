package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loicricci/albee-poc-sub001/internal/http/middleware"
)

func ownerRequest(method, target, body string, personas ...string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := middleware.WithOwnerClaims(req.Context(), middleware.OwnerClaims{Personas: personas})
	return req.WithContext(ctx)
}

func mount(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Mount("/admin/personas", h.Routes())
	return r
}

func TestHandlerGetPolicy(t *testing.T) {
	store := NewMemoryStore()
	h := mount(NewHandler(store, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, ownerRequest(http.MethodGet, "/admin/personas/p1/policy", "", "p1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg Config
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cfg))
	assert.Equal(t, DefaultConfig("p1"), cfg)
}

func TestHandlerForbidsOtherPersona(t *testing.T) {
	h := mount(NewHandler(NewMemoryStore(), nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, ownerRequest(http.MethodGet, "/admin/personas/p2/policy", "", "p1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerPartialUpdate(t *testing.T) {
	store := NewMemoryStore()
	h := mount(NewHandler(store, nil))

	body := `{"confidence_threshold": 0.8, "blocked_topics": ["medical advice"], "escalations_enabled": false}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, ownerRequest(http.MethodPut, "/admin/personas/p1/policy", body, "p1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := store.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.ConfidenceThreshold)
	assert.False(t, got.EscalationsEnabled)
	assert.Equal(t, DefaultConfig("p1").MaxEscalationsPerDay, got.MaxEscalationsPerDay)
}

func TestHandlerRejectsOutOfRangeThreshold(t *testing.T) {
	store := NewMemoryStore()
	h := mount(NewHandler(store, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, ownerRequest(http.MethodPut, "/admin/personas/p1/policy", `{"confidence_threshold": 0.99}`, "p1"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "confidence_threshold")

	got, _ := store.Get(context.Background(), "p1")
	assert.Equal(t, DefaultConfig("p1").ConfidenceThreshold, got.ConfidenceThreshold)
}

func TestHandlerInvalidJSON(t *testing.T) {
	h := mount(NewHandler(NewMemoryStore(), nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, ownerRequest(http.MethodPut, "/admin/personas/p1/policy", `{`, "p1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
