package retrieval

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/loicricci/albee-poc-sub001/internal/canonical"
	"github.com/loicricci/albee-poc-sub001/internal/http/middleware"
)

func TestHandlerIngest(t *testing.T) {
	svc := NewService(NewHashEmbedder(32), canonical.NewMemoryStore(), NewMemoryKnowledgeBase(), nil)
	r := chi.NewRouter()
	r.Mount("/admin/knowledge", NewHandler(svc, nil).Routes())

	tests := []struct {
		name     string
		persona  string
		body     string
		wantCode int
	}{
		{"ingests", "chef", `{"passages":["Salt pasta water."]}`, http.StatusCreated},
		{"empty", "chef", `{"passages":[]}`, http.StatusBadRequest},
		{"bad json", "chef", `{`, http.StatusBadRequest},
		{"other persona", "coach", `{"passages":["x"]}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/knowledge/"+tt.persona, strings.NewReader(tt.body))
			req = req.WithContext(middleware.WithOwnerClaims(req.Context(), middleware.OwnerClaims{Personas: []string{"chef"}}))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}
