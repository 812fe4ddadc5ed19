package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loicricci/albee-poc-sub001/internal/decisionlog"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	httpmiddleware "github.com/loicricci/albee-poc-sub001/internal/http/middleware"
	"github.com/loicricci/albee-poc-sub001/internal/orchestrator"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/internal/retrieval"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	Orchestrator *orchestrator.Handler
	Policies     *policy.Handler
	Knowledge    *retrieval.Handler
	Escalations  *escalation.Handler
	Decisions    *decisionlog.Handler

	MetricsHandler http.Handler

	// RateLimitRPS <= 0 disables per-client limiting on /v1.
	RateLimitRPS   float64
	RateLimitBurst int

	// Admin routes are only mounted when a secret is configured.
	AdminJWTSecret string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	if cfg.Orchestrator != nil {
		r.Route("/v1", func(v1 chi.Router) {
			if cfg.RateLimitRPS > 0 {
				v1.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
			}
			v1.Mount("/", cfg.Orchestrator.Routes())
		})
	}

	if cfg.AdminJWTSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.OwnerJWT(cfg.AdminJWTSecret))
			if cfg.Policies != nil {
				admin.Mount("/personas", cfg.Policies.Routes())
			}
			if cfg.Knowledge != nil {
				admin.Mount("/knowledge", cfg.Knowledge.Routes())
			}
			if cfg.Escalations != nil {
				admin.Mount("/escalations", cfg.Escalations.Routes())
			}
			if cfg.Decisions != nil {
				admin.Mount("/decisions", cfg.Decisions.Routes())
			}
		})
	}

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
