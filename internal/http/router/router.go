package router

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/labflags/internal/http/handler"
	"github.com/sandeepkv93/labflags/internal/http/middleware"
	"github.com/sandeepkv93/labflags/internal/http/response"
	"github.com/sandeepkv93/labflags/internal/security"
)

type Dependencies struct {
	FeatureFlagHandler *handler.FeatureFlagHandler
	JWTManager         *security.JWTManager
	AdminRole          string
	AdminRateLimiter   *middleware.RateLimiter
	MetricsHandler     http.Handler
	CORSOrigins        []string
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors(dep.CORSOrigins))

	h := dep.FeatureFlagHandler
	r.Get("/healthz", h.Health)
	if dep.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", dep.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Actor(dep.JWTManager))

		api.Get("/feature-flags", h.ListFlags)
		api.Post("/feature-flags/evaluate", h.EvaluateMany)
		api.Get("/feature-flags/{key}", h.GetFlag)
		api.Get("/feature-flags/{key}/evaluate", h.EvaluateOne)
		api.Get("/metrics/visible", h.VisibleMetrics)
		api.Get("/metrics/{metric}/visible", h.MetricVisible)
		api.Get("/features/{feature}/visible", h.FeatureVisible)

		api.Route("/admin/feature-flags", func(admin chi.Router) {
			admin.Use(middleware.RequireRole(dep.AdminRole))
			if dep.AdminRateLimiter != nil {
				admin.Use(dep.AdminRateLimiter.Middleware())
			}
			admin.Post("/", h.CreateFlag)
			admin.Post("/refresh", h.Refresh)
			admin.Delete("/local-overrides", h.ClearLocalOverrides)
			admin.Post("/local-overrides/restore", h.RestoreLocalOverrides)
			admin.Patch("/{key}", h.UpdateFlag)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.Error(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}

func cors(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && slices.Contains(origins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
				if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
					w.Header().Set("Access-Control-Allow-Methods", strings.Join([]string{
						http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete,
					}, ", "))
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
