package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/http/middleware"
	"github.com/sandeepkv93/labflags/internal/http/response"
	"github.com/sandeepkv93/labflags/internal/service"
)

// FlagResolver is the slice of the resolver the HTTP surface needs.
type FlagResolver interface {
	AllFlags() map[string]domain.FlagDefinition
	Flag(key string) (domain.FlagDefinition, bool)
	Keys() []string
	Initialized() bool
	IsEnabled(key string, actor domain.Actor) bool
	AreEnabled(keys []string, actor domain.Actor) bool
	AnyEnabled(keys []string, actor domain.Actor) bool
	IsMetricVisible(metricType string, actor domain.Actor) bool
	IsFeatureVisible(featureName string, actor domain.Actor) bool
	VisibleMetricTypes(actor domain.Actor) []string
	AddFlag(ctx context.Context, def domain.FlagDefinition) error
	UpdateFlag(ctx context.Context, key string, patch domain.FlagPatch) error
	RefreshAfterLogin(ctx context.Context) error
	ClearLocalOverrides(ctx context.Context) error
	RestoreLocalOverrides(ctx context.Context) int
}

type FeatureFlagHandler struct {
	flags FlagResolver
}

func NewFeatureFlagHandler(flags FlagResolver) *FeatureFlagHandler {
	return &FeatureFlagHandler{flags: flags}
}

func (h *FeatureFlagHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	all := h.flags.AllFlags()
	items := make([]domain.FlagDefinition, 0, len(all))
	for _, key := range h.flags.Keys() {
		if flag, ok := all[key]; ok {
			items = append(items, flag)
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": items})
}

func (h *FeatureFlagHandler) GetFlag(w http.ResponseWriter, r *http.Request) {
	flag, ok := h.flags.Flag(flagKey(r))
	if !ok {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "feature flag not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, flag)
}

func (h *FeatureFlagHandler) EvaluateOne(w http.ResponseWriter, r *http.Request) {
	key := flagKey(r)
	actor := middleware.ActorFromContext(r.Context())
	_, known := h.flags.Flag(key)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"key":     key,
		"enabled": h.flags.IsEnabled(key, actor),
		"known":   known,
	})
}

func (h *FeatureFlagHandler) EvaluateMany(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keys []string `json:"keys"`
		Mode string   `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	actor := middleware.ActorFromContext(r.Context())
	results := make(map[string]bool, len(body.Keys))
	for _, key := range body.Keys {
		results[key] = h.flags.IsEnabled(key, actor)
	}
	var combined bool
	switch strings.ToLower(strings.TrimSpace(body.Mode)) {
	case "", "all":
		combined = h.flags.AreEnabled(body.Keys, actor)
	case "any":
		combined = h.flags.AnyEnabled(body.Keys, actor)
	default:
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "mode must be all or any", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"enabled": combined, "results": results})
}

func (h *FeatureFlagHandler) VisibleMetrics(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())
	response.JSON(w, r, http.StatusOK, map[string]any{"items": h.flags.VisibleMetricTypes(actor)})
}

func (h *FeatureFlagHandler) MetricVisible(w http.ResponseWriter, r *http.Request) {
	metric := chi.URLParam(r, "metric")
	actor := middleware.ActorFromContext(r.Context())
	response.JSON(w, r, http.StatusOK, map[string]any{"metric": metric, "visible": h.flags.IsMetricVisible(metric, actor)})
}

func (h *FeatureFlagHandler) FeatureVisible(w http.ResponseWriter, r *http.Request) {
	feature := chi.URLParam(r, "feature")
	actor := middleware.ActorFromContext(r.Context())
	response.JSON(w, r, http.StatusOK, map[string]any{"feature": feature, "visible": h.flags.IsFeatureVisible(feature, actor)})
}

func (h *FeatureFlagHandler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	var def domain.FlagDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	def.BackendID = ""
	if err := h.flags.AddFlag(r.Context(), def); err != nil {
		switch {
		case errors.Is(err, service.ErrFeatureFlagExists):
			response.Error(w, r, http.StatusConflict, "CONFLICT", "feature flag already exists", nil)
		case errors.Is(err, service.ErrInvalidFeatureFlag):
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to create feature flag", nil)
		}
		return
	}
	created, _ := h.flags.Flag(strings.TrimSpace(def.Key))
	auditAdmin(r, "feature_flag.create", created.Key)
	response.JSON(w, r, http.StatusCreated, created)
}

func (h *FeatureFlagHandler) UpdateFlag(w http.ResponseWriter, r *http.Request) {
	key := flagKey(r)
	var patch domain.FlagPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	err := h.flags.UpdateFlag(r.Context(), key, patch)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrFeatureFlagNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "feature flag not found", nil)
		return
	case errors.Is(err, service.ErrInvalidFeatureFlag):
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	default:
		current, _ := h.flags.Flag(key)
		slog.WarnContext(r.Context(), "feature flag update failed to sync", "key", key, "error", err)
		response.Error(w, r, http.StatusBadGateway, "BAD_GATEWAY", err.Error(), map[string]any{"flag": current})
		return
	}
	updated, _ := h.flags.Flag(key)
	auditAdmin(r, "feature_flag.update", key)
	response.JSON(w, r, http.StatusOK, updated)
}

func (h *FeatureFlagHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.flags.RefreshAfterLogin(r.Context()); err != nil {
		response.Error(w, r, http.StatusBadGateway, "BAD_GATEWAY", "feature backend refresh failed", nil)
		return
	}
	auditAdmin(r, "feature_flag.refresh", "")
	response.JSON(w, r, http.StatusOK, map[string]any{"refreshed": true, "count": len(h.flags.Keys())})
}

func (h *FeatureFlagHandler) ClearLocalOverrides(w http.ResponseWriter, r *http.Request) {
	if err := h.flags.ClearLocalOverrides(r.Context()); err != nil {
		response.Error(w, r, http.StatusBadGateway, "BAD_GATEWAY", "overrides cleared but backend refresh failed", nil)
		return
	}
	auditAdmin(r, "feature_flag.overrides.clear", "")
	response.JSON(w, r, http.StatusOK, map[string]any{"cleared": true})
}

func (h *FeatureFlagHandler) RestoreLocalOverrides(w http.ResponseWriter, r *http.Request) {
	restored := h.flags.RestoreLocalOverrides(r.Context())
	auditAdmin(r, "feature_flag.overrides.restore", "")
	response.JSON(w, r, http.StatusOK, map[string]any{"restored": restored})
}

func (h *FeatureFlagHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]any{
		"status":      "ok",
		"initialized": h.flags.Initialized(),
		"flags":       len(h.flags.Keys()),
	})
}

// flagKey keeps the key exactly as sent; backend keys are stored with their original casing.
func flagKey(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "key"))
}

func auditAdmin(r *http.Request, event, key string) {
	actor := middleware.ActorFromContext(r.Context())
	slog.InfoContext(r.Context(), "admin action",
		"event", event,
		"actor_user_id", actor.UserID,
		"key", key,
	)
}
