package service

import (
	"context"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/observability"
)

// IsEnabled evaluates key for actor. Unknown keys are disabled.
func (r *FeatureFlagResolver) IsEnabled(key string, actor domain.Actor) bool {
	r.mu.RLock()
	flag, ok := r.flags[key]
	var result bool
	if ok {
		result = evaluateFlag(flag, actor)
	}
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("unknown feature flag evaluated", "key", key)
	}
	observability.RecordEvaluation(context.Background(), key, result)
	return result
}

func (r *FeatureFlagResolver) AreEnabled(keys []string, actor domain.Actor) bool {
	for _, key := range keys {
		if !r.IsEnabled(key, actor) {
			return false
		}
	}
	return true
}

func (r *FeatureFlagResolver) AnyEnabled(keys []string, actor domain.Actor) bool {
	for _, key := range keys {
		if r.IsEnabled(key, actor) {
			return true
		}
	}
	return false
}

// IsMetricVisible is vetoed by any flag controlling the metric that evaluates false.
func (r *FeatureFlagResolver) IsMetricVisible(metricType string, actor domain.Actor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visibleLocked(metricType, actor, func(f *domain.FlagDefinition) []string { return f.ControlledMetrics })
}

// IsFeatureVisible is vetoed by any flag controlling the feature that evaluates false.
func (r *FeatureFlagResolver) IsFeatureVisible(featureName string, actor domain.Actor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visibleLocked(featureName, actor, func(f *domain.FlagDefinition) []string { return f.ControlledFeatures })
}

// VisibleMetricTypes filters the metric catalogue, extended with every controlled metric, down to the visible ones.
func (r *FeatureFlagResolver) VisibleMetricTypes(actor domain.Actor) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	catalogue := make(map[string]struct{}, len(r.metricTypes))
	for _, m := range r.metricTypes {
		catalogue[m] = struct{}{}
	}
	for _, flag := range r.flags {
		for _, m := range flag.ControlledMetrics {
			catalogue[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(catalogue))
	for m := range catalogue {
		if r.visibleLocked(m, actor, func(f *domain.FlagDefinition) []string { return f.ControlledMetrics }) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func (r *FeatureFlagResolver) visibleLocked(name string, actor domain.Actor, controlled func(*domain.FlagDefinition) []string) bool {
	for _, flag := range r.flags {
		if slices.Contains(controlled(flag), name) && !evaluateFlag(flag, actor) {
			return false
		}
	}
	return true
}

// evaluateFlag applies the gates in order: base enabled, role, user list, rollout.
// The first gate that applies decides; they are never combined.
func evaluateFlag(flag *domain.FlagDefinition, actor domain.Actor) bool {
	if !flag.Enabled {
		return false
	}
	if len(flag.AllowedRoles) > 0 && actor.HasRole() {
		return slices.Contains(flag.AllowedRoles, actor.Role)
	}
	if len(flag.AllowedUsers) > 0 && actor.HasUser() {
		return slices.Contains(flag.AllowedUsers, actor.UserID)
	}
	if flag.RolloutPercentage != nil && actor.HasUser() {
		return rolloutBucket(actor.UserID) < *flag.RolloutPercentage
	}
	return true
}

// rolloutBucket maps a user id onto a stable bucket in [0, 100).
func rolloutBucket(userID string) int {
	return int(xxhash.Sum64String(userID) % 100)
}
