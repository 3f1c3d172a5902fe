package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sandeepkv93/labflags/internal/backend"
	"github.com/sandeepkv93/labflags/internal/domain"
)

var (
	ErrFeatureFlagNotFound  = errors.New("feature flag not found")
	ErrFeatureFlagExists    = errors.New("feature flag already exists")
	ErrInvalidFeatureFlag   = errors.New("invalid feature flag")
	ErrBackendNotConfigured = errors.New("feature backend not configured")
)

var featureFlagKeyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,127}$`)

const defaultFlagCacheTTL = 5 * time.Minute

type FeatureFlagResolverOptions struct {
	Client      backend.Client
	Store       OverrideStore
	Logger      *slog.Logger
	Defaults    []domain.FlagDefinition
	Aliases     map[string]string
	MetricTypes []string
	CacheTTL    time.Duration
	EnvPrefix   string
	LookupEnv   func(string) (string, bool)
	Now         func() time.Time
}

// FeatureFlagResolver owns the process-wide flag table. All reads and writes go through mu;
// network calls are made without holding it.
type FeatureFlagResolver struct {
	client      backend.Client
	store       OverrideStore
	logger      *slog.Logger
	aliases     map[string]string
	metricTypes []string
	cacheTTL    time.Duration
	envPrefix   string
	lookupEnv   func(string) (string, bool)
	now         func() time.Time

	mu            sync.RWMutex
	flags         map[string]*domain.FlagDefinition
	lastFetch     time.Time
	backendLoaded bool

	fetching    atomic.Bool
	initialized atomic.Bool
	initGroup   singleflight.Group

	events eventHub
}

func NewFeatureFlagResolver(opts FeatureFlagResolverOptions) *FeatureFlagResolver {
	defaults := opts.Defaults
	if defaults == nil {
		defaults = DefaultFeatureFlags()
	}
	aliases := opts.Aliases
	if aliases == nil {
		aliases = DefaultFeatureAliases()
	}
	metricTypes := opts.MetricTypes
	if metricTypes == nil {
		metricTypes = DefaultMetricTypes()
	}
	r := &FeatureFlagResolver{
		client:      opts.Client,
		store:       opts.Store,
		logger:      opts.Logger,
		aliases:     maps.Clone(aliases),
		metricTypes: append([]string(nil), metricTypes...),
		cacheTTL:    opts.CacheTTL,
		envPrefix:   opts.EnvPrefix,
		lookupEnv:   opts.LookupEnv,
		now:         opts.Now,
		flags:       make(map[string]*domain.FlagDefinition, len(defaults)),
	}
	if r.store == nil {
		r.store = NewNoopOverrideStore()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = defaultFlagCacheTTL
	}
	if r.envPrefix == "" {
		r.envPrefix = "FEATURE_"
	}
	if r.lookupEnv == nil {
		r.lookupEnv = os.LookupEnv
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, def := range defaults {
		flag := def.Clone()
		r.flags[flag.Key] = &flag
	}
	return r
}

// WaitForInitialization runs the first fetch-and-merge exactly once. Concurrent callers share the
// in-flight run; later callers return immediately. Failures leave the defaults in place.
func (r *FeatureFlagResolver) WaitForInitialization(ctx context.Context) {
	if r.initialized.Load() {
		return
	}
	initCtx := context.WithoutCancel(ctx)
	_, _, _ = r.initGroup.Do("init", func() (any, error) {
		if r.initialized.Load() {
			return nil, nil
		}
		r.initialize(initCtx)
		r.initialized.Store(true)
		return nil, nil
	})
}

func (r *FeatureFlagResolver) Initialized() bool {
	return r.initialized.Load()
}

func (r *FeatureFlagResolver) initialize(ctx context.Context) {
	err := r.fetch(ctx, false)
	switch {
	case err == nil:
		return
	case errors.Is(err, backend.ErrUnauthenticated):
		r.logger.Info("feature backend requires authentication, keeping default flags")
	case errors.Is(err, ErrBackendNotConfigured):
		r.logger.Info("feature backend not configured, keeping default flags")
	default:
		r.logFetchError("initial feature flag fetch failed, keeping default flags", err)
	}
	if !r.hasBackendData() {
		r.ApplyEnvOverrides()
	}
}

// FetchFromBackend pulls backend features and merges them into the table. It is skipped while the
// last successful fetch is younger than the cache TTL (unless force) and while another fetch is in flight.
// Errors are returned only to forced callers; passive callers get them logged.
func (r *FeatureFlagResolver) FetchFromBackend(ctx context.Context, force bool) error {
	err := r.fetch(ctx, force)
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrUnauthenticated) {
		r.logger.Info("feature backend requires authentication", "force", force)
	} else {
		r.logFetchError("feature flag fetch failed", err)
	}
	if force {
		return err
	}
	return nil
}

func (r *FeatureFlagResolver) RefreshAfterLogin(ctx context.Context) error {
	return r.FetchFromBackend(ctx, true)
}

func (r *FeatureFlagResolver) fetch(ctx context.Context, force bool) error {
	if !force && r.cacheFresh() {
		r.logger.Debug("feature flag cache still fresh, skipping fetch")
		return nil
	}
	if !r.fetching.CompareAndSwap(false, true) {
		r.logger.Debug("feature flag fetch already in flight, skipping")
		return nil
	}
	defer r.fetching.Store(false)

	if r.client == nil {
		return ErrBackendNotConfigured
	}
	features, err := r.client.ListFeatures(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.lastFetch = r.now()
	r.mu.Unlock()

	if len(features) == 0 {
		r.logger.Info("feature backend returned no features, applying environment overrides")
		r.ApplyEnvOverrides()
		return nil
	}
	r.merge(features)
	r.logger.Info("feature flags synced from backend", "features", len(features))
	r.events.publish(FlagEvent{Type: FlagEventRefreshed, At: r.now()})
	return nil
}

func (r *FeatureFlagResolver) cacheFresh() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.lastFetch.IsZero() && r.now().Sub(r.lastFetch) < r.cacheTTL
}

func (r *FeatureFlagResolver) hasBackendData() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backendLoaded
}

// merge applies backend state. Every local flag that receives an update is reset first so that
// several backend features aliased onto one key combine with OR; metadata comes from the first
// contributor and only while the flag has no backend id yet.
func (r *FeatureFlagResolver) merge(features []domain.BackendFeature) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range features {
		if f.Key == "" {
			continue
		}
		if flag, ok := r.flags[r.localKey(f.Key)]; ok {
			flag.Enabled = false
		}
	}

	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		if f.Key == "" {
			r.logger.Warn("ignoring backend feature without key", "id", f.ID)
			continue
		}
		key := r.localKey(f.Key)
		flag, ok := r.flags[key]
		if !ok {
			flag = &domain.FlagDefinition{Key: key, Category: domain.FlagCategoryDevelopment}
			r.flags[key] = flag
		}
		flag.Enabled = flag.Enabled || f.Enabled

		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if flag.BackendID != "" {
			continue
		}
		flag.BackendID = f.ID
		flag.Name = f.Name
		if f.Description != "" {
			flag.Description = f.Description
		}
		if category := domain.FlagCategory(strings.ToLower(f.Module)); category.Valid() {
			flag.Category = category
		}
		flag.CreatedAt = f.CreatedAt
		flag.UpdatedAt = f.UpdatedAt
	}
	r.backendLoaded = true
}

func (r *FeatureFlagResolver) localKey(backendKey string) string {
	if alias, ok := r.aliases[backendKey]; ok {
		return alias
	}
	return backendKey
}

// EnvOverrideName is the environment variable consulted for a flag key, e.g. FEATURE_TERMINAL_MANAGEMENT.
func (r *FeatureFlagResolver) EnvOverrideName(key string) string {
	name := strings.ToUpper(key)
	name = strings.NewReplacer("-", "_", ".", "_").Replace(name)
	return r.envPrefix + name
}

// ApplyEnvOverrides overwrites enabled for every known flag that has an environment override.
func (r *FeatureFlagResolver) ApplyEnvOverrides() int {
	r.mu.Lock()
	applied := 0
	for key, flag := range r.flags {
		raw, ok := r.lookupEnv(r.EnvOverrideName(key))
		if !ok {
			continue
		}
		flag.Enabled = strings.EqualFold(strings.TrimSpace(raw), "true")
		applied++
	}
	r.mu.Unlock()
	if applied > 0 {
		r.logger.Info("applied feature flag environment overrides", "count", applied)
	}
	return applied
}

// UpdateFlag merges patch into the flag, persists the local snapshot and, when the flag is known to the
// backend and enabled changed hands, syncs it remotely. A failed sync restores the previous enabled value.
func (r *FeatureFlagResolver) UpdateFlag(ctx context.Context, key string, patch domain.FlagPatch) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeatureFlag, err)
	}

	r.mu.Lock()
	flag, ok := r.flags[key]
	if !ok {
		r.mu.Unlock()
		r.logger.Error("cannot update unknown feature flag", "key", key)
		return ErrFeatureFlagNotFound
	}
	previous := flag.Enabled
	patch.ApplyTo(flag)
	backendID := flag.BackendID
	controlsMetrics := len(flag.ControlledMetrics) > 0
	updated := flag.Clone()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.events.publish(FlagEvent{Type: FlagEventUpdated, Key: key, Flag: &updated, At: r.now()})

	if backendID == "" || patch.Enabled == nil {
		return nil
	}

	if err := r.syncFlag(ctx, backendID, *patch.Enabled); err != nil {
		var rolledBack domain.FlagDefinition
		r.mu.Lock()
		if f, ok := r.flags[key]; ok {
			f.Enabled = previous
			rolledBack = f.Clone()
		}
		snapshot = r.snapshotLocked()
		r.mu.Unlock()

		r.persist(ctx, snapshot)
		r.events.publish(FlagEvent{Type: FlagEventRolledBack, Key: key, Flag: &rolledBack, At: r.now()})
		r.logger.Warn("feature flag sync failed, rolled back", "key", key, "backend_id", backendID, "error", err)
		return fmt.Errorf("sync feature flag %q: %w", key, err)
	}
	r.events.publish(FlagEvent{Type: FlagEventSynced, Key: key, Flag: &updated, At: r.now()})

	if controlsMetrics && previous != *patch.Enabled {
		if err := r.client.SyncUsageLimits(ctx); err != nil {
			r.logger.Warn("usage limit sync failed", "key", key, "error", err)
			return fmt.Errorf("sync usage limits after %q: %w", key, err)
		}
	}
	return nil
}

func (r *FeatureFlagResolver) syncFlag(ctx context.Context, backendID string, enabled bool) error {
	if r.client == nil {
		return ErrBackendNotConfigured
	}
	return r.client.SetFeatureEnabled(ctx, backendID, enabled)
}

// AddFlag registers a new local-only flag definition.
func (r *FeatureFlagResolver) AddFlag(ctx context.Context, def domain.FlagDefinition) error {
	def.Key = strings.TrimSpace(def.Key)
	if !featureFlagKeyRe.MatchString(def.Key) {
		return fmt.Errorf("%w: invalid key %q", ErrInvalidFeatureFlag, def.Key)
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeatureFlag, err)
	}
	if def.Category == "" {
		def.Category = domain.FlagCategoryDevelopment
	}
	flag := def.Clone()

	r.mu.Lock()
	if _, exists := r.flags[flag.Key]; exists {
		r.mu.Unlock()
		return ErrFeatureFlagExists
	}
	r.flags[flag.Key] = &flag
	added := flag.Clone()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.events.publish(FlagEvent{Type: FlagEventAdded, Key: added.Key, Flag: &added, At: r.now()})
	return nil
}

// ClearLocalOverrides wipes the persisted snapshot and forces a fresh backend fetch.
func (r *FeatureFlagResolver) ClearLocalOverrides(ctx context.Context) error {
	if err := r.store.Clear(ctx); err != nil {
		r.logger.Warn("clear feature flag overrides failed", "error", err)
	}
	r.events.publish(FlagEvent{Type: FlagEventCleared, At: r.now()})
	return r.FetchFromBackend(ctx, true)
}

// RestoreLocalOverrides is the recovery path: it reads the persisted snapshot and applies the enabled
// state of every known flag. Normal startup never reads the store.
func (r *FeatureFlagResolver) RestoreLocalOverrides(ctx context.Context) int {
	snapshot, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("load feature flag overrides failed", "error", err)
		return 0
	}
	r.mu.Lock()
	applied := 0
	for key, state := range snapshot {
		if flag, ok := r.flags[key]; ok {
			flag.Enabled = state.Enabled
			applied++
		}
	}
	r.mu.Unlock()
	if applied > 0 {
		r.events.publish(FlagEvent{Type: FlagEventRefreshed, At: r.now()})
	}
	r.logger.Info("restored feature flag overrides", "count", applied)
	return applied
}

func (r *FeatureFlagResolver) AllFlags() map[string]domain.FlagDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.FlagDefinition, len(r.flags))
	for key, flag := range r.flags {
		out[key] = flag.Clone()
	}
	return out
}

func (r *FeatureFlagResolver) Flag(key string) (domain.FlagDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	flag, ok := r.flags[key]
	if !ok {
		return domain.FlagDefinition{}, false
	}
	return flag.Clone(), true
}

// Keys returns the known flag keys in sorted order.
func (r *FeatureFlagResolver) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.flags))
	for key := range r.flags {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (r *FeatureFlagResolver) snapshotLocked() OverrideSnapshot {
	out := make(OverrideSnapshot, len(r.flags))
	for key, flag := range r.flags {
		out[key] = StoredFlagState{Enabled: flag.Enabled}
	}
	return out
}

func (r *FeatureFlagResolver) persist(ctx context.Context, snapshot OverrideSnapshot) {
	if err := r.store.Save(ctx, snapshot); err != nil {
		r.logger.Warn("persist feature flag overrides failed", "error", err)
	}
}

func (r *FeatureFlagResolver) logFetchError(msg string, err error) {
	attrs := []any{"error", err}
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		attrs = append(attrs, "status", statusErr.Status, "url", statusErr.URL)
	}
	r.logger.Warn(msg, attrs...)
}
