package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_BASE_URL", "http://backend.local/")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 32))
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BackendBaseURL != "http://backend.local" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BackendBaseURL)
	}
	if cfg.FlagCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected cache ttl: %v", cfg.FlagCacheTTL)
	}
	if cfg.EnvOverridePrefix != "FEATURE_" || cfg.OverrideStoreDriver != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AdminRole != "administrator" {
		t.Fatalf("unexpected admin role: %s", cfg.AdminRole)
	}
	if cfg.AdminRateLimitPerMinute != 30 || cfg.RateLimitFailureMode != "fail_open" || cfg.ShutdownTimeout != 15*time.Second {
		t.Fatalf("unexpected rate limit or shutdown defaults: %+v", cfg)
	}
}

func TestLoadRejectsUnknownRateLimitMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_FAILURE_MODE", "maybe")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_FAILURE_MODE") {
		t.Fatalf("expected failure mode error, got %v", err)
	}
}

func TestLoadParseErrors(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FLAG_CACHE_TTL", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "FLAG_CACHE_TTL") {
		t.Fatalf("expected FLAG_CACHE_TTL parse error, got %v", err)
	}

	t.Setenv("FLAG_CACHE_TTL", "1m")
	t.Setenv("BACKEND_TIMEOUT", "x")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "BACKEND_TIMEOUT") {
		t.Fatalf("expected BACKEND_TIMEOUT parse error, got %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		BackendFeaturesPath:    "features",
		BackendUsageSyncPath:   "/usage",
		BackendTimeout:         time.Second,
		EnvOverridePrefix:      "FEATURE_",
		OverrideStoreDriver:    "redis",
		OverrideStoreNamespace: "ns",
		JWTSecret:              "short",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"BACKEND_BASE_URL", "BACKEND_FEATURES_PATH", "REDIS_ADDR", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}

func TestValidateUnknownStoreDriver(t *testing.T) {
	cfg := &Config{
		BackendBaseURL:         "http://x",
		BackendFeaturesPath:    "/f",
		BackendUsageSyncPath:   "/u",
		BackendTimeout:         time.Second,
		EnvOverridePrefix:      "FEATURE_",
		OverrideStoreDriver:    "etcd",
		OverrideStoreNamespace: "ns",
		JWTSecret:              strings.Repeat("k", 32),
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "OVERRIDE_STORE_DRIVER") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected split: %v", got)
	}
}
