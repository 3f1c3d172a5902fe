package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/labflags/internal/app"
	"github.com/sandeepkv93/labflags/internal/di"
	"github.com/sandeepkv93/labflags/internal/security"
)

const testJWTSecret = "abcdefghijklmnopqrstuvwxyz123456"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type fakeBackend struct {
	server     *httptest.Server
	patches    atomic.Int32
	usageSyncs atomic.Int32
	failPatch  atomic.Bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/features":
			_, _ = io.WriteString(w, `{"data":[{"id":11,"key":"courses","enabled":false},{"id":12,"key":"terminals","enabled":true}]}`)
		case r.Method == http.MethodPatch:
			fb.patches.Add(1)
			if fb.failPatch.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/usage/sync-limits":
			fb.usageSyncs.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

type stack struct {
	app    *app.App
	server *httptest.Server
	jwt    *security.JWTManager
}

// setBaseEnv points the service at backendURL with a sqlite-backed override store under dir.
func setBaseEnv(t *testing.T, backendURL, dir string) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("BACKEND_BASE_URL", backendURL)
	t.Setenv("JWT_SECRET", testJWTSecret)
	t.Setenv("JWT_ISSUER", "labflags")
	t.Setenv("OVERRIDE_STORE_DRIVER", "database")
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "labflags.db"))
	t.Setenv("OTEL_TRACING_ENABLED", "false")
	t.Setenv("OTEL_METRICS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "")
}

func startStack(t *testing.T) *stack {
	t.Helper()
	a, cleanup, err := di.InitializeApp()
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	t.Cleanup(cleanup)
	a.Resolver.WaitForInitialization(context.Background())

	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(srv.Close)
	return &stack{
		app:    a,
		server: srv,
		jwt:    security.NewJWTManager("labflags", testJWTSecret),
	}
}

func (s *stack) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := s.jwt.SignAccessToken(userID, role, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (s *stack) doRaw(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func (s *stack) doJSON(t *testing.T, method, path, token string, body any) (*http.Response, envelope) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	resp, raw := s.doRaw(t, method, path, payload, headers)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope for %s %s: %v body=%q", method, path, err, raw)
	}
	return resp, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v body=%s", err, env.Data)
	}
	return out
}
