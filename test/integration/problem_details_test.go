package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestProblemDetailsContentNegotiation_DefaultEnvelope(t *testing.T) {
	backend := newFakeBackend(t)
	setBaseEnv(t, backend.server.URL, t.TempDir())
	s := startStack(t)

	resp, env := s.doJSON(t, http.MethodPost, "/api/v1/admin/feature-flags/refresh", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content type, got %q", got)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected envelope UNAUTHORIZED, got %#v", env.Error)
	}
}

func TestProblemDetailsContentNegotiation_ProblemJSON(t *testing.T) {
	backend := newFakeBackend(t)
	setBaseEnv(t, backend.server.URL, t.TempDir())
	s := startStack(t)

	resp, body := s.doRaw(t, http.MethodPost, "/api/v1/admin/feature-flags/refresh", nil, map[string]string{
		"Accept": "application/problem+json",
	})
	assertProblemDetails(t, resp, string(body), http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", "/api/v1/admin/feature-flags/refresh")
}

func TestProblemDetailsConsistencyFor400401403404502(t *testing.T) {
	backend := newFakeBackend(t)
	setBaseEnv(t, backend.server.URL, t.TempDir())
	s := startStack(t)
	admin := s.token(t, "admin-1", "administrator")
	viewer := s.token(t, "viewer-1", "viewer")
	problem := func(token string) map[string]string {
		h := map[string]string{"Accept": "application/problem+json", "Content-Type": "application/json"}
		if token != "" {
			h["Authorization"] = "Bearer " + token
		}
		return h
	}

	// 400
	resp, body := s.doRaw(t, http.MethodPatch, "/api/v1/admin/feature-flags/course_conception", []byte("oops"), problem(admin))
	assertProblemDetails(t, resp, string(body), http.StatusBadRequest, "BAD_REQUEST", "Bad Request", "/api/v1/admin/feature-flags/course_conception")

	// 401 malformed token on a public route
	resp, body = s.doRaw(t, http.MethodGet, "/api/v1/feature-flags", nil, problem("not-a-jwt"))
	assertProblemDetails(t, resp, string(body), http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", "/api/v1/feature-flags")

	// 403 non-admin role
	resp, body = s.doRaw(t, http.MethodPost, "/api/v1/admin/feature-flags/refresh", nil, problem(viewer))
	assertProblemDetails(t, resp, string(body), http.StatusForbidden, "FORBIDDEN", "Forbidden", "/api/v1/admin/feature-flags/refresh")

	// 404
	resp, body = s.doRaw(t, http.MethodGet, "/api/v1/feature-flags/does_not_exist", nil, problem(""))
	assertProblemDetails(t, resp, string(body), http.StatusNotFound, "NOT_FOUND", "Not Found", "/api/v1/feature-flags/does_not_exist")

	// 502 backend rejects the sync
	backend.failPatch.Store(true)
	resp, body = s.doRaw(t, http.MethodPatch, "/api/v1/admin/feature-flags/course_conception", []byte(`{"enabled":true}`), problem(admin))
	assertProblemDetails(t, resp, string(body), http.StatusBadGateway, "BAD_GATEWAY", "Backend Sync Failed", "/api/v1/admin/feature-flags/course_conception")
}

func assertProblemDetails(t *testing.T, resp *http.Response, raw string, wantStatus int, wantCode, wantTitle, wantInstance string) {
	t.Helper()
	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d, got %d body=%q", wantStatus, resp.StatusCode, raw)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/problem+json" {
		t.Fatalf("expected application/problem+json, got %q body=%q", got, raw)
	}
	var p struct {
		Type      string `json:"type"`
		Title     string `json:"title"`
		Status    int    `json:"status"`
		Detail    string `json:"detail"`
		Instance  string `json:"instance"`
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode problem details: %v body=%q", err, raw)
	}
	if p.Status != wantStatus || p.Code != wantCode || p.Title != wantTitle || p.Instance != wantInstance {
		t.Fatalf("unexpected problem details: %+v", p)
	}
	if !strings.HasPrefix(p.Type, "urn:problem:labflags:") {
		t.Fatalf("unexpected problem type %q", p.Type)
	}
	if p.RequestID == "" {
		t.Fatal("expected request id in problem details")
	}
}
