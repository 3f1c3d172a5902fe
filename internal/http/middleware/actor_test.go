package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/security"
)

func newJWTManagerForTest() *security.JWTManager {
	return security.NewJWTManager("labflags", "abcdefghijklmnopqrstuvwxyz123456")
}

func captureActor(got *domain.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestActorMiddleware(t *testing.T) {
	mgr := newJWTManagerForTest()
	token, err := mgr.SignAccessToken("7", "administrator", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantActor  domain.Actor
	}{
		{name: "anonymous", wantStatus: http.StatusOK},
		{name: "valid", header: "Bearer " + token, wantStatus: http.StatusOK, wantActor: domain.Actor{UserID: "7", Role: "administrator"}},
		{name: "invalid", header: "Bearer garbage", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got domain.Actor
			h := Actor(mgr)(captureActor(&got))
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if got != tc.wantActor {
				t.Fatalf("unexpected actor %+v", got)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		actor domain.Actor
		want  int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "student", actor: domain.Actor{UserID: "1", Role: "student"}, want: http.StatusForbidden},
		{name: "admin", actor: domain.Actor{UserID: "1", Role: "administrator"}, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got domain.Actor
			h := RequireRole("administrator")(captureActor(&got))
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			req = req.WithContext(WithActor(req.Context(), tc.actor))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}
