package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/labflags/internal/domain"
	"github.com/sandeepkv93/labflags/internal/http/response"
	"github.com/sandeepkv93/labflags/internal/security"
)

type actorCtxKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext returns the zero Actor for anonymous requests.
func ActorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorCtxKey{}).(domain.Actor)
	return actor
}

// Actor resolves the caller from the access token. Requests without a token continue anonymously;
// a present but invalid token is rejected.
func Actor(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.TokenFromRequest(r)
			if raw == "" || jwtMgr == nil {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				slog.DebugContext(r.Context(), "rejecting access token", "error", err)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), claims.Actor())))
		})
	}
}

func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			if !actor.HasUser() {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
				return
			}
			if actor.Role != role {
				slog.WarnContext(r.Context(), "admin route denied", "user_id", actor.UserID, "role", actor.Role)
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
