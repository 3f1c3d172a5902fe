package security

import (
	"net/http"
	"strings"
)

const AccessTokenCookie = "access_token"

func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// TokenFromRequest reads the access token from the cookie first, then from a bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if raw := GetCookie(r, AccessTokenCookie); raw != "" {
		return raw
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) >= len("bearer ")+1 && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}
