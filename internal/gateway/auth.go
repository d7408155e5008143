package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/basket/lyrebird/internal/config"
)

// AuthMiddleware requires a bearer token when one is configured.
type AuthMiddleware struct {
	token []byte
}

// NewAuthMiddleware creates an auth middleware from config. An empty token
// disables the check.
func NewAuthMiddleware(cfg config.AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{token: []byte(strings.TrimSpace(cfg.Token))}
}

// Enabled reports whether requests must carry the token.
func (am *AuthMiddleware) Enabled() bool { return len(am.token) > 0 }

// Wrap wraps an http.Handler with token checking.
func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if !am.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ExtractAPIKey(r)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing_token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), am.token) != 1 {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid_token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractAPIKey extracts a token from request headers or query params.
// It checks, in order: Authorization: Bearer <key>, X-API-Key header, api_key query param.
func ExtractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	// Browsers cannot set headers on WebSocket upgrades.
	return r.URL.Query().Get("api_key")
}
