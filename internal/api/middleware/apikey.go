package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyAuth guards the /api routes with static access tokens.
//
// A request authenticates with either
//   - Authorization: Bearer <token>
//   - X-API-Key: <token>
//
// The root, /health, /version and /metrics stay public. Tokens come from
// LEGION_ACCESS_KEYS; with none configured the middleware lets everything
// through. These tokens protect the control plane itself and are unrelated
// to the model credentials in the key pool.
type APIKeyAuth struct {
	keys [][]byte
}

// NewAPIKeyAuth creates the middleware from the configured tokens.
func NewAPIKeyAuth(tokens []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.keys = append(a.keys, []byte(t))
		}
	}
	return a
}

// Enabled returns whether any token is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.keys) > 0
}

// Middleware returns an http.Handler middleware that enforces token auth.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			respondUnauthorized(w, "Access token required. Set Authorization: Bearer <token> or X-API-Key header.")
			return
		}
		if !a.valid(token) {
			respondUnauthorized(w, "Invalid access token.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) valid(candidate string) bool {
	ok := false
	for _, key := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), key) == 1 {
			ok = true
		}
	}
	return ok
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func isPublicPath(path string) bool {
	switch path {
	case "/", "/health", "/version", "/metrics":
		return true
	}
	return false
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="legion"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
