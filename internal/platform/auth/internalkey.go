package auth

import (
	"crypto/hmac"
	"fmt"
	"net/http"
	"strings"
)

// APIKeyHeader carries the shared key on worker-facing callbacks.
const APIKeyHeader = "X-Api-Key"

// CheckAPIKey compares the request's X-Api-Key header to the configured key
// in constant time.
func CheckAPIKey(r *http.Request, want string) error {
	if strings.TrimSpace(want) == "" {
		return fmt.Errorf("%w: internal api key not configured", ErrUnauthenticated)
	}
	got := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if got == "" {
		return ErrUnauthenticated
	}
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("%w: bad api key", ErrUnauthenticated)
	}
	return nil
}

// RequireAPIKey wraps a worker-facing handler with X-Api-Key verification.
func RequireAPIKey(want string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := CheckAPIKey(r, want); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
