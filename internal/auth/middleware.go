package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/HyphaGroup/warden/logging"
)

// Middleware enforces Bearer token authentication. Requests without a valid
// secret are rejected before reaching any handler.
func Middleware(store *Store, log logging.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				jsonError(w, "authentication required", http.StatusUnauthorized)
				return
			}

			secret := strings.TrimPrefix(header, "Bearer ")
			token, err := store.Validate(secret)
			if err != nil {
				log.Info("token validation failed", "secret", maskSecret(secret), "error", err)
				jsonError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
		})
	}
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

func maskSecret(secret string) string {
	if len(secret) <= 12 {
		return "***"
	}
	return secret[:8] + "..." + secret[len(secret)-4:]
}
