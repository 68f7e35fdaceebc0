package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/petavatar/petavatar/internal/secrets"
)

const apiKeyHeader = "x-api-key"

// APIKeyAuth rejects requests whose x-api-key header does not match the
// configured secret. When keyHash is set the header is verified against the
// bcrypt hash; otherwise it is compared constant-time against the key from
// the provider. Rejection happens before any store access.
func APIKeyAuth(provider secrets.Provider, keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(apiKeyHeader)
			if presented == "" {
				writeError(w, http.StatusUnauthorized, errTypeAuthentication, "missing API key")
				return
			}

			if keyHash != "" {
				if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(presented)) != nil {
					writeError(w, http.StatusUnauthorized, errTypeAuthentication, "invalid API key")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			expected, err := provider.APIKey(r.Context())
			if err != nil {
				slog.Error("failed to resolve API key secret", "error", err)
				writeError(w, http.StatusInternalServerError, errTypeInternal, "internal error")
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, errTypeAuthentication, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
