package relay

import (
	"net/http"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/keystore"
)

// APIKeyHeader carries the gateway API key.
const APIKeyHeader = "X-API-Key"

// AuthMiddleware enforces API-key authentication against keys. Pass nil to
// disable authentication (public access).
func AuthMiddleware(keys keystore.Store) func(http.Handler) http.Handler {
	if keys == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing "+APIKeyHeader+" header")
				return
			}
			if _, err := keys.Lookup(key); err != nil {
				HandleError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyValidationMiddleware rejects requests whose object key fails the
// package key rules before any handler runs. The key is everything after
// the route's wildcard.
func KeyValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := objectKey(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !lighter.IsValidKey(key) {
			WriteError(w, http.StatusBadRequest, "invalid_input", "invalid object key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
