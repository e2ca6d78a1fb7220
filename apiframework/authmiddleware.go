package apiframework

import (
	"net/http"
	"strings"

	"github.com/pairlink/pairlink/libauth"
)

// JWTMiddleware verifies the request's bearer token and stores the caller
// identity in the request context for handlers to read via
// libauth.IdentityFromContext.
func JWTMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			_ = Error(w, r, libauth.ErrTokenMissing, AuthorizeOperation)
			return
		}

		identity, err := libauth.VerifyToken(secret, token)
		if err != nil {
			_ = Error(w, r, err, AuthorizeOperation)
			return
		}

		next.ServeHTTP(w, r.WithContext(libauth.WithIdentity(r.Context(), identity)))
	})
}
