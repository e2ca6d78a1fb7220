package apiframework

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pairlink/pairlink/libauth"
)

type tokenContextKey string

const bearerTokenKey tokenContextKey = "bearer-token"

// TokenMiddleware extracts the Authorization bearer token and stores it in
// the request context for downstream handlers.
func TokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		header := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			ctx = context.WithValue(ctx, bearerTokenKey, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken returns the token stored by TokenMiddleware, or "".
func BearerToken(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey).(string)
	return token
}

// EnforceToken rejects requests whose bearer token does not match token.
func EnforceToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := BearerToken(r.Context())
		if presented == "" {
			header := r.Header.Get("Authorization")
			presented, _ = strings.CutPrefix(header, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			_ = Error(w, r, libauth.ErrNotAuthorized, AuthorizeOperation)
			return
		}
		next.ServeHTTP(w, r)
	})
}
