// Package libauth issues and verifies the HMAC-signed tokens used to
// authenticate API callers, and carries the caller identity in context.
package libauth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNotAuthorized           = errors.New("auth: not authorized")
	ErrTokenMissing            = errors.New("auth: token missing")
	ErrTokenExpired            = errors.New("auth: token expired")
	ErrTokenParsingFailed      = errors.New("auth: token parsing failed")
	ErrTokenSigningFailed      = errors.New("auth: token signing failed")
	ErrUnexpectedSigningMethod = errors.New("auth: unexpected signing method")
	ErrInvalidTokenClaims      = errors.New("auth: invalid token claims")
	ErrIssuedAtMissing         = errors.New("auth: issued-at claim missing")
	ErrIssuedAtInFuture        = errors.New("auth: issued-at claim in the future")
	ErrIdentityMissing         = errors.New("auth: identity claim missing")
)

// Identity is the authenticated caller.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Claims is the JWT payload carried by issued tokens.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// CreateToken signs a token for identity valid for ttl.
func CreateToken(secret string, identity Identity, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, errors.Join(ErrTokenSigningFailed, err)
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates tokenString and returns the caller identity.
func VerifyToken(secret, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrTokenMissing
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigningMethod
		}
		return []byte(secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Identity{}, ErrTokenExpired
		case errors.Is(err, ErrUnexpectedSigningMethod):
			return Identity{}, ErrUnexpectedSigningMethod
		default:
			return Identity{}, errors.Join(ErrTokenParsingFailed, err)
		}
	}
	if !token.Valid {
		return Identity{}, ErrInvalidTokenClaims
	}

	if claims.IssuedAt == nil {
		return Identity{}, ErrIssuedAtMissing
	}
	if claims.IssuedAt.After(time.Now().Add(time.Minute)) {
		return Identity{}, ErrIssuedAtInFuture
	}
	if claims.Subject == "" {
		return Identity{}, ErrIdentityMissing
	}

	return Identity{ID: claims.Subject, Role: claims.Role}, nil
}

type contextKey string

const identityContextKey contextKey = "auth-identity"

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the caller identity stored in ctx.
func IdentityFromContext(ctx context.Context) (Identity, error) {
	identity, ok := ctx.Value(identityContextKey).(Identity)
	if !ok || identity.ID == "" {
		return Identity{}, ErrNotAuthorized
	}
	return identity, nil
}
