// Package middleware holds the HTTP middleware for the zone gateway.
//
// Authentication is self-certifying: the bearer token is an RS256 JWT whose
// subject is the base64 DER encoding of the signer's own public key. Proving
// possession of the key is the whole identity model; there is no user store.
package middleware

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"liquidity/internal/domain"
)

type contextKeyPublicKey struct{}
type contextKeyRemoteAddress struct{}

// GetPublicKey retrieves the authenticated public key from the context.
func GetPublicKey(ctx context.Context) domain.PublicKey {
	key, ok := ctx.Value(contextKeyPublicKey{}).(domain.PublicKey)
	if !ok {
		return nil
	}
	return key
}

// GetRemoteAddress retrieves the caller's network address from the context.
func GetRemoteAddress(ctx context.Context) string {
	addr, ok := ctx.Value(contextKeyRemoteAddress{}).(string)
	if !ok {
		return ""
	}
	return addr
}

// VerifySelfCertified validates a self-certifying JWT and returns the DER
// public key it was signed with. The nbf and exp claims are enforced when
// present.
func VerifySelfCertified(tokenString string) (domain.PublicKey, error) {
	var der []byte
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		subject, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		der, err = base64.StdEncoding.DecodeString(subject)
		if err != nil {
			return nil, jwt.ErrTokenInvalidSubject
		}
		parsed, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, jwt.ErrTokenInvalidSubject
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, jwt.ErrTokenInvalidSubject
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return domain.PublicKey(der), nil
}

// RequireAuth authenticates the request and stores the proven public key and
// remote address in the context. Websocket upgrades cannot carry headers from
// browsers, so a token query parameter is accepted as a fallback.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ""
			const bearerPrefix = "Bearer "
			if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix); ok {
				tokenString = after
			} else {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				logger.WarnContext(r.Context(), "unauthorized access - missing token")
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			key, err := VerifySelfCertified(tokenString)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token", "error", err)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, contextKeyPublicKey{}, key)
			ctx = context.WithValue(ctx, contextKeyRemoteAddress{}, r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
