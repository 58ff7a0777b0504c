package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"liquidity/internal/domain"
	"liquidity/internal/platform/logger"
)

func signedToken(t *testing.T, key *rsa.PrivateKey, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": expires.Unix(),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func selfCertifiedToken(t *testing.T, key *rsa.PrivateKey, expires time.Time) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return signedToken(t, key, base64.StdEncoding.EncodeToString(der), expires)
}

func TestVerifySelfCertified(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	t.Run("valid token yields the subject key", func(t *testing.T) {
		got, err := VerifySelfCertified(selfCertifiedToken(t, key, time.Now().Add(time.Hour)))
		require.NoError(t, err)
		require.Equal(t, domain.PublicKey(der), got)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		_, err := VerifySelfCertified(selfCertifiedToken(t, key, time.Now().Add(-time.Hour)))
		require.Error(t, err)
	})

	t.Run("subject key must match the signer", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		otherDER, err := x509.MarshalPKIXPublicKey(&other.PublicKey)
		require.NoError(t, err)
		// Signed with key but claiming other's identity.
		_, err = VerifySelfCertified(signedToken(t, key, base64.StdEncoding.EncodeToString(otherDER), time.Now().Add(time.Hour)))
		require.Error(t, err)
	})

	t.Run("garbage subject is rejected", func(t *testing.T) {
		_, err := VerifySelfCertified(signedToken(t, key, "not-a-key", time.Now().Add(time.Hour)))
		require.Error(t, err)
	})
}

func TestRequireAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	var seenKey domain.PublicKey
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = GetPublicKey(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAuth(logger.New())(next)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/zone/z1", nil)
		r.Header.Set("Authorization", "Bearer "+selfCertifiedToken(t, key, time.Now().Add(time.Hour)))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, domain.PublicKey(der), seenKey)
	})

	t.Run("token query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/zone/z1?token="+selfCertifiedToken(t, key, time.Now().Add(time.Hour)), nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/zone/z1", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/zone/z1", nil)
		r.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdminToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireAdminToken("sekrit", logger.New())(next)

	t.Run("matching token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/admin/zones", nil)
		r.Header.Set("X-Admin-Token", "sekrit")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/admin/zones", nil)
		r.Header.Set("X-Admin-Token", "guess")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unconfigured token disables the routes", func(t *testing.T) {
		disabled := RequireAdminToken("", logger.New())(next)
		r := httptest.NewRequest(http.MethodGet, "/admin/zones", nil)
		r.Header.Set("X-Admin-Token", "")
		w := httptest.NewRecorder()
		disabled.ServeHTTP(w, r)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}
