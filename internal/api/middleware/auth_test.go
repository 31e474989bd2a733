package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepakdriver/lepakdriver/internal/api/middleware"
	"github.com/lepakdriver/lepakdriver/internal/auth"
)

const testSigningKey = "test-secret-key-for-testing-only"

func captureUser(captured *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = middleware.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_ValidToken(t *testing.T) {
	svc := auth.NewJWTService(auth.JWTConfig{SigningKey: testSigningKey})
	token, _, err := svc.GenerateAccessToken("tg-123456")
	require.NoError(t, err)

	var userID string
	handler := middleware.Auth(svc)(captureUser(&userID))

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		t.Run(prefix, func(t *testing.T) {
			userID = ""
			req := httptest.NewRequest(http.MethodPost, "/v1/chat", http.NoBody)
			req.Header.Set("Authorization", prefix+token)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "tg-123456", userID)
		})
	}
}

func TestAuth_RejectsBadHeaders(t *testing.T) {
	svc := auth.NewJWTService(auth.JWTConfig{SigningKey: testSigningKey})

	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"missing", "", "missing authorization header"},
		{"no bearer prefix", "token123", "invalid authorization header format"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"just bearer", "Bearer", "invalid authorization header format"},
		{"empty bearer", "Bearer   ", "missing bearer token"},
		{"garbage token", "Bearer invalid.jwt.token", "invalid access token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var userID string
			handler := middleware.Auth(svc)(captureUser(&userID))

			req := httptest.NewRequest(http.MethodPost, "/v1/chat", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			assert.Contains(t, rec.Body.String(), tt.detail)
			assert.Empty(t, userID)
		})
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	issued := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	old := auth.NewJWTService(auth.JWTConfig{
		SigningKey: testSigningKey,
		TTL:        time.Hour,
		Now:        func() time.Time { return issued },
	})
	token, _, err := old.GenerateAccessToken("u-1")
	require.NoError(t, err)

	svc := auth.NewJWTService(auth.JWTConfig{
		SigningKey: testSigningKey,
		Now:        func() time.Time { return issued.Add(2 * time.Hour) },
	})

	var userID string
	handler := middleware.Auth(svc)(captureUser(&userID))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "access token has expired")
}

type verifierFunc func(string) (string, error)

func (f verifierFunc) UserID(token string) (string, error) { return f(token) }

func TestAuth_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		detail string
	}{
		{auth.ErrMissingUserID, "access token has no user id"},
		{auth.ErrInvalidAccessToken, "invalid access token"},
		{errors.New("keystore down"), "authentication failed"},
	}

	for _, tt := range tests {
		t.Run(tt.detail, func(t *testing.T) {
			verifier := verifierFunc(func(string) (string, error) { return "", tt.err })
			handler := middleware.Auth(verifier)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/help", http.NoBody)
			req.Header.Set("Authorization", "Bearer x")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.detail)
			assert.NotContains(t, rec.Body.String(), "keystore")
		})
	}
}

func TestGetUserID_NoAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/help", http.NoBody)
	assert.Empty(t, middleware.GetUserID(req.Context()))
}
