package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lepakdriver/lepakdriver/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", http.NoBody)
	req.RemoteAddr = remoteAddr
	if userID != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitByIP_BlocksOverLimit(t *testing.T) {
	handler := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestLimit: 3,
		WindowLength: time.Minute,
	})(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:12345", "").Code, "request %d", i+1)
	}

	rec := doRequest(handler, "10.0.0.1:12345", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "too-many-requests")
	assert.Contains(t, rec.Body.String(), "/v1/chat")

	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:12345", "").Code)
}

func TestRateLimitByUser_KeysOnUser(t *testing.T) {
	handler := middleware.RateLimitByUser(middleware.RateLimitConfig{
		RequestLimit: 2,
		WindowLength: 30 * time.Second,
	})(okHandler())

	// same user from two addresses shares one budget
	assert.Equal(t, http.StatusOK, doRequest(handler, "192.168.1.1:1", "u-1").Code)
	assert.Equal(t, http.StatusOK, doRequest(handler, "192.168.1.2:1", "u-1").Code)

	rec := doRequest(handler, "192.168.1.3:1", "u-1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// another user on the first address is unaffected
	assert.Equal(t, http.StatusOK, doRequest(handler, "192.168.1.1:1", "u-2").Code)
}

func TestRateLimitByUser_FallsBackToIP(t *testing.T) {
	handler := middleware.RateLimitByUser(middleware.RateLimitConfig{
		RequestLimit: 1,
		WindowLength: time.Minute,
	})(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(handler, "203.0.113.1:1", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "203.0.113.1:1", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(handler, "203.0.113.2:1", "").Code)
}

func TestChatRateLimit(t *testing.T) {
	assert.Equal(t, 12, middleware.ChatRateLimit(12).RequestLimit)
	assert.Equal(t, time.Minute, middleware.ChatRateLimit(12).WindowLength)
	assert.Equal(t, 30, middleware.ChatRateLimit(0).RequestLimit)
	assert.Equal(t, 100, middleware.StandardRateLimit.RequestLimit)
}
