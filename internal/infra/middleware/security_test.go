package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func request(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = remote
	return req
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, request("10.0.0.1:1234"))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "no HSTS without TLS")
}

func TestRateLimitBlocksBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{RPS: 0.001, Burst: 2})(okHandler)

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("10.0.0.1:1234"))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	other := httptest.NewRecorder()
	h.ServeHTTP(other, request("10.0.0.2:1234"))
	assert.Equal(t, http.StatusOK, other.Code, "clients are limited separately")
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(context.Background(), RateLimitConfig{})(okHandler)
	for range 50 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("10.0.0.1:1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted []string
		want    string
	}{
		{"direct", "192.0.2.7:5000", nil, nil, "192.0.2.7"},
		{"ipv6", "[::1]:5000", nil, nil, "::1"},
		{"spoofed header ignored", "192.0.2.7:5000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, nil, "192.0.2.7"},
		{"trusted xff", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, []string{"10.0.0.1"}, "1.2.3.4"},
		{"trusted real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": " 5.6.7.8 "}, []string{"10.0.0.1"}, "5.6.7.8"},
		{"trusted no headers", "10.0.0.1:80", nil, []string{"10.0.0.1"}, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(tt.remote)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trusted))
		})
	}
}

func TestRecoverAndChain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	Chain(boom, SecurityHeaders, Recover(logger)).ServeHTTP(rec, request("10.0.0.1:1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"), "outer middleware still ran")
}
