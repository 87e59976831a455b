package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaidashi/dispatch-board/pkg/logger"
)

func guarded(cfg PINGuardConfig) http.Handler {
	g := NewPINGuard(func(pin string) bool { return pin == "7788" }, cfg, nil, logger.NewNop())
	return g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func request(h http.Handler, pin, remote string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.RemoteAddr = remote
	if pin != "" {
		req.Header.Set(PINHeader, pin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestPINGuard(t *testing.T) {
	h := guarded(PINGuardConfig{MaxFailures: 2})

	assert.Equal(t, http.StatusNoContent, request(h, "7788", "10.0.0.1:5000"))
	assert.Equal(t, http.StatusUnauthorized, request(h, "", "10.0.0.1:5000"))
	assert.Equal(t, http.StatusUnauthorized, request(h, "1234", "10.0.0.1:5001"))

	// the burst is spent; even the right PIN waits
	assert.Equal(t, http.StatusTooManyRequests, request(h, "7788", "10.0.0.1:5002"))

	assert.Equal(t, http.StatusNoContent, request(h, "7788", "10.0.0.2:5000"), "other clients are unaffected")
}

func TestPINFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?pin=7788", nil)
	assert.Equal(t, "7788", PINFromRequest(req))

	req.Header.Set(PINHeader, " 1111 ")
	assert.Equal(t, "1111", PINFromRequest(req))
}

func TestClientIPForwardedFor(t *testing.T) {
	g := NewPINGuard(func(string) bool { return true }, PINGuardConfig{TrustForwardedFor: true}, nil, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", g.clientIP(req))

	g.trustForwardedFor = false
	req.RemoteAddr = "192.0.2.4:1234"
	assert.Equal(t, "192.0.2.4", g.clientIP(req))
}
