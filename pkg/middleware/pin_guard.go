// Package middleware holds HTTP middleware shared by the API.
package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vaidashi/dispatch-board/pkg/logger"
	"github.com/vaidashi/dispatch-board/pkg/ratelimit"
)

// PINHeader carries the shared PIN on every protected request
const PINHeader = "X-Dispatch-Pin"

// RejectFunc writes the response for a refused request
type RejectFunc func(w http.ResponseWriter, code int, message string)

// PINGuard admits requests carrying the right PIN and throttles clients
// that keep guessing
type PINGuard struct {
	check             func(pin string) bool
	attempts          *ratelimit.KeyedLimiter
	reject            RejectFunc
	logger            logger.Logger
	trustForwardedFor bool
}

// PINGuardConfig configures a PINGuard
type PINGuardConfig struct {
	// MaxFailures is how many wrong PINs a client may send in a burst
	MaxFailures float64
	// Recovery is how long it takes to earn back one attempt
	Recovery          time.Duration
	TrustForwardedFor bool
	// CleanupInterval sweeps idle clients; zero disables the sweeper
	CleanupInterval time.Duration
}

// NewPINGuard creates a guard. check decides whether a PIN is valid.
func NewPINGuard(check func(pin string) bool, cfg PINGuardConfig, reject RejectFunc, logger logger.Logger) *PINGuard {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Recovery <= 0 {
		cfg.Recovery = 30 * time.Second
	}
	if reject == nil {
		reject = func(w http.ResponseWriter, code int, message string) {
			http.Error(w, message, code)
		}
	}

	attempts := ratelimit.NewKeyedLimiter(cfg.MaxFailures, 1/cfg.Recovery.Seconds())
	if cfg.CleanupInterval > 0 {
		attempts.StartCleanup(cfg.CleanupInterval)
	}

	return &PINGuard{
		check:             check,
		attempts:          attempts,
		reject:            reject,
		logger:            logger,
		trustForwardedFor: cfg.TrustForwardedFor,
	}
}

// Middleware returns a middleware function
func (g *PINGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := g.clientIP(r)

		if g.attempts.Exhausted(ip) {
			g.logger.Warn("PIN attempts exhausted", "method", r.Method, "path", r.URL.Path, "ip", ip)
			w.Header().Set("Retry-After", "30")
			g.reject(w, http.StatusTooManyRequests, "too many incorrect PIN attempts, try again later")
			return
		}

		if !g.check(PINFromRequest(r)) {
			g.attempts.Allow(ip)
			g.logger.Warn("Rejected dispatch PIN", "method", r.Method, "path", r.URL.Path, "ip", ip)
			g.reject(w, http.StatusUnauthorized, "enter the dispatch PIN to open the board")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stop stops the cleanup loop
func (g *PINGuard) Stop() {
	g.attempts.Stop()
}

// PINFromRequest reads the PIN header, falling back to the pin query
// parameter for clients that cannot set headers, such as EventSource
func PINFromRequest(r *http.Request) string {
	if pin := r.Header.Get(PINHeader); pin != "" {
		return strings.TrimSpace(pin)
	}
	return strings.TrimSpace(r.URL.Query().Get("pin"))
}

func (g *PINGuard) clientIP(r *http.Request) string {
	if g.trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
