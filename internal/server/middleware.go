package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL is how long an unused per-IP limiter is kept.
	limiterIdleTTL = 10 * time.Minute

	// limiterSweepInterval is the minimum time between idle-limiter sweeps.
	limiterSweepInterval = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements a simple token bucket rate limiter per IP address
type RateLimiter struct {
	visitors  map[string]*visitor
	mu        sync.Mutex
	rateLimit rate.Limit // Requests per second
	burstSize int        // Maximum burst size
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
// rateLimit: requests per second
// burstSize: maximum number of requests allowed in a burst
func NewRateLimiter(rateLimit rate.Limit, burstSize int) *RateLimiter {
	return &RateLimiter{
		visitors:  make(map[string]*visitor),
		rateLimit: rateLimit,
		burstSize: burstSize,
		now:       time.Now,
	}
}

// Allow reports whether ip may make another request now. At most once per
// limiterSweepInterval, limiters idle for longer than limiterIdleTTL are
// dropped on the way.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= limiterSweepInterval {
		rl.sweep(now)
	}

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rateLimit, rl.burstSize)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

// sweep drops idle limiters. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > limiterIdleTTL {
			delete(rl.visitors, key)
		}
	}
	rl.lastSweep = now
}

// NewRateLimitMiddleware limits each client IP to perMinute requests with a
// burst of the same size. scope labels log lines and metrics.
func NewRateLimitMiddleware(scope string, perMinute int, logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !limiter.Allow(ip) {
				logger.Warn("rate_limit_exceeded", "scope", scope, "ip", ip, "path", r.URL.Path)
				if metrics != nil {
					metrics.recordRateLimitHit(scope)
				}
				writeJSON(w, logger, http.StatusTooManyRequests, errorBody("Rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request and counts it by route pattern.
func requestLogger(logger *slog.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"request_id", middleware.GetReqID(r.Context()),
					"duration_ms", time.Since(start).Milliseconds())

				if metrics != nil {
					route := ""
					if rctx := chi.RouteContext(r.Context()); rctx != nil {
						route = rctx.RoutePattern()
					}
					metrics.recordRequest(r.Method, route, ww.Status())
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// clientIP strips the port that RemoteAddr carries unless RealIP rewrote it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
