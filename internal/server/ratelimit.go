package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teemow/eventrelay/internal/logging"
)

// Rate limiter housekeeping defaults.
const (
	DefaultRateLimitCleanup = 5 * time.Minute
	rateLimitIdleTTL        = 10 * time.Minute
)

// RateLimiter limits requests per client IP with a token bucket each.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*visitor
	rate       rate.Limit
	burst      int
	trustProxy bool // whether to trust proxy headers

	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
	logger   *slog.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing perSecond requests per IP
// with bursts of up to burst. Idle entries are dropped every cleanup
// interval; a non-positive cleanup disables that.
func NewRateLimiter(perSecond, burst int, trustProxy bool, cleanup time.Duration, logger *slog.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters:   make(map[string]*visitor),
		rate:       rate.Limit(perSecond),
		burst:      burst,
		trustProxy: trustProxy,
		done:       make(chan struct{}),
		now:        time.Now,
		logger:     logging.WithComponent(logger, "ratelimit"),
	}

	if cleanup > 0 {
		go rl.cleanupLoop(cleanup)
	}

	return rl
}

// Allow checks if a request from the given IP should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.now()

	rl.mu.Lock()
	v, ok := rl.limiters[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked client IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.sweep(rateLimitIdleTTL); n > 0 {
				rl.logger.Debug("removed idle rate limiters", "count", n)
			}
		case <-rl.done:
			return
		}
	}
}

// sweep removes limiters unused for longer than ttl.
func (rl *RateLimiter) sweep(ttl time.Duration) int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, v := range rl.limiters {
		if now.Sub(v.lastSeen) > ttl {
			delete(rl.limiters, ip)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustProxy)

		if !rl.Allow(ip) {
			rl.logger.Warn("rate limit exceeded", logging.RemoteAddr(ip), "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded, try again later", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client IP address from the request.
// X-Forwarded-For and X-Real-IP are only honoured when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	return hostOnly(r.RemoteAddr)
}

// hostOnly strips the port from "IP:port" and "[IPv6]:port".
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
