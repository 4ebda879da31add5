/*
Package limiter provides token-bucket rate limiting keyed by client IP address.

Limiters for idle addresses are dropped by a background sweep so the map does
not grow without bound.
*/
package limiter

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notesync/internal/pkg/errs"
	"notesync/internal/pkg/logx"
	"notesync/internal/pkg/resp"
)

const sweepInterval = 3 * time.Minute

// IPRateLimiter keeps one rate.Limiter per client IP.
type IPRateLimiter struct {
	// mu protects limits.
	mu sync.RWMutex

	// limits maps client IP to its limiter.
	limits map[string]*rate.Limiter

	// r is the number of events allowed per second.
	r rate.Limit

	// b is the token bucket size.
	b int
}

// NewIPRateLimiter creates a limiter allowing r events per second with burst b.
// The sweep goroutine stops when ctx is done.
func NewIPRateLimiter(ctx context.Context, r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
	}

	go i.sweep(ctx)

	return i
}

// GetLimiter returns the limiter for ip, creating it on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.RLock()
	limiter, exists := i.limits[ip]
	i.mu.RUnlock()

	if exists {
		return limiter
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, exists = i.limits[ip]
	if !exists {
		limiter = rate.NewLimiter(i.r, i.b)
		i.limits[ip] = limiter
	}

	return limiter
}

// Allow reports whether one more event from ip fits in its bucket.
func (i *IPRateLimiter) Allow(ip string) bool {
	return i.GetLimiter(ip).Allow()
}

// sweep drops limiters whose bucket has refilled, i.e. addresses that went idle.
func (i *IPRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			i.mu.Lock()
			removed := 0
			for ip, limiter := range i.limits {
				if limiter.TokensAt(now) >= float64(limiter.Burst()) {
					delete(i.limits, ip)
					removed++
				}
			}
			remaining := len(i.limits)
			i.mu.Unlock()

			logx.Debug("Rate limiter sweep finished", "removed", removed, "remaining", remaining)
		}
	}
}

// ClientIP extracts the host part of r.RemoteAddr. chi's RealIP middleware has
// already rewritten RemoteAddr when a proxy header is present.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if ip == "" {
		ip = "unknown_ip"
	}

	return ip
}

// Middleware rejects requests over the limit with ErrRateLimitExceeded.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		if !i.Allow(ip) {
			logx.Warn("Request rejected: rate limit exceeded.", "ip", ip, "path", r.URL.Path)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
