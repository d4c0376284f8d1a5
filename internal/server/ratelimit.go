package server

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// DefaultLimiterIdleTTL is how long an idle client keeps its bucket.
const DefaultLimiterIdleTTL = 10 * time.Minute

// RateLimiter implements a token bucket rate limiter per client IP.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*clientLimiter
	limit      rate.Limit
	burst      int
	retryAfter int
	trustProxy bool
	idleTTL    time.Duration
	clock      clockwork.Clock
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithLimiterClock sets the clock used for refills and idle pruning.
func WithLimiterClock(c clockwork.Clock) RateLimiterOption {
	return func(rl *RateLimiter) { rl.clock = c }
}

// WithTrustProxy makes the limiter key on X-Forwarded-For / X-Real-IP.
// Only enable it behind a proxy that sets those headers.
func WithTrustProxy(trust bool) RateLimiterOption {
	return func(rl *RateLimiter) { rl.trustProxy = trust }
}

// NewRateLimiter allows perMinute requests per client with bursts of burst.
// It returns nil, which disables limiting, when perMinute is not positive.
func NewRateLimiter(perMinute, burst int, opts ...RateLimiterOption) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters:   make(map[string]*clientLimiter),
		limit:      rate.Limit(float64(perMinute) / 60),
		burst:      burst,
		retryAfter: int(math.Ceil(60 / float64(perMinute))),
		idleTTL:    DefaultLimiterIdleTTL,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether a request from ip may proceed now.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	cl, ok := rl.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// Run prunes idle clients until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := rl.clock.NewTicker(rl.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			rl.prune(rl.clock.Now())
		}
	}
}

func (rl *RateLimiter) prune(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.idleTTL {
			delete(rl.limiters, ip)
		}
	}
}

func (rl *RateLimiter) clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware rejects requests over the limit with 429. A nil limiter passes
// every request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustProxy)
		if !rl.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter))
			writeDetail(w, http.StatusTooManyRequests,
				fmt.Sprintf("Rate limit exceeded for %s. Please try again later.", ip))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client address, honouring proxy headers only when
// trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
