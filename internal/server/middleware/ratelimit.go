package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/server/response"
)

// RateLimiter implements fixed-window rate limiting per client IP.
// Visitors are kept in an expiring cache so idle IPs are forgotten.
type RateLimiter struct {
	visitors *gocache.Cache
	limit    int
	window   time.Duration
	clock    clock.Clock
	logger   *zerolog.Logger
	mu       sync.Mutex
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithWindow sets the window length. The default is one minute.
func WithWindow(d time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.window = d
		}
	}
}

// WithRateClock sets the clock used for windows.
func WithRateClock(c clock.Clock) RateLimiterOption {
	return func(rl *RateLimiter) {
		if c != nil {
			rl.clock = c
		}
	}
}

// NewRateLimiter creates a rate limiter allowing limit requests per
// window per IP. cleanupInterval controls how often idle visitors are
// purged; zero disables the background purge.
func NewRateLimiter(limit int, cleanupInterval time.Duration, logger *zerolog.Logger, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limit:  limit,
		window: time.Minute,
		clock:  clock.Real(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(rl)
	}
	rl.visitors = gocache.New(10*rl.window, cleanupInterval)
	return rl
}

// Allow reports whether a request from ip fits in the current window and
// how many requests remain.
func (rl *RateLimiter) Allow(ip string) (bool, int) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	var v *visitor
	if cached, ok := rl.visitors.Get(ip); ok {
		v = cached.(*visitor)
	} else {
		v = &visitor{tokens: rl.limit, lastReset: now}
		rl.visitors.SetDefault(ip, v)
	}

	if now.Sub(v.lastReset) >= rl.window {
		v.tokens = rl.limit
		v.lastReset = now
	}
	if v.tokens > 0 {
		v.tokens--
		return true, v.tokens
	}
	return false, 0
}

// Visitors returns the number of tracked IPs.
func (rl *RateLimiter) Visitors() int {
	return rl.visitors.ItemCount()
}

// ClientIP returns the first X-Forwarded-For hop, or the remote host.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimit middleware limits requests per IP address.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			ok, remaining := rl.Allow(ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				rl.logger.Warn().
					Str("ip", ip).
					Str("path", r.URL.Path).
					Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				response.RateLimited(w, "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
