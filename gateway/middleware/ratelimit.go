package middleware

import (
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"optionsvault/observability"
)

type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per route group and client. Clients are
// identified by their authenticated caller, falling back to the remote IP.
type RateLimiter struct {
	limits   map[string]RateLimit
	mu       sync.Mutex
	visitors map[string]*rateEntry
	idleTTL  time.Duration
	clockNow func() time.Time
}

func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{
		limits:   limits,
		visitors: make(map[string]*rateEntry),
		idleTTL:  5 * time.Minute,
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			if !r.allow(key+"|"+clientID(req), limit) {
				observability.ModuleMetrics().RecordThrottle(key, "rate_limit")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) allow(id string, cfg RateLimit) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	r.sweep(now)
	entry, ok := r.visitors[id]
	if !ok {
		perSecond := cfg.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops visitors idle for longer than idleTTL. Caller holds mu.
func (r *RateLimiter) sweep(now time.Time) {
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return hex.EncodeToString(caller[:])
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
