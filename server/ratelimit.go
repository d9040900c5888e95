package server

import (
	"container/list"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	key     string
	limiter *rate.Limiter
}

// IPRateLimiter applies a token bucket per remote address. Least recently
// seen addresses are evicted once maxEntries is reached.
type IPRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element
	lru        *list.List
	rate       rate.Limit
	burst      int
	maxEntries int
	trustProxy bool
	logger     *slog.Logger
}

// NewIPRateLimiter constructs a limiter. A non-positive rps disables limiting.
func NewIPRateLimiter(rps float64, burst, maxEntries int, trustProxy bool, logger *slog.Logger) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &IPRateLimiter{
		limiters:   make(map[string]*list.Element),
		lru:        list.New(),
		rate:       rate.Limit(rps),
		burst:      burst,
		maxEntries: maxEntries,
		trustProxy: trustProxy,
		logger:     logger,
	}
}

// Allow reports whether one more request from key is permitted.
func (l *IPRateLimiter) Allow(key string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.limiters[key]; ok {
		l.lru.MoveToFront(elem)
		return elem.Value.(*limiterEntry).limiter.Allow()
	}

	if len(l.limiters) >= l.maxEntries {
		if back := l.lru.Back(); back != nil {
			delete(l.limiters, back.Value.(*limiterEntry).key)
			l.lru.Remove(back)
		}
	}
	entry := &limiterEntry{key: key, limiter: rate.NewLimiter(l.rate, l.burst)}
	l.limiters[key] = l.lru.PushFront(entry)
	return entry.limiter.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)
			if !l.Allow(ip) {
				l.logger.Warn("request rate limited", "remote_ip", ip, "path", r.URL.Path)
				metrics.recordRateLimited(r.Context(), "ip")
				w.Header().Set("Retry-After", "1")
				writeJSONStatus(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limit_exceeded",
					"error_description": "too many requests",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *IPRateLimiter) clientIP(r *http.Request) string {
	if l.trustProxy {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
