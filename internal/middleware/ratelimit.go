package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "concentra/internal/errors"
)

// maxLimiterEntries bounds the limiter map; the oldest entries are
// evicted when the map grows past it.
const maxLimiterEntries = 4096

// limiterEntry tracks one (client, path) budget.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-minute request budget keyed by
// (client identifier, path). Per-process only; a multi-process
// deployment mildly over-counts, which the contract accepts.
type RateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	perMinute int
	handler   *apierrors.Handler
	logger    *slog.Logger
}

// NewRateLimiter creates a limiter with the given per-minute budget.
func NewRateLimiter(perMinute int, handler *apierrors.Handler, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		entries:   make(map[string]*limiterEntry),
		perMinute: perMinute,
		handler:   handler,
		logger:    logger.With(slog.String("component", "rate_limiter")),
	}
}

// Handler implements the middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r) + "|" + r.URL.Path
		if !rl.allow(key) {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("key", key),
				slog.String("method", r.Method),
			)
			rl.handler.Respond(w, r, apierrors.RateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[key]
	if !ok {
		if len(rl.entries) >= maxLimiterEntries {
			rl.evictOldest()
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute),
		}
		rl.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// evictOldest removes the least recently seen quarter of the map.
// Called with rl.mu held.
func (rl *RateLimiter) evictOldest() {
	type aged struct {
		key  string
		seen time.Time
	}
	all := make([]aged, 0, len(rl.entries))
	for key, entry := range rl.entries {
		all = append(all, aged{key: key, seen: entry.lastSeen})
	}
	for i := 0; i < len(all)/4+1; i++ {
		oldest := 0
		for j := range all {
			if all[j].seen.Before(all[oldest].seen) {
				oldest = j
			}
		}
		delete(rl.entries, all[oldest].key)
		all[oldest].seen = time.Now().Add(time.Hour)
	}
}

// clientKey identifies the caller: the API key when present, otherwise
// the remote IP.
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
