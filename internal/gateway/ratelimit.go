package gateway

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/basket/lyrebird/internal/config"
	"github.com/basket/lyrebird/internal/otel"
)

const (
	defaultRequestsPerMinute = 60
	defaultBurst             = 10
)

// bucket is a token bucket refilled continuously at rate tokens per second.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	refilled time.Time
	seen     time.Time
}

func newBucket(perMinute, burst int, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(burst),
		capacity: float64(burst),
		rate:     float64(perMinute) / 60,
		refilled: now,
		seen:     now,
	}
}

// take consumes one token. When none is left it reports how long until one
// will be.
func (b *bucket) take(now time.Time) (ok bool, remaining int, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.refilled).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.refilled = now
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	deficit := 1 - b.tokens
	return false, 0, time.Duration(deficit / b.rate * float64(time.Second))
}

func (b *bucket) lastSeen() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seen
}

// RateLimitMiddleware enforces per-client token buckets. Clients are keyed by
// API token when one is sent, else by remote host.
type RateLimitMiddleware struct {
	enabled   bool
	perMinute int
	burst     int
	metrics   *otel.Metrics
	now       func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// NewRateLimitMiddleware builds the limiter from config. Zero limits take the
// defaults; metrics may be nil.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, metrics *otel.Metrics) *RateLimitMiddleware {
	rl := &RateLimitMiddleware{
		enabled:   cfg.Enabled,
		perMinute: cfg.RequestsPerMinute,
		burst:     cfg.BurstSize,
		metrics:   metrics,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
	if rl.perMinute <= 0 {
		rl.perMinute = defaultRequestsPerMinute
	}
	if rl.burst <= 0 {
		rl.burst = defaultBurst
	}
	return rl
}

// RunEviction drops buckets idle for longer than maxAge every interval until
// ctx is done.
func (rl *RateLimitMiddleware) RunEviction(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.EvictStale(maxAge)
		}
	}
}

func (rl *RateLimitMiddleware) EvictStale(maxAge time.Duration) {
	cutoff := rl.now().Add(-maxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for key, b := range rl.buckets {
		if !b.lastSeen().After(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("rate limiter eviction", "evicted", evicted, "remaining", len(rl.buckets))
	}
}

func (rl *RateLimitMiddleware) BucketCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// Wrap limits every route except /healthz.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	if !rl.enabled {
		return next
	}
	limit := strconv.Itoa(rl.perMinute)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		ok, remaining, wait := rl.bucketFor(clientKey(r)).take(rl.now())
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			rl.metrics.RateLimited(r.Context())
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey buckets by token when present, else by remote host so separate
// connections from one client share a bucket.
func clientKey(r *http.Request) string {
	if key := ExtractAPIKey(r); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (rl *RateLimitMiddleware) bucketFor(key string) *bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[key]; ok {
		return b
	}
	b = newBucket(rl.perMinute, rl.burst, rl.now())
	rl.buckets[key] = b
	return b
}
