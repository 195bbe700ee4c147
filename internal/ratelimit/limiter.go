// Package ratelimit throttles public form submissions with a fixed window
// counter per client IP and path.
package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/example/lead-notifier/internal/common"
)

const TooManyRequestsMessage = "Te veel verzoeken. Probeer het later opnieuw."

var rejectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "form_rate_limited_total",
	Help: "Form submissions rejected by the rate limiter",
}, []string{"path"})

// Store counts hits inside a window. Hit increments the counter for key,
// starting a new window of length window when none is active, and returns
// the count including this hit and the moment the window resets.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

type Limiter struct {
	store  Store
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func New(store Store, window time.Duration, logger zerolog.Logger) *Limiter {
	return &Limiter{store: store, window: window, logger: logger, now: time.Now}
}

// Middleware allows limit POST requests per client and path within the
// window. Other methods pass through. Store failures fail open.
func (l *Limiter) Middleware(limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := clientIP(r) + ":" + r.URL.Path
			count, resetAt, err := l.store.Hit(r.Context(), key, l.window)
			if err != nil {
				logger := common.WithContext(r.Context(), l.logger)
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("rate limit store failed")
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				rejectedCounter.WithLabelValues(r.URL.Path).Inc()
				l.reject(w, resetAt)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) reject(w http.ResponseWriter, resetAt time.Time) {
	retryAfter := int(math.Ceil(resetAt.Sub(l.now()).Seconds()))
	if retryAfter < 0 {
		retryAfter = 0
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"status":  http.StatusTooManyRequests,
			"name":    "TooManyRequests",
			"message": TooManyRequestsMessage,
			"details": map[string]any{"retryAfter": retryAfter},
		},
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const sweepInterval = time.Minute

// MemoryStore keeps counters in process. Suitable for a single instance.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*window
	now       func() time.Time
	nextSweep time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]*window{}, now: time.Now}
}

func (s *MemoryStore) Hit(_ context.Context, key string, length time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.entries[key]
	if !now.Before(s.nextSweep) {
		s.sweep(now)
		s.nextSweep = now.Add(sweepInterval)
	}
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		s.entries[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// sweep drops expired windows; callers hold mu. Hit calls it at most once
// per sweepInterval.
func (s *MemoryStore) sweep(now time.Time) {
	for k, w := range s.entries {
		if now.After(w.resetAt) {
			delete(s.entries, k)
		}
	}
}
