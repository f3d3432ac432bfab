package shield

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Rule limits one endpoint to Requests per Window for each client.
type Rule struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window limiter keyed by client IP and endpoint
// ("METHOD /path"). Endpoints without a rule are not limited.
type RateLimiter struct {
	rules  map[string]Rule
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter creates a limiter over rules.
func NewRateLimiter(rules map[string]Rule, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rules:   rules,
		logger:  logger,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// StartGC drops expired buckets every interval until done is closed.
func (rl *RateLimiter) StartGC(interval time.Duration, done <-chan struct{}) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, k)
		}
	}
}

// allow reports whether the request may proceed and, when it may not, how
// long until the window resets.
func (rl *RateLimiter) allow(ip, endpoint string) (bool, time.Duration) {
	rule, ok := rl.rules[endpoint]
	if !ok || rule.Requests <= 0 || rule.Window <= 0 {
		return true, 0
	}

	key := ip + " " + endpoint
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(rule.Window)}
		return true, 0
	}
	b.count++
	if b.count <= rule.Requests {
		return true, 0
	}
	return false, b.resetAt.Sub(now)
}

// Middleware answers 429 with a JSON error once a client exceeds its rule.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		ip := ClientIP(r)

		ok, wait := rl.allow(ip, endpoint)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		rl.logger.Warn("shield: rate limit exceeded", "ip", ip, "endpoint", endpoint)
		secs := int(wait.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}
