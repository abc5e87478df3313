package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keranjang-dev/keranjang/internal/common"
)

// Config describes one throttle bucket.
type Config struct {
	// Key extracts the bucket identity from a request, typically the client IP.
	Key    func(r *http.Request) string
	Window time.Duration
	Max    int64
}

// Handler is a chi-compatible middleware enforcing a Config with a Limiter.
// Limiter errors fail open so a redis hiccup never takes the cart API down.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(r *http.Request, err error)
}

// Middleware wraps next with sliding window enforcement.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := h.Config
		if cfg.Key == nil || cfg.Window <= 0 || cfg.Max <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := cfg.Key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		allowed, remaining, retryAfter, err := h.Limiter.Allow(r.Context(), key, cfg.Window, cfg.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(r, err)
			}
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(cfg.Max, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !allowed {
			seconds := int64(retryAfter / time.Second)
			if retryAfter%time.Second != 0 {
				seconds++
			}
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
