// Package ratelimit caps request rates per client with fixed windows kept in Redis.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "ratelimit:"

// Limiter allows Max hits per key in each Window.
type Limiter struct {
	client *redis.Client
	name   string
	max    int
	window time.Duration
}

// New returns a limiter whose counters live under name. A nil client or a
// non-positive max gives a limiter that allows everything.
func New(client *redis.Client, name string, max int, window time.Duration) *Limiter {
	return &Limiter{client: client, name: name, max: max, window: window}
}

// Result describes one hit against the limiter.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func (l *Limiter) enabled() bool {
	return l != nil && l.client != nil && l.max > 0 && l.window > 0
}

// Allow counts a hit for key in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if !l.enabled() {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	redisKey := keyPrefix + l.name + ":" + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to count request: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return Result{}, fmt.Errorf("failed to start window: %w", err)
		}
	}

	if count <= int64(l.max) {
		return Result{Allowed: true, Remaining: l.max - int(count)}, nil
	}

	ttl, err := l.client.TTL(ctx, redisKey).Result()
	if err != nil {
		ttl = l.window
	} else if ttl < 0 {
		// the window was never armed, e.g. EXPIRE failed on the first hit
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			log.Printf("failed to re-arm rate limit window for %s: %v", redisKey, err)
		}
		ttl = l.window
	}
	return Result{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
}

// Middleware rejects requests over the limit with 429. Requests are keyed by
// client IP. When Redis fails the request is let through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		res, err := l.Allow(r.Context(), clientIP(r))
		if err != nil {
			log.Printf("rate limiter unavailable: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Round(time.Second).Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": http.StatusTooManyRequests,
				"kind":   "rate_limited",
				"error":  "too many requests, try again later",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
