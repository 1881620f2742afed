package api

import (
	"log"
	"net/http"
	"sync"
	"time"
)

// RateLimiter provides simple in-memory rate limiting
type RateLimiter struct {
	requests   map[string][]time.Time
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	stopChan   chan struct{}
}

// NewRateLimiter creates a rate limiter with specified limit per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithMax(limit, window, 10000) // Default 10k max entries
}

// NewRateLimiterWithMax creates a rate limiter with configurable max entries
func NewRateLimiterWithMax(limit int, window time.Duration, maxEntries int) *RateLimiter {
	rl := &RateLimiter{
		requests:   make(map[string][]time.Time),
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		stopChan:   make(chan struct{}),
	}
	// Cleanup old entries periodically
	go rl.cleanup()
	return rl
}

// Stop stops the cleanup goroutine. Should be called on graceful shutdown.
func (rl *RateLimiter) Stop() {
	close(rl.stopChan)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for ip, times := range rl.requests {
				var valid []time.Time
				for _, t := range times {
					if now.Sub(t) < rl.window {
						valid = append(valid, t)
					}
				}
				if len(valid) == 0 {
					delete(rl.requests, ip)
				} else {
					rl.requests[ip] = valid
				}
			}
			rl.mu.Unlock()
		case <-rl.stopChan:
			return
		}
	}
}

// Allow checks if a request from the given IP is allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	times := rl.requests[ip]

	// Filter to requests within window
	var valid []time.Time
	for _, t := range times {
		if now.Sub(t) < rl.window {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		return false
	}

	// Check if we need to evict entries to stay under max
	if _, exists := rl.requests[ip]; !exists && len(rl.requests) >= rl.maxEntries {
		// Evict oldest entry (first one found with oldest timestamp)
		var oldestIP string
		var oldestTime time.Time
		first := true
		for entryIP, entryTimes := range rl.requests {
			if len(entryTimes) > 0 {
				if first || entryTimes[0].Before(oldestTime) {
					oldestIP = entryIP
					oldestTime = entryTimes[0]
					first = false
				}
			}
		}
		if oldestIP != "" {
			delete(rl.requests, oldestIP)
			log.Printf("[RATE_LIMIT] Evicted oldest entry for %s to stay under max entries", oldestIP)
		}
	}

	valid = append(valid, now)
	rl.requests[ip] = valid
	return true
}

// Wrap adds rate limiting to a handler
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Use RemoteAddr directly - the status surface binds locally and sits
		// behind no proxy, so X-Forwarded-For is never trustworthy here.
		ip := r.RemoteAddr

		if !rl.Allow(ip) {
			log.Printf("[RATE_LIMIT] Blocked request from %s", ip)
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"success":false,"error":{"code":"RATE_LIMIT","message":"Too many requests"}}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimitBodySize wraps a handler with request body size limiting
func LimitBodySize(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}
