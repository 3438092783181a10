package server

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// rateLimiter caps mutating requests per IP (max 10 per hour).
type rateLimiter struct {
	clients map[string][]time.Time
	mu      sync.Mutex
}

const maxRequestsPerHour = 10

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)

	// Clean old entries
	var recent []time.Time
	for _, ts := range rl.clients[ip] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= maxRequestsPerHour {
		rl.clients[ip] = recent
		return false
	}

	rl.clients[ip] = append(recent, now)
	return true
}

// allowMutation enforces the per-IP limit shared by every mutating
// endpoint, answering 429 when exceeded.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request) bool {
	ip := clientIP(r)
	if s.limiter.allow(ip) {
		return true
	}
	s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
	s.writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
	return false
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (set by proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
