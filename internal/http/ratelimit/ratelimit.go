// Package ratelimit provides per-client-IP request limiting with trusted
// proxy awareness.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu             sync.Mutex
	limiters       map[string]*limiterEntry
	rate           rate.Limit
	burst          int
	cleanup        time.Duration
	maxEntries     int
	trustedProxies []*net.IPNet
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewIPRateLimiter creates a limiter allowing r requests per second with
// the given burst. Entries idle for twice the cleanup interval are removed
// by a background goroutine. X-Forwarded-For is honored only when the
// request arrives from one of the trusted proxy CIDRs (an empty list
// trusts every proxy).
func NewIPRateLimiter(r rate.Limit, burst int, cleanup time.Duration, trustedProxies []string) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       r,
		burst:      burst,
		cleanup:    cleanup,
		maxEntries: 10000,
	}

	for _, cidr := range trustedProxies {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			if ip := net.ParseIP(cidr); ip != nil {
				if ip.To4() != nil {
					_, ipnet, _ = net.ParseCIDR(cidr + "/32")
				} else {
					_, ipnet, _ = net.ParseCIDR(cidr + "/128")
				}
			}
		}
		if ipnet != nil {
			l.trustedProxies = append(l.trustedProxies, ipnet)
		}
	}

	go l.cleanupStale()
	return l
}

// Middleware rejects requests over the limit with 429.
func (l *IPRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.getLimiter(l.clientIP(r)).Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (l *IPRateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time
	for ip, entry := range l.limiters {
		if oldestIP == "" || entry.lastAccess.Before(oldestTime) {
			oldestIP = ip
			oldestTime = entry.lastAccess
		}
	}
	if oldestIP != "" {
		delete(l.limiters, oldestIP)
	}
}

func (l *IPRateLimiter) cleanupStale() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-l.cleanup * 2)
		l.mu.Lock()
		for ip, entry := range l.limiters {
			if entry.lastAccess.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// clientIP resolves the original client address, honoring forwarding
// headers only from trusted proxies.
func (l *IPRateLimiter) clientIP(r *http.Request) string {
	remoteIP := parseIP(r.RemoteAddr)

	if len(l.trustedProxies) > 0 {
		trusted := false
		for _, ipnet := range l.trustedProxies {
			if remoteIP != nil && ipnet.Contains(remoteIP) {
				trusted = true
				break
			}
		}
		if !trusted {
			return remoteIP.String()
		}
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if parsed := net.ParseIP(xri); parsed != nil {
			return parsed.String()
		}
	}
	return remoteIP.String()
}

func parseIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
