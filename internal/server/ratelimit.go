package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10000

// ipRateLimiter holds one token bucket per client IP. At most
// maxTrackedClients buckets are kept; the least recently used is evicted.
type ipRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// newIPRateLimiter allows perMinute requests per IP with the given burst.
// A non-positive perMinute disables limiting.
func newIPRateLimiter(perMinute, burst int) *ipRateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	// only fails for a non-positive size
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &ipRateLimiter{
		limit:    limit,
		burst:    burst,
		now:      time.Now,
		limiters: cache,
	}
}

// Allow reports whether ip may make another request now
func (l *ipRateLimiter) Allow(ip string) bool {
	if l.limit == rate.Inf {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(ip)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(ip, lim)
	}
	return lim.AllowN(l.now(), 1)
}

// clientResolver finds the originating client of a request. Forwarding
// headers are only read when the TCP peer is a trusted proxy.
type clientResolver struct {
	trusted []*net.IPNet
}

func (c clientResolver) isTrusted(ip net.IP) bool {
	for _, n := range c.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the rightmost untrusted X-Forwarded-For hop, then
// X-Real-IP, when the peer is a trusted proxy, and the peer otherwise
func (c clientResolver) clientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	peerIP := net.ParseIP(peer)
	if peerIP == nil || !c.isTrusted(peerIP) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := net.ParseIP(strings.TrimSpace(hops[i]))
			if hop == nil {
				break
			}
			if !c.isTrusted(hop) {
				return hop.String()
			}
		}
	}
	if xri := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); xri != nil {
		return xri.String()
	}
	return peer
}
