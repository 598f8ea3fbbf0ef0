package rpc

import (
	"net"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"trustledger/observability"
)

const maxTrackedClients = 4096

// clientLimiter applies a token bucket per client address. Least recently
// seen clients are evicted once maxTrackedClients is reached.
type clientLimiter struct {
	perSecond    rate.Limit
	burst        int
	trustProxies bool
	visitors     *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(perSecond float64, burst int, trustProxies bool) (*clientLimiter, error) {
	if perSecond <= 0 {
		return nil, nil
	}
	if burst <= 0 {
		burst = 1
	}
	visitors, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		return nil, err
	}
	return &clientLimiter{
		perSecond:    rate.Limit(perSecond),
		burst:        burst,
		trustProxies: trustProxies,
		visitors:     visitors,
	}, nil
}

func (c *clientLimiter) allow(id string) bool {
	if c == nil {
		return true
	}
	limiter, ok := c.visitors.Get(id)
	if !ok {
		limiter = rate.NewLimiter(c.perSecond, c.burst)
		if existing, found, _ := c.visitors.PeekOrAdd(id, limiter); found {
			limiter = existing
		}
	}
	return limiter.Allow()
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.allow(clientID(r, c.trustProxies)) {
			observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate_limited", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID identifies the caller by remote address. Forwarding headers are
// only honoured behind a trusted proxy.
func clientID(r *http.Request, trustProxies bool) string {
	if !trustProxies {
		return remoteHost(r)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
