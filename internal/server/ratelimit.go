package server

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rateLimiter is a per-IP fixed-window counter.
type rateLimiter struct {
	clientIP func(*http.Request) string

	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type window struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, period time.Duration, clientIP func(*http.Request) string) *rateLimiter {
	rl := &rateLimiter{
		clientIP: clientIP,
		windows:  make(map[string]*window),
		limit:    limit,
		period:   period,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := rl.allow(rl.clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, errorResp{Error: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow reports whether ip may proceed, and if not, how long until its
// window resets.
func (rl *rateLimiter) allow(ip string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	win, ok := rl.windows[ip]
	if !ok || now.Sub(win.start) >= rl.period {
		rl.windows[ip] = &window{start: now, count: 1}
		return true, 0
	}
	if win.count >= rl.limit {
		return false, rl.period - now.Sub(win.start)
	}
	win.count++
	return true, 0
}

func (rl *rateLimiter) janitor() {
	ticker := time.NewTicker(rl.period)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			now := rl.now()
			rl.mu.Lock()
			for ip, win := range rl.windows {
				if now.Sub(win.start) >= rl.period {
					delete(rl.windows, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// clientIPs resolves the address a request is limited and logged under.
// Forwarding headers are only believed when the direct peer is a trusted
// proxy; otherwise any client could pick its own key.
type clientIPs struct {
	trusted []netip.Prefix
}

// newClientIPs parses IPs and CIDRs. Entries that parse as neither are
// returned in invalid and ignored.
func newClientIPs(entries []string) (c clientIPs, invalid []string) {
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			c.trusted = append(c.trusted, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			c.trusted = append(c.trusted, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		invalid = append(invalid, e)
	}
	return c, invalid
}

func (c clientIPs) trusts(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range c.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// resolve returns the peer address, or for a trusted peer the nearest
// untrusted hop of X-Forwarded-For, then X-Real-IP.
func (c clientIPs) resolve(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !c.trusts(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !c.trusts(hop) {
				return hop
			}
		}
		if first := strings.TrimSpace(hops[0]); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}
