package openaigw

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the limiter map so rotating keys or source hosts
// cannot grow it without bound.
const maxTrackedKeys = 4096

const defaultBurst = 5

// keyLimiter holds one token bucket per caller key.
type keyLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newKeyLimiter returns nil when perMinute is not positive, disabling rate
// limiting entirely.
func newKeyLimiter(perMinute, burst int) *keyLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &keyLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow reports whether key may proceed. Stale entries are pruned when the
// map approaches its cap; if pruning is not enough, arbitrary entries are
// evicted so new callers are never locked out.
func (k *keyLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	if len(k.entries) >= maxTrackedKeys {
		for id, e := range k.entries {
			if now.Sub(e.lastSeen) > time.Minute {
				delete(k.entries, id)
			}
		}
		for len(k.entries) >= maxTrackedKeys {
			for id := range k.entries {
				delete(k.entries, id)
				break
			}
		}
	}

	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.lim.Allow()
}

// rateLimitKey identifies the caller: the bearer token when present,
// otherwise the remote host.
func rateLimitKey(r *http.Request) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
