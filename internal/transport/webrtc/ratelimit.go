package webrtc

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	inviteRate  = rate.Limit(1)
	inviteBurst = 5
	// inviteIdle must exceed the time a limiter needs to refill to burst, so
	// dropping an idle key never hands out extra tokens.
	inviteIdle = time.Minute
)

// inviteLimiter throttles invitation requests per remote IP. Keys idle for
// longer than idle are swept on later calls.
type inviteLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newInviteLimiter(r rate.Limit, burst int) *inviteLimiter {
	return &inviteLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    burst,
		idle:     inviteIdle,
	}
}

func (l *inviteLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	entry, exists := l.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep must be called with l.mu held.
func (l *inviteLimiter) sweep(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.seen) > l.idle {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

func (l *inviteLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
