package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OwnerLimiter applies a token bucket per owner identity so a hot sync
// loop cannot flood the content network, and evicts idle owners.
type OwnerLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	byOwner map[string]*ownerEntry
	checks  uint64
}

type ownerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates an owner-keyed limiter; returns nil if args are invalid.
// A nil limiter allows everything, so wiring it is always safe.
func New(rps float64, burst int, idleTTL time.Duration) *OwnerLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &OwnerLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byOwner: make(map[string]*ownerEntry),
	}
}

// Allow reports whether one token can be consumed for the owner at now.
func (l *OwnerLimiter) Allow(owner string, now time.Time) bool {
	if l == nil {
		return true
	}
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byOwner[owner]
	if !ok {
		e = &ownerEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byOwner[owner] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.checks++
	if l.checks%256 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for owner, entry := range l.byOwner {
			if entry.lastSeen.Before(cutoff) {
				delete(l.byOwner, owner)
			}
		}
	}
	return allowed
}
