package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateGate limits how fast a single source IP may open new connections.
// It complements the concurrency cap of Registry: a client that keeps
// reconnecting stays under the cap but still burns accept cycles.
type RateGate struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*gateEntry
	idleTTL  time.Duration
}

type gateEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRateGate returns a gate admitting perSecond new connections per IP
// with the given burst. It returns nil when perSecond <= 0; a nil gate
// allows everything.
func NewRateGate(perSecond float64, burst int) *RateGate {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateGate{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*gateEntry),
		idleTTL:  10 * time.Minute,
	}
}

// Allow reports whether ip may open another connection now.
func (g *RateGate) Allow(ip string) bool {
	if g == nil {
		return true
	}
	now := time.Now()

	g.mu.Lock()
	e, ok := g.limiters[ip]
	if !ok {
		e = &gateEntry{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.limiters[ip] = e
	}
	e.lastUsed = now
	g.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Sweep drops limiters that have not been used for the idle TTL and
// returns how many were removed.
func (g *RateGate) Sweep() int {
	if g == nil {
		return 0
	}
	cutoff := time.Now().Add(-g.idleTTL)

	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for ip, e := range g.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(g.limiters, ip)
			removed++
		}
	}
	return removed
}
