package admission

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMaxPerIP is the number of concurrent sessions a single source IP may hold.
const DefaultMaxPerIP = 3

// Entry is one row of a registry snapshot.
type Entry struct {
	IP       string    `json:"ip"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// Source provides registry snapshots to observers such as the monitor loop
// and the status endpoint.
type Source interface {
	Entries(ctx context.Context) ([]Entry, error)
}

type slot struct {
	count    int
	lastSeen time.Time
}

// Registry tracks open sessions per source IP and enforces a per-IP cap.
//
// All methods are safe for concurrent use. The lock is only held for map
// bookkeeping, never across I/O.
type Registry struct {
	mu    sync.Mutex
	limit int
	slots map[string]*slot
	now   func() time.Time
}

// NewRegistry returns an empty registry admitting at most limit concurrent
// sessions per IP. A limit <= 0 disables the cap.
func NewRegistry(limit int) *Registry {
	return &Registry{
		limit: limit,
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

// Limit returns the configured per-IP cap.
func (r *Registry) Limit() int { return r.limit }

// TryAdmit reserves a session slot for ip. It returns false, leaving the
// registry untouched, when ip already holds the maximum number of sessions.
func (r *Registry) TryAdmit(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[ip]
	if ok && r.limit > 0 && s.count >= r.limit {
		return false
	}
	if !ok {
		s = &slot{}
		r.slots[ip] = s
	}
	s.count++
	s.lastSeen = r.now()
	return true
}

// Release frees one slot held by ip. The entry is removed once its count
// drops to zero. Releasing an unknown IP is a no-op.
func (r *Registry) Release(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[ip]
	if !ok {
		return
	}
	if s.count > 0 {
		s.count--
	}
	if s.count == 0 {
		delete(r.slots, ip)
	}
}

// Count returns the number of open sessions attributed to ip.
func (r *Registry) Count(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[ip]; ok {
		return s.count
	}
	return 0
}

// Len returns the number of distinct IPs currently holding sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Snapshot returns a point-in-time copy of the registry ordered by IP.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.slots))
	for ip, s := range r.slots {
		out = append(out, Entry{IP: ip, Count: s.count, LastSeen: s.lastSeen})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Entries implements Source.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	return r.Snapshot(), nil
}

var _ Source = (*Registry)(nil)
