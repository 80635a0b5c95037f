// Package mesh implements the multi-hop forwarding core: a
// distance-vector route table, the forwarding engine that decides
// deliver/relay/drop for every inbound frame, on-demand route discovery,
// and payload fragmentation for MTU-bound transports.
package mesh

import (
	"sort"
	"sync"
	"time"
)

// Route is one entry in the table. Direct neighbors have HopCount 0 and
// NextHop equal to Destination.
type Route struct {
	Destination string
	NextHop     string
	HopCount    uint8
	Metric      int
	LastUpdated time.Time
	ExpiresAt   time.Time
}

// score ranks routes for the replacement rule: lower wins.
func (r Route) score() int {
	return int(r.HopCount)*100 + r.Metric
}

// TableConfig tunes the route table.
type TableConfig struct {
	MaxRoutes    int           // global bound; 0 means DefaultMaxRoutes
	RouteTimeout time.Duration // validity window per advertisement
}

const (
	DefaultMaxRoutes    = 1000
	DefaultRouteTimeout = 5 * time.Minute
)

// Table is the route table. All methods are safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
	cfg    TableConfig

	now func() time.Time
}

// NewTable creates an empty route table.
func NewTable(cfg TableConfig) *Table {
	if cfg.MaxRoutes == 0 {
		cfg.MaxRoutes = DefaultMaxRoutes
	}
	if cfg.RouteTimeout == 0 {
		cfg.RouteTimeout = DefaultRouteTimeout
	}
	return &Table{
		routes: make(map[string]Route),
		cfg:    cfg,
		now:    time.Now,
	}
}

// AddRoute installs or refreshes a route. A new advertisement displaces an
// existing one only when its score (hop_count*100 + metric) is strictly
// lower, or when it comes from the incumbent next hop (a refresh). Returns
// whether the table changed.
func (t *Table) AddRoute(dest, nextHop string, hopCount uint8, metric int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	candidate := Route{
		Destination: dest,
		NextHop:     nextHop,
		HopCount:    hopCount,
		Metric:      metric,
		LastUpdated: now,
		ExpiresAt:   now.Add(t.cfg.RouteTimeout),
	}

	cur, exists := t.routes[dest]
	if exists && now.Before(cur.ExpiresAt) {
		if candidate.score() >= cur.score() && candidate.NextHop != cur.NextHop {
			return false
		}
	}
	t.routes[dest] = candidate

	if len(t.routes) > t.cfg.MaxRoutes {
		t.evictStalestLocked()
	}
	return true
}

// evictStalestLocked removes the least-recently-updated route.
func (t *Table) evictStalestLocked() {
	var victim string
	var oldest time.Time
	for dest, r := range t.routes {
		if victim == "" || r.LastUpdated.Before(oldest) {
			victim, oldest = dest, r.LastUpdated
		}
	}
	delete(t.routes, victim)
}

// NextHop returns the relay target for dest, if a valid route exists.
func (t *Table) NextHop(dest string) (string, bool) {
	r, ok := t.Lookup(dest)
	if !ok {
		return "", false
	}
	return r.NextHop, true
}

// Lookup returns the route for dest while it is still valid.
func (t *Table) Lookup(dest string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[dest]
	if !ok || t.now().After(r.ExpiresAt) {
		return Route{}, false
	}
	return r, true
}

// RemoveRoutesVia drops every route whose next hop is the given peer.
// Called when a neighbor disconnects. Returns the number removed.
func (t *Table) RemoveRoutesVia(peer string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for dest, r := range t.routes {
		if r.NextHop == peer {
			delete(t.routes, dest)
			removed++
		}
	}
	return removed
}

// Cleanup removes expired routes. Returns the number removed.
func (t *Table) Cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for dest, r := range t.routes {
		if now.After(r.ExpiresAt) {
			delete(t.routes, dest)
			removed++
		}
	}
	return removed
}

// AllRoutes returns a snapshot of every valid route, sorted by destination
// for stable output.
func (t *Table) AllRoutes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		if !now.After(r.ExpiresAt) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// Neighbors returns the peers reachable in zero hops.
func (t *Table) Neighbors() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	var out []string
	for _, r := range t.routes {
		if r.HopCount == 0 && !now.After(r.ExpiresAt) {
			out = append(out, r.Destination)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries, including expired ones not yet swept.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
