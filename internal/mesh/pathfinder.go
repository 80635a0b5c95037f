package mesh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Path discovery errors.
var (
	ErrNoRoute          = errors.New("mesh: no route to destination")
	ErrDiscoveryTimeout = errors.New("mesh: route discovery timed out")
)

// DefaultDiscoveryTimeout bounds how long a discovery waits for a reply.
const DefaultDiscoveryTimeout = 10 * time.Second

// discovery tracks one in-flight route request. Concurrent FindRoute
// calls for the same destination attach to the same discovery and share
// its first completion.
type discovery struct {
	requestID string
	done      chan struct{} // closed on completion or timeout
	timer     *time.Timer
}

// PathFinder resolves routes on demand: it answers from the table when
// possible and otherwise floods a route request and suspends the caller
// until a reply installs a route or the discovery timer fires.
type PathFinder struct {
	mu      sync.Mutex
	table   *Table
	timeout time.Duration
	pending map[string]*discovery // keyed by destination
}

// NewPathFinder creates a PathFinder over the given table.
func NewPathFinder(table *Table, timeout time.Duration) *PathFinder {
	if timeout == 0 {
		timeout = DefaultDiscoveryTimeout
	}
	return &PathFinder{
		table:   table,
		timeout: timeout,
		pending: make(map[string]*discovery),
	}
}

// FindRoute returns an existing valid route or initiates discovery. The
// send callback broadcasts the route request; it is invoked at most once
// per discovery, with the generated request id.
func (p *PathFinder) FindRoute(ctx context.Context, dest string, send func(requestID string) error) (Route, error) {
	if r, ok := p.table.Lookup(dest); ok {
		return r, nil
	}

	p.mu.Lock()
	disc, inFlight := p.pending[dest]
	if !inFlight {
		disc = &discovery{
			requestID: uuid.NewString(),
			done:      make(chan struct{}),
		}
		disc.timer = time.AfterFunc(p.timeout, func() { p.complete(dest) })
		p.pending[dest] = disc
	}
	p.mu.Unlock()

	if !inFlight {
		if err := send(disc.requestID); err != nil {
			p.complete(dest)
			return Route{}, err
		}
	}

	select {
	case <-disc.done:
	case <-ctx.Done():
		return Route{}, ctx.Err()
	}

	if r, ok := p.table.Lookup(dest); ok {
		return r, nil
	}
	return Route{}, ErrDiscoveryTimeout
}

// RouteInstalled signals that a route toward dest appeared (a route reply
// arrived or a neighbor connected); any discovery for it completes.
func (p *PathFinder) RouteInstalled(dest string) {
	p.complete(dest)
}

// complete finishes a pending discovery, waking every waiter. Idempotent.
func (p *PathFinder) complete(dest string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	disc, ok := p.pending[dest]
	if !ok {
		return
	}
	disc.timer.Stop()
	delete(p.pending, dest)
	close(disc.done)
}

// CancelAll aborts every pending discovery. Used on node destroy.
func (p *PathFinder) CancelAll() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*discovery)
	p.mu.Unlock()
	for _, disc := range pending {
		disc.timer.Stop()
		close(disc.done)
	}
}

// Pending returns the number of in-flight discoveries.
func (p *PathFinder) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
