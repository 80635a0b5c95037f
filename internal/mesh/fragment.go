package mesh

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peerwave/peerwave/internal/protocol/wire"
)

// Fragmentation errors.
var (
	ErrPayloadTooLarge  = errors.New("mesh: payload needs more than 255 fragments")
	ErrBadFragment      = errors.New("mesh: invalid fragment")
	ErrAssemblyConflict = errors.New("mesh: fragment disagrees with assembly")
)

// DefaultReassemblyTimeout bounds how long a partial assembly is kept.
const DefaultReassemblyTimeout = 30 * time.Second

// Split cuts an oversize message into equal-sized fragments (the last may
// be shorter). Every fragment shares the original message id, carries its
// coordinates, and sets the fragment flag. Messages that fit in the MTU
// come back unchanged as a single-element slice.
func Split(msg *wire.Message, mtu int) ([]*wire.Message, error) {
	if mtu <= 0 {
		return nil, fmt.Errorf("%w: mtu %d", ErrBadFragment, mtu)
	}
	if len(msg.Payload) <= mtu {
		return []*wire.Message{msg}, nil
	}

	total := (len(msg.Payload) + mtu - 1) / mtu
	if total > 255 {
		return nil, fmt.Errorf("%w: %d bytes over mtu %d", ErrPayloadTooLarge, len(msg.Payload), mtu)
	}

	frags := make([]*wire.Message, 0, total)
	for i := 0; i < total; i++ {
		start := i * mtu
		end := min(start+mtu, len(msg.Payload))

		h := msg.Header
		h.Flags |= wire.FlagIsFragment
		h.FragmentIndex = uint8(i)
		h.FragmentTotal = uint8(total)
		h.PayloadLength = uint16(end - start)
		frags = append(frags, &wire.Message{Header: h, Payload: msg.Payload[start:end]})
	}
	return frags, nil
}

// assembly collects the fragments of one message.
type assembly struct {
	total     uint8
	parts     map[uint8][]byte
	firstSeen time.Time
}

// Reassembler rebuilds split payloads. Duplicate fragments are idempotent;
// out-of-range indexes are rejected; assemblies that stall past the
// timeout are discarded by Sweep.
type Reassembler struct {
	mu      sync.Mutex
	timeout time.Duration
	pending map[[16]byte]*assembly

	now func() time.Time
}

// NewReassembler creates a Reassembler.
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout == 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		timeout: timeout,
		pending: make(map[[16]byte]*assembly),
		now:     time.Now,
	}
}

// Add feeds one fragment in. When the final piece arrives it returns the
// reconstituted payload and true, and the assembly is destroyed.
func (r *Reassembler) Add(msg *wire.Message) ([]byte, bool, error) {
	h := msg.Header
	if !msg.IsFragment() || h.FragmentTotal < 2 {
		return nil, false, fmt.Errorf("%w: not a fragment", ErrBadFragment)
	}
	if h.FragmentIndex >= h.FragmentTotal {
		return nil, false, fmt.Errorf("%w: index %d outside [0,%d)", ErrBadFragment, h.FragmentIndex, h.FragmentTotal)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.pending[h.MessageID]
	if !ok {
		a = &assembly{
			total:     h.FragmentTotal,
			parts:     make(map[uint8][]byte, h.FragmentTotal),
			firstSeen: r.now(),
		}
		r.pending[h.MessageID] = a
	}
	if a.total != h.FragmentTotal {
		return nil, false, fmt.Errorf("%w: total %d, assembly expects %d", ErrAssemblyConflict, h.FragmentTotal, a.total)
	}

	if _, dup := a.parts[h.FragmentIndex]; !dup {
		part := make([]byte, len(msg.Payload))
		copy(part, msg.Payload)
		a.parts[h.FragmentIndex] = part
	}

	if len(a.parts) < int(a.total) {
		return nil, false, nil
	}

	delete(r.pending, h.MessageID)
	var payload []byte
	for i := uint8(0); i < a.total; i++ {
		payload = append(payload, a.parts[i]...)
	}
	return payload, true, nil
}

// Sweep discards assemblies older than the timeout. Returns the number
// discarded.
func (r *Reassembler) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadline := r.now().Add(-r.timeout)
	removed := 0
	for id, a := range r.pending {
		if a.firstSeen.Before(deadline) {
			delete(r.pending, id)
			removed++
		}
	}
	return removed
}

// Pending returns the number of partial assemblies.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
