package dedup

import "container/list"

// lru is the exact-match stage of the detector: a bounded set of recent
// message ids evicted by age. Not safe for concurrent use; the Detector
// serializes access.
type lru struct {
	capacity int
	order    *list.List // front = most recent
	index    map[[16]byte]*list.Element
}

func newLRU(capacity int) *lru {
	if capacity < 1 {
		capacity = 1
	}
	return &lru{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[[16]byte]*list.Element, capacity),
	}
}

// add inserts an id, refreshing its recency if already present and
// evicting the oldest entry when over capacity.
func (l *lru) add(id [16]byte) {
	if el, ok := l.index[id]; ok {
		l.order.MoveToFront(el)
		return
	}
	l.index[id] = l.order.PushFront(id)
	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.([16]byte))
	}
}

// contains reports membership without refreshing recency; a dedup probe
// must not keep a looping frame young forever.
func (l *lru) contains(id [16]byte) bool {
	_, ok := l.index[id]
	return ok
}

// keys returns all resident ids, oldest first.
func (l *lru) keys() [][16]byte {
	out := make([][16]byte, 0, l.order.Len())
	for el := l.order.Back(); el != nil; el = el.Prev() {
		out = append(out, el.Value.([16]byte))
	}
	return out
}

func (l *lru) len() int {
	return l.order.Len()
}
