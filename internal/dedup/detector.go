package dedup

import (
	"sync"
	"time"
)

// Config tunes the detector. Zero values fall back to the defaults below.
type Config struct {
	BloomSize     uint64        // filter size in bits
	HashCount     int           // hash functions per id
	LRUCapacity   int           // exact-match entries
	FillThreshold float64       // rotate the filter at this fill ratio
	GracePeriod   time.Duration // how long the old filter keeps answering
}

// Defaults used when Config fields are zero.
const (
	DefaultBloomSize     = 8192 * 8
	DefaultHashCount     = 4
	DefaultLRUCapacity   = 1000
	DefaultFillThreshold = 0.75
	DefaultGracePeriod   = 60 * time.Second
)

// Stats is a snapshot of detector counters.
type Stats struct {
	Checks            uint64
	BloomPositives    uint64
	CacheHits         uint64
	Duplicates        uint64
	Inserts           uint64
	Resets            uint64
	LRUEntries        int
	FillRatio         float64
	FalsePositiveRate float64
}

// Detector answers "have we seen this message id before". A hit in the
// LRU, the current filter, or the old filter during its grace window all
// count as duplicates.
type Detector struct {
	mu    sync.Mutex
	cfg   Config
	cur   *Bloom
	old   *Bloom
	grace time.Time // deadline after which old is dropped
	lru   *lru
	stats Stats

	now func() time.Time
}

// New creates a Detector.
func New(cfg Config) *Detector {
	if cfg.BloomSize == 0 {
		cfg.BloomSize = DefaultBloomSize
	}
	if cfg.HashCount == 0 {
		cfg.HashCount = DefaultHashCount
	}
	if cfg.LRUCapacity == 0 {
		cfg.LRUCapacity = DefaultLRUCapacity
	}
	if cfg.FillThreshold == 0 {
		cfg.FillThreshold = DefaultFillThreshold
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Detector{
		cfg: cfg,
		cur: NewBloom(cfg.BloomSize, cfg.HashCount),
		lru: newLRU(cfg.LRUCapacity),
		now: time.Now,
	}
}

// IsDuplicate reports whether the id has been seen.
func (d *Detector) IsDuplicate(id [16]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isDuplicateLocked(id)
}

func (d *Detector) isDuplicateLocked(id [16]byte) bool {
	d.stats.Checks++
	d.dropOldIfExpired()

	if d.lru.contains(id) {
		d.stats.CacheHits++
		d.stats.Duplicates++
		return true
	}
	if d.cur.Contains(id) {
		d.stats.BloomPositives++
		d.stats.Duplicates++
		return true
	}
	if d.old != nil && d.old.Contains(id) {
		d.stats.BloomPositives++
		d.stats.Duplicates++
		return true
	}
	return false
}

// MarkSeen records an id in both stages, rotating the filter when the fill
// threshold is reached.
func (d *Detector) MarkSeen(id [16]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markSeenLocked(id)
}

func (d *Detector) markSeenLocked(id [16]byte) {
	d.stats.Inserts++
	d.lru.add(id)
	d.cur.Add(id)

	if d.cur.FillRatio() >= d.cfg.FillThreshold {
		d.rotateLocked()
	}
}

// CheckAndMark is the composite used on the hot path: one lock hold for
// the probe and the insert.
func (d *Detector) CheckAndMark(id [16]byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isDuplicateLocked(id) {
		return true
	}
	d.markSeenLocked(id)
	return false
}

// rotateLocked replaces the saturated filter: a fresh filter with the same
// parameters takes over, the LRU contents are replayed into it, and the
// saturated filter keeps answering until the grace deadline.
func (d *Detector) rotateLocked() {
	fresh := NewBloom(d.cfg.BloomSize, d.cfg.HashCount)
	for _, id := range d.lru.keys() {
		fresh.Add(id)
	}
	d.old = d.cur
	d.cur = fresh
	d.grace = d.now().Add(d.cfg.GracePeriod)
	d.stats.Resets++
}

// dropOldIfExpired lazily discards the old filter once past the deadline.
func (d *Detector) dropOldIfExpired() {
	if d.old != nil && !d.now().Before(d.grace) {
		d.old = nil
	}
}

// Reset clears all state. Used on node destroy.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur = NewBloom(d.cfg.BloomSize, d.cfg.HashCount)
	d.old = nil
	d.lru = newLRU(d.cfg.LRUCapacity)
}

// Stats returns a snapshot of the counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.LRUEntries = d.lru.len()
	s.FillRatio = d.cur.FillRatio()
	s.FalsePositiveRate = d.cur.FalsePositiveRate()
	return s
}
