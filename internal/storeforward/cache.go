// Package storeforward implements the offline-peer message cache:
// per-recipient FIFO queues under a per-recipient cap, a global cap
// across all recipients, and a retention TTL. Newest wins; the oldest
// entry is the one evicted.
package storeforward

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peerwave/peerwave/internal/logger"
	"github.com/peerwave/peerwave/internal/protocol/wire"
)

// Validation and capacity errors.
var (
	ErrInvalidRecipient = errors.New("storeforward: invalid recipient id")
	ErrInvalidPayload   = errors.New("storeforward: invalid payload")
)

// Defaults used when Config fields are zero.
const (
	DefaultMaxPerRecipient = 100
	DefaultMaxTotal        = 1000
	DefaultRetention       = 12 * time.Hour
)

// Config tunes the cache.
type Config struct {
	MaxPerRecipient int
	MaxTotal        int
	Retention       time.Duration
}

// Entry is one cached message awaiting its recipient.
type Entry struct {
	RecipientID string
	MessageID   [16]byte
	Payload     []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Cached       uint64
	Delivered    uint64
	SendFailures uint64
	Evicted      uint64
	Expired      uint64
	Entries      int
	Recipients   int
}

// Cache is the store-and-forward cache. Safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	cfg    Config
	queues map[string][]*Entry // FIFO per recipient, oldest first
	total  int
	stats  Stats

	now func() time.Time
}

// New creates a Cache.
func New(cfg Config) *Cache {
	if cfg.MaxPerRecipient == 0 {
		cfg.MaxPerRecipient = DefaultMaxPerRecipient
	}
	if cfg.MaxTotal == 0 {
		cfg.MaxTotal = DefaultMaxTotal
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	return &Cache{
		cfg:    cfg,
		queues: make(map[string][]*Entry),
		now:    time.Now,
	}
}

// Put caches a payload for an offline recipient. A zero message id gets a
// generated one. Validation failures are reported before any mutation.
func (c *Cache) Put(recipient string, messageID [16]byte, payload []byte) (*Entry, error) {
	if recipient == "" {
		return nil, ErrInvalidRecipient
	}
	if payload == nil {
		return nil, ErrInvalidPayload
	}
	if messageID == ([16]byte{}) {
		messageID = wire.NewMessageID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := &Entry{
		RecipientID: recipient,
		MessageID:   messageID,
		Payload:     payload,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.cfg.Retention),
	}
	c.queues[recipient] = append(c.queues[recipient], e)
	c.total++
	c.stats.Cached++

	// Per-recipient cap: drop that recipient's oldest.
	if len(c.queues[recipient]) > c.cfg.MaxPerRecipient {
		c.dropOldestLocked(recipient)
	}
	// Global cap: drop the globally oldest.
	for c.total > c.cfg.MaxTotal {
		c.dropGloballyOldestLocked()
	}
	return e, nil
}

// dropOldestLocked evicts the head of one recipient's queue.
func (c *Cache) dropOldestLocked(recipient string) {
	q := c.queues[recipient]
	if len(q) == 0 {
		return
	}
	c.queues[recipient] = q[1:]
	if len(c.queues[recipient]) == 0 {
		delete(c.queues, recipient)
	}
	c.total--
	c.stats.Evicted++
}

// dropGloballyOldestLocked evicts the oldest entry across all queues.
func (c *Cache) dropGloballyOldestLocked() {
	var victim string
	var oldest time.Time
	for recipient, q := range c.queues {
		if victim == "" || q[0].CreatedAt.Before(oldest) {
			victim, oldest = recipient, q[0].CreatedAt
		}
	}
	if victim != "" {
		c.dropOldestLocked(victim)
	}
}

// Deliver flushes a reconnected recipient's queue through send, oldest
// first. Entries sent successfully are removed; failures stay cached for
// the next attempt and are counted. Expired entries are discarded without
// a send.
func (c *Cache) Deliver(recipient string, send func(*Entry) error) (delivered, failed int) {
	c.mu.Lock()
	queue := c.queues[recipient]
	delete(c.queues, recipient)
	c.total -= len(queue)
	now := c.now()
	c.mu.Unlock()

	var retained []*Entry
	for _, e := range queue {
		if now.After(e.ExpiresAt) {
			c.mu.Lock()
			c.stats.Expired++
			c.mu.Unlock()
			continue
		}
		if err := send(e); err != nil {
			logger.Warn("cached message delivery failed",
				logger.PeerID(recipient), logger.MessageID(e.MessageID), logger.Err(err))
			retained = append(retained, e)
			failed++
			continue
		}
		delivered++
	}

	c.mu.Lock()
	if len(retained) > 0 {
		// Re-queue ahead of anything cached while we were sending.
		c.queues[recipient] = append(retained, c.queues[recipient]...)
		c.total += len(retained)
	}
	c.stats.Delivered += uint64(delivered)
	c.stats.SendFailures += uint64(failed)
	c.mu.Unlock()
	return delivered, failed
}

// SweepExpired drops entries past their retention TTL. Returns the number
// dropped.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for recipient, q := range c.queues {
		kept := q[:0]
		for _, e := range q {
			if now.After(e.ExpiresAt) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(c.queues, recipient)
		} else {
			c.queues[recipient] = kept
		}
	}
	c.total -= removed
	c.stats.Expired += uint64(removed)
	return removed
}

// Pending returns the payloads queued for a recipient, oldest first.
func (c *Cache) Pending(recipient string) []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[recipient]
	out := make([]*Entry, len(q))
	copy(out, q)
	return out
}

// CountFor returns the queue depth for one recipient.
func (c *Cache) CountFor(recipient string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[recipient])
}

// Total returns entries across all recipients.
func (c *Cache) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.total
	s.Recipients = len(c.queues)
	return s
}

// Clear drops everything. Used on node destroy.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = make(map[string][]*Entry)
	c.total = 0
}

// String implements fmt.Stringer for debug logging.
func (c *Cache) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("storeforward.Cache{recipients: %d, entries: %d}", len(c.queues), c.total)
}
