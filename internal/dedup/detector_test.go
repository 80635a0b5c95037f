package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func randomID() [16]byte {
	var id [16]byte
	frand.Read(id[:])
	return id
}

func TestMarkThenDuplicate(t *testing.T) {
	d := New(Config{})
	id := randomID()

	assert.False(t, d.IsDuplicate(id))
	d.MarkSeen(id)
	assert.True(t, d.IsDuplicate(id))
}

func TestCheckAndMark(t *testing.T) {
	d := New(Config{})
	id := randomID()

	assert.False(t, d.CheckAndMark(id))
	assert.True(t, d.CheckAndMark(id))
	assert.True(t, d.CheckAndMark(id))

	s := d.Stats()
	assert.Equal(t, uint64(2), s.Duplicates)
	assert.Equal(t, uint64(1), s.Inserts)
}

func TestBloomBasics(t *testing.T) {
	b := NewBloom(1024, 4)
	id := randomID()
	assert.False(t, b.Contains(id))
	b.Add(id)
	assert.True(t, b.Contains(id))
	assert.Greater(t, b.FillRatio(), 0.0)
}

// A tiny filter forces a rotation quickly; every id still resident in the
// LRU must survive the reset.
func TestLRUSurvivesBloomReset(t *testing.T) {
	d := New(Config{
		BloomSize:     16, // rotates after a handful of inserts
		HashCount:     4,
		LRUCapacity:   20,
		FillThreshold: 0.75,
		GracePeriod:   time.Minute,
	})

	ids := make([][16]byte, 20)
	for i := range ids {
		ids[i] = randomID()
		d.MarkSeen(ids[i])
	}
	require.Greater(t, d.Stats().Resets, uint64(0), "filter should have rotated")

	for i, id := range ids {
		assert.True(t, d.IsDuplicate(id), "id %d lost across reset", i)
	}
}

func TestGracePeriodRetainsOldFilter(t *testing.T) {
	now := time.Unix(1000, 0)
	d := New(Config{
		BloomSize:     4096,
		HashCount:     4,
		LRUCapacity:   2, // small, so rotation replay loses older ids
		FillThreshold: 0.025,
		GracePeriod:   time.Minute,
	})
	d.now = func() time.Time { return now }

	first := randomID()
	d.MarkSeen(first)
	for i := 0; i < 30; i++ {
		d.MarkSeen(randomID())
	}
	require.Greater(t, d.Stats().Resets, uint64(0))

	// first has been evicted from the 2-entry LRU and is not in the fresh
	// filter, but the old filter still answers during grace.
	assert.True(t, d.IsDuplicate(first))

	// Past the grace deadline the old filter is dropped.
	now = now.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate(first))
}

func TestLRUEviction(t *testing.T) {
	l := newLRU(3)
	a, b, c, x := randomID(), randomID(), randomID(), randomID()
	l.add(a)
	l.add(b)
	l.add(c)
	l.add(x) // evicts a
	assert.False(t, l.contains(a))
	assert.True(t, l.contains(b))
	assert.True(t, l.contains(c))
	assert.True(t, l.contains(x))
	assert.Equal(t, 3, l.len())
}

func TestLRUKeysOldestFirst(t *testing.T) {
	l := newLRU(3)
	a, b, c := randomID(), randomID(), randomID()
	l.add(a)
	l.add(b)
	l.add(c)
	l.add(a) // refresh a to most recent
	keys := l.keys()
	require.Len(t, keys, 3)
	assert.Equal(t, b, keys[0])
	assert.Equal(t, c, keys[1])
	assert.Equal(t, a, keys[2])
}

func TestStatsCounters(t *testing.T) {
	d := New(Config{})
	ids := make([][16]byte, 50)
	for i := range ids {
		ids[i] = randomID()
		require.False(t, d.CheckAndMark(ids[i]))
	}
	for _, id := range ids {
		require.True(t, d.IsDuplicate(id))
	}

	s := d.Stats()
	assert.Equal(t, uint64(100), s.Checks)
	assert.Equal(t, uint64(50), s.Inserts)
	assert.Equal(t, uint64(50), s.Duplicates)
	assert.Equal(t, uint64(50), s.CacheHits)
	assert.Equal(t, 50, s.LRUEntries)
	assert.Less(t, s.FalsePositiveRate, 0.01)
}

func TestReset(t *testing.T) {
	d := New(Config{})
	id := randomID()
	d.MarkSeen(id)
	d.Reset()
	assert.False(t, d.IsDuplicate(id))
}
