package mesh

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndLookup(t *testing.T) {
	tbl := NewTable(TableConfig{})

	require.True(t, tbl.AddRoute("b", "b", 0, 0))
	next, ok := tbl.NextHop("b")
	require.True(t, ok)
	assert.Equal(t, "b", next)

	_, ok = tbl.NextHop("unknown")
	assert.False(t, ok)
}

func TestReplacementRule(t *testing.T) {
	tbl := NewTable(TableConfig{})

	tbl.AddRoute("dst", "via1", 2, 10) // score 210

	// Worse score via a different hop must not displace.
	assert.False(t, tbl.AddRoute("dst", "via2", 2, 50))
	next, _ := tbl.NextHop("dst")
	assert.Equal(t, "via1", next)

	// Equal score via a different hop must not displace either.
	assert.False(t, tbl.AddRoute("dst", "via3", 2, 10))
	next, _ = tbl.NextHop("dst")
	assert.Equal(t, "via1", next)

	// Strictly better score wins.
	assert.True(t, tbl.AddRoute("dst", "via4", 1, 10))
	next, _ = tbl.NextHop("dst")
	assert.Equal(t, "via4", next)

	// The incumbent next hop may refresh itself even with a worse score.
	assert.True(t, tbl.AddRoute("dst", "via4", 3, 99))
	r, ok := tbl.Lookup("dst")
	require.True(t, ok)
	assert.Equal(t, uint8(3), r.HopCount)
}

func TestRouteExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := NewTable(TableConfig{RouteTimeout: time.Minute})
	tbl.now = func() time.Time { return now }

	tbl.AddRoute("dst", "via", 1, 0)
	_, ok := tbl.Lookup("dst")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = tbl.Lookup("dst")
	assert.False(t, ok)

	// An expired incumbent never blocks a replacement.
	assert.True(t, tbl.AddRoute("dst", "other", 5, 99))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, tbl.Cleanup())
	assert.Equal(t, 0, tbl.Len())
}

func TestRemoveRoutesVia(t *testing.T) {
	tbl := NewTable(TableConfig{})
	tbl.AddRoute("a", "relay", 1, 0)
	tbl.AddRoute("b", "relay", 2, 0)
	tbl.AddRoute("c", "other", 1, 0)

	assert.Equal(t, 2, tbl.RemoveRoutesVia("relay"))
	_, ok := tbl.Lookup("a")
	assert.False(t, ok)
	_, ok = tbl.Lookup("c")
	assert.True(t, ok)
}

func TestNeighbors(t *testing.T) {
	tbl := NewTable(TableConfig{})
	tbl.AddRoute("n1", "n1", 0, 0)
	tbl.AddRoute("n2", "n2", 0, 0)
	tbl.AddRoute("far", "n1", 3, 0)

	assert.Equal(t, []string{"n1", "n2"}, tbl.Neighbors())
}

func TestMaxRoutesEviction(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := NewTable(TableConfig{MaxRoutes: 3})
	tbl.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		tbl.AddRoute(fmt.Sprintf("dst%d", i), "via", uint8(i+1), 0)
		now = now.Add(time.Second)
	}

	assert.Equal(t, 3, tbl.Len())
	_, ok := tbl.Lookup("dst0") // least recently updated, evicted
	assert.False(t, ok)
	_, ok = tbl.Lookup("dst3")
	assert.True(t, ok)
}
