package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRouteExisting(t *testing.T) {
	tbl := NewTable(TableConfig{})
	tbl.AddRoute("dest", "via", 1, 0)
	pf := NewPathFinder(tbl, time.Second)

	r, err := pf.FindRoute(context.Background(), "dest", func(string) error {
		t.Fatal("send must not be called when a route exists")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "via", r.NextHop)
}

func TestFindRouteDiscovery(t *testing.T) {
	tbl := NewTable(TableConfig{})
	pf := NewPathFinder(tbl, 5*time.Second)

	sent := make(chan string, 1)
	go func() {
		reqID := <-sent
		assert.NotEmpty(t, reqID)
		// A reply arrives: the route is installed, discovery completes.
		tbl.AddRoute("dest", "via", 2, 0)
		pf.RouteInstalled("dest")
	}()

	r, err := pf.FindRoute(context.Background(), "dest", func(reqID string) error {
		sent <- reqID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "via", r.NextHop)
	assert.Equal(t, 0, pf.Pending())
}

func TestFindRouteTimeout(t *testing.T) {
	pf := NewPathFinder(NewTable(TableConfig{}), 50*time.Millisecond)

	_, err := pf.FindRoute(context.Background(), "dest", func(string) error { return nil })
	assert.ErrorIs(t, err, ErrDiscoveryTimeout)
	assert.Equal(t, 0, pf.Pending())
}

func TestConcurrentDiscoveriesShareCompletion(t *testing.T) {
	tbl := NewTable(TableConfig{})
	pf := NewPathFinder(tbl, 5*time.Second)

	var sends sync.Map
	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := pf.FindRoute(context.Background(), "dest", func(reqID string) error {
				sends.Store(reqID, true)
				return nil
			})
			results[i] = err
		}(i)
	}

	// Let the discoveries coalesce, then answer once.
	time.Sleep(100 * time.Millisecond)
	tbl.AddRoute("dest", "via", 1, 0)
	pf.RouteInstalled("dest")
	wg.Wait()

	for i, err := range results {
		assert.NoError(t, err, "waiter %d", i)
	}
	count := 0
	sends.Range(func(any, any) bool { count++; return true })
	assert.Equal(t, 1, count, "request must be broadcast once")
}

func TestFindRouteContextCancelled(t *testing.T) {
	pf := NewPathFinder(NewTable(TableConfig{}), 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := pf.FindRoute(ctx, "dest", func(string) error { return nil })
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestCancelAll(t *testing.T) {
	pf := NewPathFinder(NewTable(TableConfig{}), time.Hour)

	errc := make(chan error, 1)
	go func() {
		_, err := pf.FindRoute(context.Background(), "dest", func(string) error { return nil })
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	pf.CancelAll()
	assert.ErrorIs(t, <-errc, ErrDiscoveryTimeout)
}
