package storeforward

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutValidation(t *testing.T) {
	c := New(Config{})

	_, err := c.Put("", [16]byte{}, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = c.Put("peer", [16]byte{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	assert.Equal(t, 0, c.Total(), "validation failures must not mutate")
}

func TestPutAssignsMessageID(t *testing.T) {
	c := New(Config{})
	e, err := c.Put("peer", [16]byte{}, []byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, [16]byte{}, e.MessageID)
	assert.True(t, e.ExpiresAt.After(e.CreatedAt))
}

func TestPerRecipientCapEvictsOldest(t *testing.T) {
	c := New(Config{MaxPerRecipient: 10})

	for i := 1; i <= 15; i++ {
		_, err := c.Put("p", [16]byte{}, []byte(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, 10, c.CountFor("p"))
	pending := c.Pending("p")
	require.Len(t, pending, 10)
	// The 6th..15th payloads survive, in order.
	for i, e := range pending {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+6), string(e.Payload))
	}
}

func TestGlobalCapEvictsGloballyOldest(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(Config{MaxPerRecipient: 10, MaxTotal: 4})
	c.now = func() time.Time { return now }

	for i, recipient := range []string{"a", "a", "b", "c"} {
		_, err := c.Put(recipient, [16]byte{}, []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
		now = now.Add(time.Second)
	}
	require.Equal(t, 4, c.Total())

	// One more pushes out the globally oldest (a's first entry).
	_, err := c.Put("d", [16]byte{}, []byte("m4"))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Total())
	assert.Equal(t, 1, c.CountFor("a"))
	assert.Equal(t, "m1", string(c.Pending("a")[0].Payload))
}

func TestDeliverRemovesSentEntries(t *testing.T) {
	c := New(Config{})
	for i := 0; i < 5; i++ {
		_, err := c.Put("p", [16]byte{}, []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	var sent []string
	delivered, failed := c.Deliver("p", func(e *Entry) error {
		sent = append(sent, string(e.Payload))
		return nil
	})
	assert.Equal(t, 5, delivered)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, sent)
	assert.Equal(t, 0, c.Total())
}

func TestDeliverRetainsFailures(t *testing.T) {
	c := New(Config{})
	for i := 0; i < 4; i++ {
		_, err := c.Put("p", [16]byte{}, []byte(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	sendErr := errors.New("radio silence")
	delivered, failed := c.Deliver("p", func(e *Entry) error {
		if string(e.Payload) == "m1" || string(e.Payload) == "m3" {
			return sendErr
		}
		return nil
	})
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, failed)

	pending := c.Pending("p")
	require.Len(t, pending, 2)
	assert.Equal(t, "m1", string(pending[0].Payload))
	assert.Equal(t, "m3", string(pending[1].Payload))

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Delivered)
	assert.Equal(t, uint64(2), s.SendFailures)
}

func TestDeliverSkipsExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(Config{Retention: time.Minute})
	c.now = func() time.Time { return now }

	_, err := c.Put("p", [16]byte{}, []byte("stale"))
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = c.Put("p", [16]byte{}, []byte("fresh"))
	require.NoError(t, err)

	var sent []string
	delivered, failed := c.Deliver("p", func(e *Entry) error {
		sent = append(sent, string(e.Payload))
		return nil
	})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"fresh"}, sent)
}

func TestSweepExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New(Config{Retention: time.Minute})
	c.now = func() time.Time { return now }

	_, err := c.Put("a", [16]byte{}, []byte("old"))
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = c.Put("b", [16]byte{}, []byte("new"))
	require.NoError(t, err)

	assert.Equal(t, 1, c.SweepExpired())
	assert.Equal(t, 1, c.Total())
	assert.Equal(t, 0, c.CountFor("a"))
	assert.Equal(t, 1, c.CountFor("b"))
}

func TestClear(t *testing.T) {
	c := New(Config{})
	_, err := c.Put("p", [16]byte{}, []byte("x"))
	require.NoError(t, err)
	c.Clear()
	assert.Equal(t, 0, c.Total())
}
