package noise

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerwave/peerwave/internal/crypto"
)

func mustKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

// runHandshake drives a full three-message exchange and returns both ends.
func runHandshake(t *testing.T, initStatic, respStatic crypto.KeyPair) (*Handshake, *Handshake) {
	t.Helper()

	init, msg1, err := NewInitiator(initStatic)
	require.NoError(t, err)
	assert.Equal(t, StateInitiatorWaiting2, init.State())

	resp := NewResponder(respStatic)
	msg2, err := resp.ReadMessage1(msg1)
	require.NoError(t, err)
	assert.Equal(t, StateResponderWaiting3, resp.State())

	msg3, err := init.ReadMessage2(msg2)
	require.NoError(t, err)
	assert.Equal(t, StateInitiatorWaitingDone, init.State())
	require.NoError(t, init.Finish())

	require.NoError(t, resp.ReadMessage3(msg3))
	assert.Equal(t, StateComplete, init.State())
	assert.Equal(t, StateComplete, resp.State())
	return init, resp
}

func TestHandshakeDerivesMatchingKeys(t *testing.T) {
	initStatic, respStatic := mustKeyPair(t), mustKeyPair(t)
	init, resp := runHandshake(t, initStatic, respStatic)

	iSend, iRecv, err := init.Keys()
	require.NoError(t, err)
	rSend, rRecv, err := resp.Keys()
	require.NoError(t, err)

	assert.Equal(t, iSend, rRecv)
	assert.Equal(t, iRecv, rSend)
	assert.NotEqual(t, iSend, iRecv)

	// Both sides authenticated each other's statics.
	assert.Equal(t, respStatic.Public, init.RemoteStatic())
	assert.Equal(t, initStatic.Public, resp.RemoteStatic())
}

func TestHandshakeForwardSecrecy(t *testing.T) {
	// Two handshakes between the same static pair must yield different
	// session keys, and a third session cannot open their traffic.
	a, b := mustKeyPair(t), mustKeyPair(t)

	i1, _ := runHandshake(t, a, b)
	i2, _ := runHandshake(t, a, b)
	i3, _ := runHandshake(t, a, b)

	s1, _, _ := i1.Keys()
	s2, _, _ := i2.Keys()
	s3, _, _ := i3.Keys()
	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, s1, s3)

	nonce := crypto.SessionNonce(0)
	ct, err := crypto.SealX(s1, nonce[:], nil, []byte("secret"))
	require.NoError(t, err)
	_, err = crypto.OpenX(s3, nonce[:], nil, ct)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestTamperedMessage2Fails(t *testing.T) {
	init, msg1, err := NewInitiator(mustKeyPair(t))
	require.NoError(t, err)
	resp := NewResponder(mustKeyPair(t))
	msg2, err := resp.ReadMessage1(msg1)
	require.NoError(t, err)

	msg2[40] ^= 0x01
	_, err = init.ReadMessage2(msg2)
	assert.ErrorIs(t, err, ErrTampered)
	assert.Equal(t, StateFailed, init.State())
}

func TestTamperedMessage3Fails(t *testing.T) {
	init, msg1, err := NewInitiator(mustKeyPair(t))
	require.NoError(t, err)
	resp := NewResponder(mustKeyPair(t))
	msg2, err := resp.ReadMessage1(msg1)
	require.NoError(t, err)
	msg3, err := init.ReadMessage2(msg2)
	require.NoError(t, err)

	msg3[10] ^= 0x01
	err = resp.ReadMessage3(msg3)
	assert.ErrorIs(t, err, ErrTampered)
	assert.Equal(t, StateFailed, resp.State())
}

func TestTruncatedMessagesRejected(t *testing.T) {
	resp := NewResponder(mustKeyPair(t))
	_, err := resp.ReadMessage1(make([]byte, Message1Size-1))
	assert.ErrorIs(t, err, ErrTooShort)
	assert.Equal(t, StateFailed, resp.State())

	init, _, err := NewInitiator(mustKeyPair(t))
	require.NoError(t, err)
	_, err = init.ReadMessage2(make([]byte, Message2Size-1))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestOutOfStateMessagesRejected(t *testing.T) {
	// A responder fed message 3 before message 1 fails.
	resp := NewResponder(mustKeyPair(t))
	err := resp.ReadMessage3(make([]byte, Message3Size))
	assert.ErrorIs(t, err, ErrInvalidState)

	// An initiator fed message 1 fails.
	init, msg1, err := NewInitiator(mustKeyPair(t))
	require.NoError(t, err)
	_, err = init.ReadMessage1(msg1)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestManagerCompletesExchange(t *testing.T) {
	aStatic, bStatic := mustKeyPair(t), mustKeyPair(t)
	a := NewManager(aStatic, time.Minute)
	b := NewManager(bStatic, time.Minute)

	msg1, await, err := a.Initiate(b.LocalID())
	require.NoError(t, err)
	require.NotNil(t, msg1)

	msg2, err := b.HandleInit(a.LocalID(), msg1)
	require.NoError(t, err)

	var msg3 []byte
	aRes, err := a.HandleResponse(b.LocalID(), msg2, func(m []byte) error {
		msg3 = m
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, aRes)

	bRes, err := b.HandleFinal(a.LocalID(), msg3)
	require.NoError(t, err)

	assert.Equal(t, aRes.SendKey, bRes.RecvKey)
	assert.Equal(t, aRes.RecvKey, bRes.SendKey)
	assert.Equal(t, bStatic.Public, aRes.RemoteStatic)
	assert.Equal(t, aStatic.Public, bRes.RemoteStatic)

	out := <-await
	require.NoError(t, out.Err)
	assert.Equal(t, aRes.SendKey, out.Result.SendKey)

	assert.False(t, a.Pending(b.LocalID()))
	assert.False(t, b.Pending(a.LocalID()))
}

func TestManagerSecondInitiateAttaches(t *testing.T) {
	m := NewManager(mustKeyPair(t), time.Minute)

	msg1, _, err := m.Initiate("peer")
	require.NoError(t, err)
	require.NotNil(t, msg1)

	again, await2, err := m.Initiate("peer")
	require.NoError(t, err)
	assert.Nil(t, again, "in-flight attempt must not emit a second message 1")

	require.NoError(t, m.Cancel("peer"))
	out := <-await2
	assert.ErrorIs(t, out.Err, ErrCancelled)
}

func TestManagerTimeout(t *testing.T) {
	m := NewManager(mustKeyPair(t), 50*time.Millisecond)
	_, await, err := m.Initiate("peer")
	require.NoError(t, err)

	out := <-await
	assert.ErrorIs(t, out.Err, ErrTimeout)
	assert.Equal(t, 0, m.PendingCount())
}

func TestManagerTieBreak(t *testing.T) {
	// Both sides initiate toward each other. Exactly one must yield to
	// the responder role; the other rejects the crossing INIT.
	a := NewManager(mustKeyPair(t), time.Minute)
	b := NewManager(mustKeyPair(t), time.Minute)

	lower, higher := a, b
	if a.LocalID() > b.LocalID() {
		lower, higher = b, a
	}

	lowMsg1, lowAwait, err := lower.Initiate(higher.LocalID())
	require.NoError(t, err)
	highMsg1, highAwait, err := higher.Initiate(lower.LocalID())
	require.NoError(t, err)

	// Higher side sees the lower side's INIT and keeps its own attempt.
	_, err = higher.HandleInit(lower.LocalID(), lowMsg1)
	assert.ErrorIs(t, err, ErrInProgress)

	// Lower side sees the higher side's INIT, yields, and responds.
	msg2, err := lower.HandleInit(higher.LocalID(), highMsg1)
	require.NoError(t, err)

	var msg3 []byte
	highRes, err := higher.HandleResponse(lower.LocalID(), msg2, func(m []byte) error {
		msg3 = m
		return nil
	})
	require.NoError(t, err)
	lowRes, err := lower.HandleFinal(higher.LocalID(), msg3)
	require.NoError(t, err)

	assert.Equal(t, highRes.SendKey, lowRes.RecvKey)
	assert.Equal(t, highRes.RecvKey, lowRes.SendKey)

	// Both awaits resolve with the shared completion.
	high := <-highAwait
	require.NoError(t, high.Err)
	low := <-lowAwait
	require.NoError(t, low.Err)
	assert.Equal(t, high.Result.SendKey, low.Result.RecvKey)
}

func TestManagerFailedHandshakeNotifies(t *testing.T) {
	m := NewManager(mustKeyPair(t), time.Minute)
	var failedPeer string
	m.OnFailed = func(peerID string, err error) { failedPeer = peerID }

	// Responder receives a valid INIT then a tampered FINAL.
	other, msg1, err := NewInitiator(mustKeyPair(t))
	require.NoError(t, err)
	msg2, err := m.HandleInit("attacker", msg1)
	require.NoError(t, err)
	msg3, err := other.ReadMessage2(msg2)
	require.NoError(t, err)

	msg3[0] ^= 0xff
	_, err = m.HandleFinal("attacker", msg3)
	assert.ErrorIs(t, err, ErrTampered)
	assert.Equal(t, "attacker", failedPeer)
	assert.False(t, m.Pending("attacker"))
}
