// Package metrics defines the recorder interface the node reports into.
// The prometheus subpackage provides the production implementation; the
// Nop recorder keeps the hot path allocation-free when metrics are off.
package metrics

// Recorder receives node-level measurements.
type Recorder interface {
	FrameReceived(msgType string)
	FrameSent(msgType string)
	MessageRelayed()
	MessageDropped(reason string)
	DedupCheck(duplicate bool)
	HandshakeCompleted()
	HandshakeFailed()
	SessionEstablished()
	SessionRemoved()
	CacheStored()
	CacheDelivered()
	CacheEvicted()
	SetPeers(n int)
	SetRoutes(n int)
	SetPendingHandshakes(n int)
	SetCacheEntries(n int)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) FrameReceived(string)    {}
func (Nop) FrameSent(string)        {}
func (Nop) MessageRelayed()         {}
func (Nop) MessageDropped(string)   {}
func (Nop) DedupCheck(bool)         {}
func (Nop) HandshakeCompleted()     {}
func (Nop) HandshakeFailed()        {}
func (Nop) SessionEstablished()     {}
func (Nop) SessionRemoved()         {}
func (Nop) CacheStored()            {}
func (Nop) CacheDelivered()         {}
func (Nop) CacheEvicted()           {}
func (Nop) SetPeers(int)            {}
func (Nop) SetRoutes(int)           {}
func (Nop) SetPendingHandshakes(int) {}
func (Nop) SetCacheEntries(int)     {}
