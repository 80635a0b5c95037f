// Package prometheus implements the metrics.Recorder over Prometheus
// counters and gauges.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the Prometheus-backed metrics.Recorder.
type Recorder struct {
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	relayed        prometheus.Counter
	dropped        *prometheus.CounterVec
	dedupChecks    *prometheus.CounterVec
	handshakes     *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	cacheOps       *prometheus.CounterVec

	peers             prometheus.Gauge
	routes            prometheus.Gauge
	pendingHandshakes prometheus.Gauge
	cacheEntries      prometheus.Gauge
}

// NewRecorder registers the peerwave collectors with reg and returns the
// recorder. Pass prometheus.DefaultRegisterer for the default registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "frames_received_total",
			Help: "Inbound frames by message type.",
		}, []string{"type"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "frames_sent_total",
			Help: "Outbound frames by message type.",
		}, []string{"type"}),
		relayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "messages_relayed_total",
			Help: "Frames forwarded onward through the mesh.",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "messages_dropped_total",
			Help: "Frames dropped, by reason.",
		}, []string{"reason"}),
		dedupChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "dedup_checks_total",
			Help: "Duplicate-detector probes, by outcome.",
		}, []string{"outcome"}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "handshakes_total",
			Help: "Handshake outcomes.",
		}, []string{"outcome"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "sessions_total",
			Help: "Session lifecycle transitions.",
		}, []string{"event"}),
		cacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwave", Name: "cache_operations_total",
			Help: "Store-and-forward operations.",
		}, []string{"op"}),
		peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peerwave", Name: "peers",
			Help: "Known peers.",
		}),
		routes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peerwave", Name: "routes",
			Help: "Route table entries.",
		}),
		pendingHandshakes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peerwave", Name: "pending_handshakes",
			Help: "Handshakes in flight.",
		}),
		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "peerwave", Name: "cache_entries",
			Help: "Store-and-forward entries held.",
		}),
	}
}

func (r *Recorder) FrameReceived(msgType string) { r.framesReceived.WithLabelValues(msgType).Inc() }
func (r *Recorder) FrameSent(msgType string)     { r.framesSent.WithLabelValues(msgType).Inc() }
func (r *Recorder) MessageRelayed()              { r.relayed.Inc() }
func (r *Recorder) MessageDropped(reason string) { r.dropped.WithLabelValues(reason).Inc() }

func (r *Recorder) DedupCheck(duplicate bool) {
	outcome := "miss"
	if duplicate {
		outcome = "duplicate"
	}
	r.dedupChecks.WithLabelValues(outcome).Inc()
}

func (r *Recorder) HandshakeCompleted() { r.handshakes.WithLabelValues("complete").Inc() }
func (r *Recorder) HandshakeFailed()    { r.handshakes.WithLabelValues("failed").Inc() }

func (r *Recorder) SessionEstablished() { r.sessions.WithLabelValues("established").Inc() }
func (r *Recorder) SessionRemoved()     { r.sessions.WithLabelValues("removed").Inc() }

func (r *Recorder) CacheStored()    { r.cacheOps.WithLabelValues("stored").Inc() }
func (r *Recorder) CacheDelivered() { r.cacheOps.WithLabelValues("delivered").Inc() }
func (r *Recorder) CacheEvicted()   { r.cacheOps.WithLabelValues("evicted").Inc() }

func (r *Recorder) SetPeers(n int)             { r.peers.Set(float64(n)) }
func (r *Recorder) SetRoutes(n int)            { r.routes.Set(float64(n)) }
func (r *Recorder) SetPendingHandshakes(n int) { r.pendingHandshakes.Set(float64(n)) }
func (r *Recorder) SetCacheEntries(n int)      { r.cacheEntries.Set(float64(n)) }
