// Package api exposes the node's observability surface over HTTP: a
// health probe, a JSON status snapshot, and the Prometheus metrics
// endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peerwave/peerwave/internal/logger"
	"github.com/peerwave/peerwave/pkg/node"
)

// Server serves /healthz, /statusz, and /metrics.
type Server struct {
	node *node.Node
	srv  *http.Server
}

// NewServer builds the HTTP server around a node.
func NewServer(addr string, n *node.Node) *Server {
	s := &Server{node: n}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/statusz", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start listens in a background goroutine.
func (s *Server) Start() {
	go func() {
		logger.Info("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", logger.Err(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.node.State()
	if state == node.StateActive || state == node.StateReady {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	http.Error(w, state.String(), http.StatusServiceUnavailable)
}

// statusResponse is the /statusz body.
type statusResponse struct {
	PeerID        string        `json:"peer_id"`
	State         string        `json:"state"`
	Peers         []peerStatus  `json:"peers"`
	Routes        []routeStatus `json:"routes"`
	Dedup         dedupStatus   `json:"dedup"`
	Cache         cacheStatus   `json:"cache"`
	InvalidFrames uint64        `json:"invalid_frames"`
	DroppedEvents uint64        `json:"dropped_events"`
}

type peerStatus struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	State       string `json:"state"`
	HopDistance uint8  `json:"hop_distance"`
	LastSeen    string `json:"last_seen"`
}

type routeStatus struct {
	Destination string `json:"destination"`
	NextHop     string `json:"next_hop"`
	HopCount    uint8  `json:"hop_count"`
	ExpiresAt   string `json:"expires_at"`
}

type dedupStatus struct {
	Checks            uint64  `json:"checks"`
	Duplicates        uint64  `json:"duplicates"`
	Resets            uint64  `json:"resets"`
	FillRatio         float64 `json:"fill_ratio"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

type cacheStatus struct {
	Entries    int    `json:"entries"`
	Recipients int    `json:"recipients"`
	Delivered  uint64 `json:"delivered"`
	Evicted    uint64 `json:"evicted"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ds := s.node.DedupStats()
	cs := s.node.CacheStats()

	resp := statusResponse{
		PeerID:        s.node.PeerID(),
		State:         s.node.State().String(),
		Dedup:         dedupStatus{ds.Checks, ds.Duplicates, ds.Resets, ds.FillRatio, ds.FalsePositiveRate},
		Cache:         cacheStatus{cs.Entries, cs.Recipients, cs.Delivered, cs.Evicted},
		InvalidFrames: s.node.InvalidFrames(),
		DroppedEvents: s.node.DroppedEvents(),
	}
	for _, p := range s.node.Peers() {
		resp.Peers = append(resp.Peers, peerStatus{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			State:       p.State.String(),
			HopDistance: p.HopDistance,
			LastSeen:    p.LastSeen.Format(time.RFC3339),
		})
	}
	for _, rt := range s.node.Routes() {
		resp.Routes = append(resp.Routes, routeStatus{
			Destination: rt.Destination,
			NextHop:     rt.NextHop,
			HopCount:    rt.HopCount,
			ExpiresAt:   rt.ExpiresAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Debug("status encode failed", logger.Err(err))
	}
}
