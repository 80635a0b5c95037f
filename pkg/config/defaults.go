package config

import (
	"strings"
	"time"

	"github.com/peerwave/peerwave/internal/bytesize"
)

// Protocol defaults. All configurable at construction.
const (
	DefaultMaxHops              = 7
	DefaultMessageTTL           = 5 * time.Minute
	DefaultMTU                  = 512
	DefaultReassemblyTimeout    = 30 * time.Second
	DefaultCompressionThreshold = 128

	DefaultBloomSize     = 8192 * 8
	DefaultHashCount     = 4
	DefaultLRUCapacity   = 1000
	DefaultFillThreshold = 0.75
	DefaultGracePeriod   = 60 * time.Second

	DefaultMaxRoutes        = 1000
	DefaultRouteTimeout     = 5 * time.Minute
	DefaultDiscoveryTimeout = 10 * time.Second
	DefaultCleanupInterval  = 30 * time.Second

	DefaultHandshakeTimeout = 30 * time.Second

	DefaultSessionMaxAge      = 24 * time.Hour
	DefaultSessionMaxMessages = 1_000_000

	DefaultCacheRetention       = 12 * time.Hour
	DefaultCacheMaxPerRecipient = 100
	DefaultCacheMaxTotal        = 1000
	DefaultCacheMaxPayloadSize  = 64 * bytesize.KiB

	DefaultMaxPeers    = 100
	DefaultPeerTimeout = 10 * time.Minute

	DefaultMetricsListenAddress = "127.0.0.1:9477"

	DefaultShutdownTimeout = 30 * time.Second
)

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in any unset field. Zero values are replaced;
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMeshDefaults(&cfg.Mesh)
	applyDedupDefaults(&cfg.Dedup)
	applyRoutesDefaults(&cfg.Routes)
	applyHandshakeDefaults(&cfg.Handshake)
	applySessionDefaults(&cfg.Session)
	applyCacheDefaults(&cfg.Cache)
	applyPeersDefaults(&cfg.Peers)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.EventQueueSize == 0 {
		cfg.EventQueueSize = 256
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyMeshDefaults(cfg *MeshConfig) {
	if cfg.MaxHops == 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.MessageTTL == 0 {
		cfg.MessageTTL = DefaultMessageTTL
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.ReassemblyTimeout == 0 {
		cfg.ReassemblyTimeout = DefaultReassemblyTimeout
	}
	if cfg.CompressionThreshold == 0 {
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
}

func applyDedupDefaults(cfg *DedupConfig) {
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
}

func applyRoutesDefaults(cfg *RoutesConfig) {
	if cfg.MaxRoutes == 0 {
		cfg.MaxRoutes = DefaultMaxRoutes
	}
	if cfg.RouteTimeout == 0 {
		cfg.RouteTimeout = DefaultRouteTimeout
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
}

func applyHandshakeDefaults(cfg *HandshakeConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHandshakeTimeout
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultSessionMaxAge
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = DefaultSessionMaxMessages
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Retention == 0 {
		cfg.Retention = DefaultCacheRetention
	}
	if cfg.MaxPerRecipient == 0 {
		cfg.MaxPerRecipient = DefaultCacheMaxPerRecipient
	}
	if cfg.MaxTotal == 0 {
		cfg.MaxTotal = DefaultCacheMaxTotal
	}
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = DefaultCacheMaxPayloadSize
	}
}

func applyPeersDefaults(cfg *PeersConfig) {
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = DefaultMaxPeers
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultMetricsListenAddress
	}
}
