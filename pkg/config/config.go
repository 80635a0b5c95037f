// Package config loads and validates the peerwave configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (PEERWAVE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/peerwave/peerwave/internal/bytesize"
)

// Config is the full node configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Mesh tunes the forwarding engine.
	Mesh MeshConfig `mapstructure:"mesh" yaml:"mesh"`

	// Dedup tunes the duplicate detector.
	Dedup DedupConfig `mapstructure:"dedup" yaml:"dedup"`

	// Routes tunes the route table and discovery.
	Routes RoutesConfig `mapstructure:"routes" yaml:"routes"`

	// Handshake tunes the pairwise handshake.
	Handshake HandshakeConfig `mapstructure:"handshake" yaml:"handshake"`

	// Session bounds established sessions.
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Cache tunes the store-and-forward cache.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Peers bounds the peer registry.
	Peers PeersConfig `mapstructure:"peers" yaml:"peers"`

	// Identity locates the persistent identity store.
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`

	// Metrics configures the HTTP metrics/status endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// EventQueueSize bounds the event queue the application drains.
	EventQueueSize int `mapstructure:"event_queue_size" validate:"gte=0" yaml:"event_queue_size"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MeshConfig tunes the forwarding engine.
type MeshConfig struct {
	// MaxHops is the relay depth budget stamped on originated frames.
	MaxHops uint8 `mapstructure:"max_hops" validate:"required,gte=1" yaml:"max_hops"`

	// MessageTTL derives expires_at on originated frames.
	MessageTTL time.Duration `mapstructure:"message_ttl" validate:"required,gt=0" yaml:"message_ttl"`

	// MTU is the largest payload sent unfragmented.
	MTU int `mapstructure:"mtu" validate:"required,gte=64" yaml:"mtu"`

	// ReassemblyTimeout bounds partial fragment assemblies.
	ReassemblyTimeout time.Duration `mapstructure:"reassembly_timeout" validate:"required,gt=0" yaml:"reassembly_timeout"`

	// CompressionThreshold is the payload size above which compression is
	// attempted. 0 disables compression.
	CompressionThreshold int `mapstructure:"compression_threshold" yaml:"compression_threshold"`
}

// DedupConfig tunes the duplicate detector.
type DedupConfig struct {
	// BloomSize is the filter size in bits.
	BloomSize uint64 `mapstructure:"bloom_size" validate:"required,gte=64" yaml:"bloom_size"`

	// HashCount is the number of hash probes per id.
	HashCount int `mapstructure:"hash_count" validate:"required,gte=1,lte=16" yaml:"hash_count"`

	// LRUCapacity is the exact-match cache depth.
	LRUCapacity int `mapstructure:"lru_capacity" validate:"required,gte=1" yaml:"lru_capacity"`

	// FillThreshold triggers filter rotation.
	FillThreshold float64 `mapstructure:"fill_threshold" validate:"required,gt=0,lte=1" yaml:"fill_threshold"`

	// GracePeriod keeps the rotated-out filter answering.
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"required,gt=0" yaml:"grace_period"`
}

// RoutesConfig tunes the route table and discovery.
type RoutesConfig struct {
	// MaxRoutes bounds the table; exceeding it evicts the stalest entry.
	MaxRoutes int `mapstructure:"max_routes" validate:"required,gte=1" yaml:"max_routes"`

	// RouteTimeout is the validity window of an advertisement.
	RouteTimeout time.Duration `mapstructure:"route_timeout" validate:"required,gt=0" yaml:"route_timeout"`

	// DiscoveryTimeout bounds a route discovery wait.
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout" validate:"required,gt=0" yaml:"discovery_timeout"`

	// CleanupInterval is how often expired routes are swept.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"required,gt=0" yaml:"cleanup_interval"`
}

// HandshakeConfig tunes the pairwise handshake.
type HandshakeConfig struct {
	// Timeout fails a pending handshake that never completes.
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`
}

// SessionConfig bounds established sessions.
type SessionConfig struct {
	// MaxAge forces a re-handshake after this session age.
	MaxAge time.Duration `mapstructure:"max_age" validate:"required,gt=0" yaml:"max_age"`

	// MaxMessages forces a re-handshake after this many messages.
	MaxMessages uint64 `mapstructure:"max_messages" validate:"required,gte=1" yaml:"max_messages"`
}

// CacheConfig tunes the store-and-forward cache.
type CacheConfig struct {
	// Retention is how long a cached message waits for its recipient.
	Retention time.Duration `mapstructure:"retention" validate:"required,gt=0" yaml:"retention"`

	// MaxPerRecipient bounds one recipient's queue.
	MaxPerRecipient int `mapstructure:"max_per_recipient" validate:"required,gte=1" yaml:"max_per_recipient"`

	// MaxTotal bounds the cache across all recipients.
	MaxTotal int `mapstructure:"max_total" validate:"required,gte=1" yaml:"max_total"`

	// MaxPayloadSize caps one cached payload; accepts sizes like "64Ki".
	MaxPayloadSize bytesize.ByteSize `mapstructure:"max_payload_size" validate:"required" yaml:"max_payload_size"`
}

// PeersConfig bounds the peer registry.
type PeersConfig struct {
	// MaxPeers bounds the registry.
	MaxPeers int `mapstructure:"max_peers" validate:"required,gte=1" yaml:"max_peers"`

	// PeerTimeout drops peers not seen for this long.
	PeerTimeout time.Duration `mapstructure:"peer_timeout" validate:"required,gt=0" yaml:"peer_timeout"`
}

// IdentityConfig locates the persistent identity store.
type IdentityConfig struct {
	// StorePath is the badger directory for identity and session blobs.
	// Empty selects the in-memory store (identity lost on restart).
	StorePath string `mapstructure:"store_path" yaml:"store_path"`
}

// MetricsConfig configures the HTTP metrics/status endpoint.
type MetricsConfig struct {
	// Enabled starts the HTTP server.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddress is the host:port to bind.
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
}

// Load reads configuration from the given file path (optional), applies
// PEERWAVE_* environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PEERWAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		bytesize.DecodeHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := isValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config: field %q fails %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func isValidationErrors(err error, out *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*out = verrs
	}
	return ok
}
