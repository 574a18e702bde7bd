// Package config loads engine tuning parameters from the environment (and an
// optional .env file via godotenv): struct tags plus envdecode.Decode, not
// hand-rolled os.Getenv parsing.
package config

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// EngineConfig holds every engine tunable with its default.
type EngineConfig struct {
	// MaxThreads bounds the worker pool (default 8).
	MaxThreads int `env:"ECS_MAX_THREADS"`
	// CommandPoolCapacity is the per-closure-type pool size (default 1024).
	CommandPoolCapacity int `env:"ECS_COMMAND_POOL_CAPACITY"`
	// TileSize is the occlusion tile edge length in pixels (fixed 32).
	TileSize int `env:"ECS_TILE_SIZE"`
	// OcclusionBufferWidth/Height are the default oracle resolution (320x180).
	OcclusionBufferWidth  int `env:"ECS_OCCLUSION_BUFFER_WIDTH"`
	OcclusionBufferHeight int `env:"ECS_OCCLUSION_BUFFER_HEIGHT"`
	// OcclusionEpsilon biases depth comparisons against z-fighting (0.01).
	OcclusionEpsilon float64 `env:"ECS_OCCLUSION_EPSILON"`
	// OcclusionSampleCount is the per-AABB cull sample count (default 5).
	OcclusionSampleCount int `env:"ECS_OCCLUSION_SAMPLE_COUNT"`
	// FrustumCullingInterval throttles the multimesh frustum-culling system (default 16ms).
	FrustumCullingInterval time.Duration `env:"ECS_FRUSTUM_CULLING_INTERVAL"`
	// BatchModulus controls the multimesh per-tick flush fraction (default 50000).
	BatchModulus uint64 `env:"ECS_BATCH_MODULUS"`
	// ReplicationTickRate is the fixed replication tick frequency (default 20Hz).
	ReplicationTickRate float64 `env:"ECS_REPLICATION_TICK_RATE"`
	// InterpolationDelay is the fixed render-time lag for Interpolate components (default 100ms).
	InterpolationDelay time.Duration `env:"ECS_INTERPOLATION_DELAY"`
	// InterpolationBufferSize bounds the per-entity snapshot ring (default 32 entries).
	InterpolationBufferSize int `env:"ECS_INTERPOLATION_BUFFER_SIZE"`
	// SpawnBufferTicks is how long an unknown network_id is buffered before drop (default 5 ticks).
	SpawnBufferTicks int `env:"ECS_SPAWN_BUFFER_TICKS"`
	// HandshakeTimeout bounds a pending handshake (default 5s).
	HandshakeTimeout time.Duration `env:"ECS_HANDSHAKE_TIMEOUT"`
	// PendingSpawnTimeoutTicks is the implicit network-operation timeout (default 5 ticks).
	PendingSpawnTimeoutTicks int `env:"ECS_PENDING_SPAWN_TIMEOUT_TICKS"`
	// ProtocolVersion gates the handshake.
	ProtocolVersion uint8 `env:"ECS_PROTOCOL_VERSION"`
}

// Default returns the engine configuration with every default applied.
func Default() EngineConfig {
	return EngineConfig{
		MaxThreads:               8,
		CommandPoolCapacity:      1024,
		TileSize:                 32,
		OcclusionBufferWidth:     320,
		OcclusionBufferHeight:    180,
		OcclusionEpsilon:         0.01,
		OcclusionSampleCount:     5,
		FrustumCullingInterval:   16 * time.Millisecond,
		BatchModulus:             50000,
		ReplicationTickRate:      20,
		InterpolationDelay:       100 * time.Millisecond,
		InterpolationBufferSize:  32,
		SpawnBufferTicks:         5,
		HandshakeTimeout:         5 * time.Second,
		PendingSpawnTimeoutTicks: 5,
		ProtocolVersion:          1,
	}
}

// LoadFromEnv overlays environment variables (ECS_* prefix, see each field's
// env tag) onto the default configuration via envdecode. A .env file in the
// working directory is loaded first, if present. envdecode only assigns a
// field when its variable is both present and parseable, so an unset or
// malformed variable leaves that field at its Default() value.
func LoadFromEnv() EngineConfig {
	_ = godotenv.Load()

	cfg := Default()
	if err := envdecode.Decode(&cfg); err != nil && !strings.Contains(err.Error(), "no target field") {
		// A tagged field failed to parse; envdecode leaves it at its prior
		// value, so cfg is still safe to use as-is.
	}
	return cfg
}
