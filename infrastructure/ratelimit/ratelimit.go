// Package ratelimit governs the replication layer's per-peer outbound packet
// rate: a peer with a deep backlog of dirty entities gets its snapshot
// shaped to a steady cadence instead of bursting the transport in one tick.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config configures a PeerLimiter.
type Config struct {
	PacketsPerSecond float64
	Burst            int
}

// DefaultConfig matches the engine's default ReplicationTickRate (20 Hz),
// allowing a short burst for the initial full-state snapshot on join.
func DefaultConfig() Config {
	return Config{
		PacketsPerSecond: 20,
		Burst:            40,
	}
}

// PeerLimiter paces outbound packets to one TransportPeer.
type PeerLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	config  Config
}

// New creates a PeerLimiter from cfg, applying defaults for zero values.
func New(cfg Config) *PeerLimiter {
	if cfg.PacketsPerSecond <= 0 {
		cfg.PacketsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.PacketsPerSecond * 2)
	}
	return &PeerLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.PacketsPerSecond), cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether a packet may be sent to this peer right now.
func (p *PeerLimiter) Allow() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limiter.Allow()
}

// Wait blocks until the peer's send budget admits one more packet, or ctx
// is cancelled.
func (p *PeerLimiter) Wait(ctx context.Context) error {
	p.mu.RLock()
	limiter := p.limiter
	p.mu.RUnlock()
	return limiter.Wait(ctx)
}

// Reset restores the peer's budget to a fresh burst, used after a
// reconnect so a rejoining peer isn't penalized for its prior backlog.
func (p *PeerLimiter) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter = rate.NewLimiter(rate.Limit(p.config.PacketsPerSecond), p.config.Burst)
}
