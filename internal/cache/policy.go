package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the entry expiration used when no override is configured,
// 7 days.
const DefaultTTL = 604800 * time.Second

// Policy is the process-wide cache switchboard. Every component consults
// it before touching the store: a disabled policy turns reads into
// unconditional misses and writes into no-ops that still report success,
// so calling code never has to branch on cache presence.
type Policy struct {
	mu      sync.RWMutex
	enabled bool
	ttl     time.Duration

	// construction-time defaults, restored by Reset
	defaultEnabled bool
	defaultTTL     time.Duration
}

// NewPolicy creates a policy with the given environment-derived defaults.
func NewPolicy(enabled bool, ttl time.Duration) *Policy {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Policy{
		enabled:        enabled,
		ttl:            ttl,
		defaultEnabled: enabled,
		defaultTTL:     ttl,
	}
}

// Enabled reports whether cache operations should run.
func (p *Policy) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// TTL returns the current default entry expiration.
func (p *Policy) TTL() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ttl
}

// Enable turns caching on.
func (p *Policy) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

// Disable turns caching off.
func (p *Policy) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// SetTTL overrides the default entry expiration.
func (p *Policy) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttl = ttl
}

// Reset restores the construction-time defaults.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = p.defaultEnabled
	p.ttl = p.defaultTTL
}
