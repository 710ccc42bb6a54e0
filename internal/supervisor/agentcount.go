package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/fleetgrid/backend/internal/rules"
)

// AgentCounter maintains the rolling count of distinct vehicles seen
// per window. Every tick rotates the window and, once two windows have
// completed, latches a (previous, current) pair that the next processed
// frame consumes. The latch holds at most one pair, so the dropout rule
// can fire at most once per window transition.
type AgentCounter struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	lastCount int
	prevCount int
	completed int // windows rotated so far

	pending *rules.AgentCounts
}

// NewAgentCounter creates an empty counter.
func NewAgentCounter() *AgentCounter {
	return &AgentCounter{seen: make(map[string]struct{})}
}

// Observe records that vehicleID was active in the current window.
func (c *AgentCounter) Observe(vehicleID string) {
	c.mu.Lock()
	c.seen[vehicleID] = struct{}{}
	c.mu.Unlock()
}

// Tick closes the current window. After at least two windows have
// completed, the transition (previous, current) is latched for the next
// frame.
func (c *AgentCounter) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prevCount = c.lastCount
	c.lastCount = len(c.seen)
	c.seen = make(map[string]struct{})
	c.completed++

	if c.completed >= 2 {
		c.pending = &rules.AgentCounts{
			Current:  c.lastCount,
			Previous: c.prevCount,
		}
	}
}

// Take consumes the latched window transition, or returns nil when no
// unconsumed transition exists.
func (c *AgentCounter) Take() *rules.AgentCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

// Counts returns the completed-window counts for introspection.
func (c *AgentCounter) Counts() (current, previous int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCount, c.prevCount
}

// Run ticks the counter on the given cadence until ctx is done.
func (c *AgentCounter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Tick()
		}
	}
}
