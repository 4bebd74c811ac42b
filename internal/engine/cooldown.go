package engine

import (
	"sync"
	"time"
)

// DefaultCooldownWindow is the default per-key trigger cooldown.
const DefaultCooldownWindow = 120 * time.Second

// Cooldown is a process-lifetime keyed cooldown map gating background runs.
// The key space is small (phone numbers, inbox identifiers) so entries are
// never evicted; state resets on restart, an accepted trade-off under the
// single-process deployment assumption. Not safe across multiple processes
// sharing trigger load.
type Cooldown struct {
	window  time.Duration
	mu      sync.Mutex
	lastRun map[string]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewCooldown creates a cooldown map with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldownWindow
	}
	return &Cooldown{
		window:  window,
		lastRun: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Allow reports whether a run may start for key, recording the start time
// when it may. A rejected attempt does not update the record, so a burst of
// rejections never extends the cooldown.
func (c *Cooldown) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.lastRun[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.lastRun[key] = now
	return true
}
