package sim

// Ticker is a deterministic next-fire-time helper for periodic work driven
// off the simulated clock (advertising intervals, time-sync rounds, gossip).
// Unlike ShouldIntervalTrigger it carries its own state, so a caller that
// can't reconstruct the previous tick's timestamp (or that fires from
// multiple places) still gets exactly one Due per interval boundary.
type Ticker struct {
	intervalMs uint64
	nextMs     uint64
}

// NewTicker returns a Ticker firing every intervalMs of simulated time; an
// interval of 0 never fires.
func NewTicker(intervalMs uint64) *Ticker {
	return &Ticker{intervalMs: intervalMs}
}

// Due reports whether the interval boundary has been reached and, if so,
// advances the next fire time to the following boundary. At most one true
// per interval regardless of how often it is polled.
func (t *Ticker) Due(nowMs uint64) bool {
	if t.intervalMs == 0 || nowMs < t.nextMs {
		return false
	}
	t.nextMs = nowMs - nowMs%t.intervalMs + t.intervalMs
	return true
}
