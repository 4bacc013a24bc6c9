package watch

import "time"

// Heartbeat advances once per successful health poll. When no beat arrives
// within the stall window the header says so instead of animating.
type Heartbeat struct {
	frames []string
	index  int
	last   time.Time
}

func NewHeartbeat(now time.Time) Heartbeat {
	return Heartbeat{frames: []string{"◐", "◓", "◑", "◒"}, last: now}
}

func (h *Heartbeat) Beat(now time.Time) {
	h.index = (h.index + 1) % len(h.frames)
	h.last = now
}

func (h Heartbeat) Frame() string { return h.frames[h.index] }

// Stalled reports whether the last beat is older than window.
func (h Heartbeat) Stalled(now time.Time, window time.Duration) bool {
	return now.Sub(h.last) > window
}
