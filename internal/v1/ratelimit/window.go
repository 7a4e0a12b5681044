// Package ratelimit implements the relay's two rate limits: a per-member
// sliding window over relayed frames, and a per-IP gate on upgrade attempts.
package ratelimit

import "time"

// Window is a sliding-window limiter admitting at most limit events per
// window duration. It keeps a ring buffer of the last limit admit times:
// an event is admitted iff the buffer is not full or its oldest entry has
// fallen out of the window.
//
// A Window is owned by a single member's read loop and is not safe for
// concurrent use.
type Window struct {
	limit  int
	window time.Duration
	times  []time.Time
	head   int // index of the oldest retained admit
	count  int
}

// NewWindow creates a sliding window admitting limit events per window.
func NewWindow(limit int, window time.Duration) *Window {
	if limit < 1 {
		limit = 1
	}
	return &Window{
		limit:  limit,
		window: window,
		times:  make([]time.Time, limit),
	}
}

// Allow reports whether an event at now is admitted, recording it if so.
// Admit timestamps exactly window old no longer count against the limit.
func (w *Window) Allow(now time.Time) bool {
	for w.count > 0 && now.Sub(w.times[w.head]) >= w.window {
		w.head = (w.head + 1) % w.limit
		w.count--
	}

	if w.count >= w.limit {
		return false
	}

	tail := (w.head + w.count) % w.limit
	w.times[tail] = now
	w.count++
	return true
}

// Len returns the number of admits still inside the window as of the last
// Allow call.
func (w *Window) Len() int {
	return w.count
}
