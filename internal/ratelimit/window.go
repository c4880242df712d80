// Package ratelimit enforces sliding-window request limits and the daily
// GPU quota.
package ratelimit

import (
	"time"
)

// Window is a sliding-window counter. It is not safe for concurrent use;
// the Limiter serialises access.
type Window struct {
	Limit    int
	Duration time.Duration
	requests []time.Time
}

// NewWindow creates a window allowing limit requests per duration.
func NewWindow(limit int, d time.Duration) *Window {
	return &Window{Limit: limit, Duration: d}
}

func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.Duration)
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}
}

// Allow records a request at now if the window has room.
func (w *Window) Allow(now time.Time) bool {
	w.prune(now)
	if len(w.requests) < w.Limit {
		w.requests = append(w.requests, now)
		return true
	}
	return false
}

// Remaining returns the free slots at now.
func (w *Window) Remaining(now time.Time) int {
	w.prune(now)
	if r := w.Limit - len(w.requests); r > 0 {
		return r
	}
	return 0
}

// RetryAfter returns the seconds, rounded up, until the oldest request
// leaves the window. A full window always reports at least 1.
func (w *Window) RetryAfter(now time.Time) int {
	w.prune(now)
	if len(w.requests) < w.Limit || len(w.requests) == 0 {
		return 0
	}
	until := w.requests[0].Add(w.Duration).Sub(now)
	secs := int((until + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Empty reports whether the window holds no live requests at now.
func (w *Window) Empty(now time.Time) bool {
	w.prune(now)
	return len(w.requests) == 0
}
