// Package playback turns audio (or wall-clock time) into a playhead in
// milliseconds that the animation samples once per display frame.
package playback

import (
	"sync"
	"time"
)

// FrameID identifies a pending frame callback.
type FrameID uint64

// FrameScheduler queues work for the next display frame.
type FrameScheduler interface {
	RequestFrame(fn func(now time.Time)) FrameID
	CancelFrame(id FrameID)
}

type frameRequest struct {
	id FrameID
	fn func(now time.Time)
}

// FrameLoop is a FrameScheduler driven by the render loop, which calls Tick
// once per frame. Callbacks requested while a tick runs are deferred to the
// following tick.
type FrameLoop struct {
	mu      sync.Mutex
	nextID  FrameID
	queue   []frameRequest
	pending map[FrameID]struct{}
}

// NewFrameLoop creates an empty loop.
func NewFrameLoop() *FrameLoop {
	return &FrameLoop{pending: make(map[FrameID]struct{})}
}

// RequestFrame schedules fn for the next Tick.
func (l *FrameLoop) RequestFrame(fn func(now time.Time)) FrameID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.queue = append(l.queue, frameRequest{id: id, fn: fn})
	l.pending[id] = struct{}{}
	return id
}

// CancelFrame drops a pending callback. Unknown or already run ids are ignored.
func (l *FrameLoop) CancelFrame(id FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, id)
}

// Pending reports how many callbacks are waiting for the next tick.
func (l *FrameLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Tick runs the callbacks queued before this call, in request order, and
// returns how many ran.
func (l *FrameLoop) Tick(now time.Time) int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	ran := 0
	for _, req := range batch {
		l.mu.Lock()
		_, live := l.pending[req.id]
		delete(l.pending, req.id)
		l.mu.Unlock()

		if !live {
			continue
		}
		req.fn(now)
		ran++
	}
	return ran
}
