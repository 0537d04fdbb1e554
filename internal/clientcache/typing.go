package clientcache

import (
	"sync"
	"time"
)

// DefaultDebounce is the minimum gap between outgoing typing signals
// per peer.
const DefaultDebounce = 2 * time.Second

// Typist debounces outgoing typing signals: a burst of local edits
// collapses to at most one transmission per window. "Stopped" is
// implicit; the signal is simply not renewed and the receiving side
// times the indicator out on its own.
type Typist struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	send   func(peerID int64)
	last   map[int64]time.Time
}

func NewTypist(window time.Duration, send func(peerID int64)) *Typist {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Typist{
		window: window,
		now:    time.Now,
		send:   send,
		last:   make(map[int64]time.Time),
	}
}

// Touch is called on every local edit. The first edit in a window
// transmits; the rest are suppressed.
func (t *Typist) Touch(peerID int64) {
	t.mu.Lock()
	last, ok := t.last[peerID]
	now := t.now()
	if ok && now.Sub(last) < t.window {
		t.mu.Unlock()
		return
	}
	t.last[peerID] = now
	t.mu.Unlock()

	t.send(peerID)
}
