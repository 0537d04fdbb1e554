// Package presence tracks which users currently hold a live relay
// connection. Entries are in-memory only; a process restart clears
// all presence.
package presence

import "sync"

// Handle is a live connection the directory can target. Send must not
// block; it reports whether the payload was accepted.
type Handle interface {
	Send(payload []byte) bool
}

// Directory maps user id to the single active connection handle. At
// most one live connection per user: a later Register displaces the
// earlier handle without closing it.
type Directory struct {
	mu    sync.RWMutex
	conns map[int64]Handle
}

func NewDirectory() *Directory {
	return &Directory{conns: make(map[int64]Handle)}
}

// Register installs h as the active handle for userID and returns the
// handle it displaced, if any.
func (d *Directory) Register(userID int64, h Handle) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.conns[userID]
	d.conns[userID] = h
	return prev
}

// Unregister removes the entry for userID only if h is still the
// active handle. A stale handle (already displaced by a reconnect) is
// a no-op, so it reports false and the user stays online.
func (d *Directory) Unregister(userID int64, h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.conns[userID]; ok && cur == h {
		delete(d.conns, userID)
		return true
	}
	return false
}

func (d *Directory) Lookup(userID int64) (Handle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.conns[userID]
	return h, ok
}

func (d *Directory) IsOnline(userID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.conns[userID]
	return ok
}

// Online returns the ids of all connected users, for the snapshot sent
// to a newly authenticated connection.
func (d *Directory) Online() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]int64, 0, len(d.conns))
	for id := range d.conns {
		ids = append(ids, id)
	}
	return ids
}

// Handles snapshots every live handle, for presence broadcasts.
func (d *Directory) Handles() []Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hs := make([]Handle, 0, len(d.conns))
	for _, h := range d.conns {
		hs = append(hs, h)
	}
	return hs
}
