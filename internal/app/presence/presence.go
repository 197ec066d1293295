// Package presence tracks which users currently hold at least one live
// gateway connection. State is a per-user reference count, never persisted;
// only the last-seen timestamp survives a restart.
package presence

import "sync"

// Tracker ref-counts live connections per user. It is injected into the
// gateway rather than shared through package state.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Register counts a new connection and reports whether the user just came
// online (first live connection).
func (t *Tracker) Register(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[userID]++
	return t.counts[userID] == 1
}

// Unregister drops a connection and reports whether the user went offline
// (no connections left).
func (t *Tracker) Unregister(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.counts[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.counts, userID)
		return true
	}
	t.counts[userID] = n - 1
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID] > 0
}

// OnlineCount returns the number of distinct online users.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}
