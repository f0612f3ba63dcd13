// Package presence tracks user availability for friend lists and status
// queries. Writers are the ws layer (connect/disconnect) and the
// matchmaking coordinator (match start/end); readers are HTTP status
// handlers, so the map is guarded for concurrent access.
package presence

import "sync"

type Status string

const (
	StatusOnline       Status = "online"
	StatusOffline      Status = "offline"
	StatusInGame       Status = "in-game"
	StatusInTournament Status = "in-tournament"
)

type Tracker struct {
	mu     sync.RWMutex
	status map[string]Status
}

func NewTracker() *Tracker {
	return &Tracker{status: make(map[string]Status)}
}

// Set records a user's status. Empty user ids (guests) are ignored.
func (t *Tracker) Set(userID string, s Status) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == StatusOffline {
		delete(t.status, userID)
		return
	}
	t.status[userID] = s
}

// NotifyStatusChange satisfies the matchmaking coordinator's notifier
// contract.
func (t *Tracker) NotifyStatusChange(userID string, s Status) {
	t.Set(userID, s)
}

// Get returns a user's current status; unknown users are offline.
func (t *Tracker) Get(userID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.status[userID]; ok {
		return s
	}
	return StatusOffline
}
