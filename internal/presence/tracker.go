// Package presence tracks who is composing a message: an ephemeral
// inbound set of typing participants, and the outbound debounce for the
// session user's own typing indicator.
package presence

import (
	"sort"
	"sync"
)

// Tracker is the per-conversation set of other participants currently
// typing. The session user never appears in their own tracker; the engine
// filters self events by id before they reach Add.
type Tracker struct {
	mu     sync.RWMutex
	typing map[string]string // user id -> display name
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{typing: make(map[string]string)}
}

// Add records a participant as typing
func (t *Tracker) Add(userId, userName string) {
	if userId == "" {
		return
	}
	t.mu.Lock()
	t.typing[userId] = userName
	t.mu.Unlock()
}

// Remove clears a participant's typing state
func (t *Tracker) Remove(userId string) {
	t.mu.Lock()
	delete(t.typing, userId)
	t.mu.Unlock()
}

// Names returns the display names currently typing, sorted for stable
// rendering
func (t *Tracker) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.typing))
	for _, n := range t.typing {
		names = append(names, n)
	}
	t.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns how many participants are typing
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.typing)
}

// Reset empties the tracker. Called on conversation switch and teardown;
// typing state never survives either.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.typing = make(map[string]string)
	t.mu.Unlock()
}
