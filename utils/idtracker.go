package utils

import "sync"

// IDTracker remembers item identifiers already seen in a run
type IDTracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewIDTracker creates a new tracker
func NewIDTracker() *IDTracker {
	return &IDTracker{seen: make(map[string]struct{})}
}

// Add returns true if the ID is new (not seen before), false if duplicate
func (t *IDTracker) Add(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.seen[id]; exists {
		return false
	}
	t.seen[id] = struct{}{}
	return true
}
