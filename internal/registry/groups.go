package registry

import (
	"sync"

	"github.com/feckardt/hublifetime/internal/hubcore"
)

// GroupEntry is the local view of one group: the locally terminated
// connections in it, plus the mutex that serializes membership changes
// against the group's broker subscribe/unsubscribe lifecycle. The mutex is
// held across the broker await, so concurrent adds to the *same* group
// serialize while adds to different groups proceed in parallel.
type GroupEntry struct {
	mu          sync.Mutex
	connections map[string]hubcore.ConnectionHandle
	subscribed  bool
}

// newGroupEntry returns an empty, not-yet-subscribed entry.
func newGroupEntry() *GroupEntry {
	return &GroupEntry{connections: make(map[string]hubcore.ConnectionHandle)}
}

// Lock/Unlock expose the entry's mutex to the lifetime manager so it can
// hold it across the broker subscribe/unsubscribe call, per the
// concurrency model in spec.md §5.
func (g *GroupEntry) Lock()   { g.mu.Lock() }
func (g *GroupEntry) Unlock() { g.mu.Unlock() }

// Count returns the number of locally terminated connections in the group.
// Callers must hold the entry's lock.
func (g *GroupEntry) Count() int {
	return len(g.connections)
}

// Add inserts c into the group. Callers must hold the entry's lock.
func (g *GroupEntry) Add(c hubcore.ConnectionHandle) {
	g.connections[c.ConnectionID()] = c
}

// Remove deletes connectionID from the group. Callers must hold the
// entry's lock.
func (g *GroupEntry) Remove(connectionID string) {
	delete(g.connections, connectionID)
}

// Subscribed reports whether the entry currently believes it holds a
// broker subscription. Callers must hold the entry's lock.
func (g *GroupEntry) Subscribed() bool { return g.subscribed }

// SetSubscribed records the entry's subscription state. Callers must hold
// the entry's lock.
func (g *GroupEntry) SetSubscribed(v bool) { g.subscribed = v }

// Snapshot returns the group's locally terminated connections. Callers
// must hold the entry's lock; the returned slice is safe to use after
// releasing it.
func (g *GroupEntry) Snapshot() []hubcore.ConnectionHandle {
	out := make([]hubcore.ConnectionHandle, 0, len(g.connections))
	for _, c := range g.connections {
		out = append(out, c)
	}
	return out
}

// GroupRegistry is the concurrent map from broker channel (one per group
// name) to GroupEntry. Per the documented memory-leak tradeoff (spec.md
// §9), empty entries are retained rather than removed: the next
// AddGroupCore on the same group name re-subscribes the retained entry.
type GroupRegistry struct {
	mu      sync.RWMutex
	entries map[string]*GroupEntry
}

// NewGroupRegistry returns an empty registry.
func NewGroupRegistry() *GroupRegistry {
	return &GroupRegistry{entries: make(map[string]*GroupEntry)}
}

// GetOrCreate returns the GroupEntry for channel, creating an empty one if
// none exists yet.
func (r *GroupRegistry) GetOrCreate(channel string) *GroupEntry {
	r.mu.RLock()
	entry, ok := r.entries[channel]
	r.mu.RUnlock()
	if ok {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[channel]; ok {
		return entry
	}
	entry = newGroupEntry()
	r.entries[channel] = entry
	return entry
}

// Get returns the GroupEntry for channel, if one has ever been created.
func (r *GroupRegistry) Get(channel string) (*GroupEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[channel]
	return entry, ok
}
