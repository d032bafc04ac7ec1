// Package registry holds the local connection registry and the per-group
// membership registry that back the lifetime manager's local-vs-remote
// delivery decisions.
package registry

import (
	"container/list"
	"strings"
	"sync"

	"github.com/feckardt/hublifetime/internal/hubcore"
)

// FeatureBag is the per-connection side-table the manager attaches to each
// registered ConnectionHandle: its subscribed broker channels and the
// groups it has joined. Both sets only mutate while mu is held.
type FeatureBag struct {
	mu            sync.Mutex
	subscriptions map[string]struct{}
	groups        map[string]string // lower-cased key -> name as joined
}

func newFeatureBag() *FeatureBag {
	return &FeatureBag{
		subscriptions: make(map[string]struct{}),
		groups:        make(map[string]string),
	}
}

// AddSubscription records that channel was subscribed to on behalf of this
// connection.
func (b *FeatureBag) AddSubscription(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[channel] = struct{}{}
}

// Subscriptions returns a snapshot of the channels subscribed for this
// connection.
func (b *FeatureBag) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subscriptions))
	for ch := range b.subscriptions {
		out = append(out, ch)
	}
	return out
}

func groupKey(groupName string) string {
	return strings.ToLower(groupName)
}

// AddGroup records groupName as joined; returns false if it was already
// present (AddGroupCore must be idempotent).
func (b *FeatureBag) AddGroup(groupName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(groupName)
	if _, ok := b.groups[key]; ok {
		return false
	}
	b.groups[key] = groupName
	return true
}

// RemoveGroup removes groupName; returns false if it was not present.
func (b *FeatureBag) RemoveGroup(groupName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(groupName)
	if _, ok := b.groups[key]; !ok {
		return false
	}
	delete(b.groups, key)
	return true
}

// Groups returns a snapshot of the joined group names, copied under the
// lock so OnDisconnected can iterate without holding it.
func (b *FeatureBag) Groups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.groups))
	for _, g := range b.groups {
		out = append(out, g)
	}
	return out
}

// entry pairs a registered handle with its feature bag.
type entry struct {
	handle   hubcore.ConnectionHandle
	features *FeatureBag
}

// ConnectionRegistry is the process-scoped connectionID -> ConnectionHandle
// map, with insertion-order iteration for SendAll's local fan-out.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	byID    map[string]*list.Element
	order   *list.List // list.Element.Value is *entry
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byID:  make(map[string]*list.Element),
		order: list.New(),
	}
}

// Add registers handle under its ConnectionID with a fresh feature bag. At
// most one handle may be registered per connection ID on a given server.
func (r *ConnectionRegistry) Add(handle hubcore.ConnectionHandle) *FeatureBag {
	features := newFeatureBag()
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.byID[handle.ConnectionID()]; ok {
		r.order.Remove(el)
	}
	el := r.order.PushBack(&entry{handle: handle, features: features})
	r.byID[handle.ConnectionID()] = el
	return features
}

// Remove deregisters connectionID, returning its feature bag if it was
// present.
func (r *ConnectionRegistry) Remove(connectionID string) (*FeatureBag, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.byID[connectionID]
	if !ok {
		return nil, false
	}
	delete(r.byID, connectionID)
	r.order.Remove(el)
	return el.Value.(*entry).features, true
}

// Get returns the locally registered handle for connectionID, if any.
func (r *ConnectionRegistry) Get(connectionID string) (hubcore.ConnectionHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.byID[connectionID]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).handle, true
}

// Features returns the feature bag for connectionID, if registered.
func (r *ConnectionRegistry) Features(connectionID string) (*FeatureBag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.byID[connectionID]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).features, true
}

// Snapshot returns every locally registered handle, in registration order.
func (r *ConnectionRegistry) Snapshot() []hubcore.ConnectionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]hubcore.ConnectionHandle, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).handle)
	}
	return out
}
