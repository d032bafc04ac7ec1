package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRegistryGetOrCreateReturnsSameEntry(t *testing.T) {
	r := NewGroupRegistry()
	a := r.GetOrCreate("g:room")
	b := r.GetOrCreate("g:room")
	assert.Same(t, a, b)
}

func TestGroupRegistryGetMissing(t *testing.T) {
	r := NewGroupRegistry()
	_, ok := r.Get("g:nonexistent")
	assert.False(t, ok)
}

func TestGroupEntrySubscriptionTransitions(t *testing.T) {
	entry := newGroupEntry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	entry.Lock()
	require.Equal(t, 0, entry.Count())
	entry.Add(c1)
	entry.SetSubscribed(true)
	entry.Unlock()

	entry.Lock()
	entry.Add(c2)
	assert.Equal(t, 2, entry.Count())
	entry.Remove("c1")
	assert.Equal(t, 1, entry.Count())
	assert.True(t, entry.Subscribed())
	entry.Remove("c2")
	assert.Equal(t, 0, entry.Count())
	entry.Unlock()
}

func TestGroupEntrySnapshot(t *testing.T) {
	entry := newGroupEntry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	entry.Lock()
	entry.Add(c1)
	entry.Add(c2)
	snap := entry.Snapshot()
	entry.Unlock()

	assert.Len(t, snap, 2)
}

func TestGroupRegistryRetainsEmptyEntries(t *testing.T) {
	r := NewGroupRegistry()
	entry := r.GetOrCreate("g:room")
	entry.Lock()
	entry.Add(&fakeConn{id: "c1"})
	entry.Remove("c1")
	entry.Unlock()

	again, ok := r.Get("g:room")
	require.True(t, ok)
	assert.Same(t, entry, again)
}
