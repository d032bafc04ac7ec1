package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feckardt/hublifetime/internal/hubcore"
)

type fakeConn struct {
	id     string
	userID string
}

func (c *fakeConn) ConnectionID() string                             { return c.id }
func (c *fakeConn) UserID() string                                   { return c.userID }
func (c *fakeConn) WriteMessage(hubcore.HubMessage) error            { return nil }
func (c *fakeConn) WriteCache(*hubcore.SerializationCache) error     { return nil }

func TestConnectionRegistryAddGetRemove(t *testing.T) {
	r := NewConnectionRegistry()
	c := &fakeConn{id: "c1", userID: "u1"}

	features := r.Add(c)
	require.NotNil(t, features)

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Same(t, c, got)

	gotFeatures, ok := r.Features("c1")
	require.True(t, ok)
	assert.Same(t, features, gotFeatures)

	removed, ok := r.Remove("c1")
	require.True(t, ok)
	assert.Same(t, features, removed)

	_, ok = r.Get("c1")
	assert.False(t, ok)
}

func TestConnectionRegistrySnapshotPreservesInsertionOrder(t *testing.T) {
	r := NewConnectionRegistry()
	var conns []*fakeConn
	for i := 0; i < 5; i++ {
		c := &fakeConn{id: fmt.Sprintf("c%d", i)}
		conns = append(conns, c)
		r.Add(c)
	}

	snap := r.Snapshot()
	require.Len(t, snap, 5)
	for i, c := range snap {
		assert.Equal(t, conns[i].id, c.ConnectionID())
	}
}

func TestFeatureBagGroupMembershipIsIdempotent(t *testing.T) {
	b := newFeatureBag()
	assert.True(t, b.AddGroup("Room"))
	assert.False(t, b.AddGroup("room")) // case-insensitive key
	assert.True(t, b.RemoveGroup("ROOM"))
	assert.False(t, b.RemoveGroup("room"))
}

func TestFeatureBagSubscriptionsSnapshot(t *testing.T) {
	b := newFeatureBag()
	b.AddSubscription("chan:a")
	b.AddSubscription("chan:b")
	subs := b.Subscriptions()
	assert.ElementsMatch(t, []string{"chan:a", "chan:b"}, subs)
}
