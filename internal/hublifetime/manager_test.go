package hublifetime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feckardt/hublifetime/internal/broker/brokertest"
	"github.com/feckardt/hublifetime/internal/hubcore"
)

type fakeProtocol struct{ name string }

func (p fakeProtocol) Name() string { return p.name }
func (p fakeProtocol) Encode(msg hubcore.HubMessage) ([]byte, error) {
	return []byte(fmt.Sprintf("%s:%s:%v", p.name, msg.Target, msg.Args)), nil
}

type recordedCall struct {
	target string
	args   []interface{}
}

type testConn struct {
	mu       sync.Mutex
	id       string
	userID   string
	received []recordedCall
	failNext bool
}

func newTestConn(id, userID string) *testConn { return &testConn{id: id, userID: userID} }

func (c *testConn) ConnectionID() string { return c.id }
func (c *testConn) UserID() string       { return c.userID }

func (c *testConn) WriteMessage(msg hubcore.HubMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return fmt.Errorf("simulated write failure")
	}
	c.received = append(c.received, recordedCall{target: msg.Target, args: msg.Args})
	return nil
}

func (c *testConn) WriteCache(cache *hubcore.SerializationCache) error {
	encoded, err := cache.GetEncoded("json", fakeProtocol{"json"})
	if err != nil {
		return err
	}
	parts := strings.SplitN(string(encoded), ":", 3)
	target := parts[0]
	if len(parts) >= 2 {
		target = parts[1]
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return fmt.Errorf("simulated write failure")
	}
	c.received = append(c.received, recordedCall{target: target})
	return nil
}

func (c *testConn) calls() []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedCall, len(c.received))
	copy(out, c.received)
	return out
}

func newTestManager(t *testing.T, fabric *brokertest.Fabric, serverName string) *Manager {
	t.Helper()
	brk := brokertest.NewBroker(fabric)
	m, err := New(context.Background(), brk, Options{
		HubTypeName: "chathub",
		Protocols:   []hubcore.HubProtocol{fakeProtocol{"json"}},
		AckTimeout:  2 * time.Second,
		ServerName:  serverName,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Dispose(context.Background()) })
	return m
}

func TestSendAllFansOutToAllLocalConnections(t *testing.T) {
	fabric := brokertest.NewFabric()
	m := newTestManager(t, fabric, "server-a")
	ctx := context.Background()

	c1 := newTestConn("c1", "")
	c2 := newTestConn("c2", "")
	require.NoError(t, m.OnConnected(ctx, c1))
	require.NoError(t, m.OnConnected(ctx, c2))

	require.NoError(t, m.SendAll(ctx, "greet", []interface{}{"hi"}))

	require.Len(t, c1.calls(), 1)
	require.Len(t, c2.calls(), 1)
	assert.Equal(t, "greet", c1.calls()[0].target)
	assert.Equal(t, "greet", c2.calls()[0].target)
}

func TestSendAllExceptExcludesListedConnection(t *testing.T) {
	fabric := brokertest.NewFabric()
	m := newTestManager(t, fabric, "server-a")
	ctx := context.Background()

	c1 := newTestConn("c1", "")
	c2 := newTestConn("c2", "")
	require.NoError(t, m.OnConnected(ctx, c1))
	require.NoError(t, m.OnConnected(ctx, c2))

	require.NoError(t, m.SendAllExcept(ctx, "greet", nil, []string{"c2"}))

	assert.Len(t, c1.calls(), 1)
	assert.Empty(t, c2.calls())
}

func TestSendConnectionShortCircuitsLocally(t *testing.T) {
	fabric := brokertest.NewFabric()
	m := newTestManager(t, fabric, "server-a")
	ctx := context.Background()

	c1 := newTestConn("c1", "")
	require.NoError(t, m.OnConnected(ctx, c1))

	require.NoError(t, m.SendConnection(ctx, "c1", "greet", nil))
	assert.Len(t, c1.calls(), 1)
}

func TestSendConnectionPublishesWhenRemote(t *testing.T) {
	fabric := brokertest.NewFabric()
	serverA := newTestManager(t, fabric, "server-a")
	serverB := newTestManager(t, fabric, "server-b")
	ctx := context.Background()

	remoteConn := newTestConn("remote-1", "")
	require.NoError(t, serverB.OnConnected(ctx, remoteConn))

	require.NoError(t, serverA.SendConnection(ctx, "remote-1", "greet", nil))
	assert.Len(t, remoteConn.calls(), 1)
}

func TestSendConnectionRemoteDeliversOnlyToTargetedConnection(t *testing.T) {
	fabric := brokertest.NewFabric()
	serverA := newTestManager(t, fabric, "server-a")
	serverB := newTestManager(t, fabric, "server-b")
	ctx := context.Background()

	target := newTestConn("remote-1", "")
	bystander := newTestConn("remote-2", "")
	require.NoError(t, serverB.OnConnected(ctx, target))
	require.NoError(t, serverB.OnConnected(ctx, bystander))

	require.NoError(t, serverA.SendConnection(ctx, "remote-1", "private", nil))

	assert.Len(t, target.calls(), 1)
	assert.Empty(t, bystander.calls())
}

func TestCrossServerAddGroupCompletesAckRoundTrip(t *testing.T) {
	fabric := brokertest.NewFabric()
	serverA := newTestManager(t, fabric, "server-a")
	serverB := newTestManager(t, fabric, "server-b")
	ctx := context.Background()

	remoteConn := newTestConn("remote-1", "")
	require.NoError(t, serverB.OnConnected(ctx, remoteConn))

	err := serverA.AddGroup(ctx, "remote-1", "room-1")
	require.NoError(t, err)

	require.NoError(t, serverA.SendGroup(ctx, "room-1", "greet", nil))
	assert.Len(t, remoteConn.calls(), 1)
}

func TestAddGroupTimesOutWhenConnectionUnknownAnywhere(t *testing.T) {
	fabric := brokertest.NewFabric()

	shortTimeoutBroker := brokertest.NewBroker(fabric)
	short, err := New(context.Background(), shortTimeoutBroker, Options{
		HubTypeName: "chathub",
		Protocols:   []hubcore.HubProtocol{fakeProtocol{"json"}},
		AckTimeout:  20 * time.Millisecond,
		ServerName:  "server-c",
	})
	require.NoError(t, err)
	defer short.Dispose(context.Background())

	err = short.AddGroup(context.Background(), "ghost-conn", "room-1")
	require.Error(t, err)
}

func TestOnDisconnectedClearsGroupAndUserMembership(t *testing.T) {
	fabric := brokertest.NewFabric()
	m := newTestManager(t, fabric, "server-a")
	ctx := context.Background()

	c1 := newTestConn("c1", "user-1")
	require.NoError(t, m.OnConnected(ctx, c1))
	require.NoError(t, m.AddGroup(ctx, "c1", "room-1"))

	m.OnDisconnected(ctx, c1)

	require.NoError(t, m.SendGroup(ctx, "room-1", "greet", nil))
	require.NoError(t, m.SendUser(ctx, "user-1", "greet", nil))
	assert.Empty(t, c1.calls())

	_, ok := m.conns.Get("c1")
	assert.False(t, ok)
}

func TestWriteFailureOnOneConnectionDoesNotBlockOthers(t *testing.T) {
	fabric := brokertest.NewFabric()
	m := newTestManager(t, fabric, "server-a")
	ctx := context.Background()

	bad := newTestConn("bad", "")
	bad.failNext = true
	good := newTestConn("good", "")
	require.NoError(t, m.OnConnected(ctx, bad))
	require.NoError(t, m.OnConnected(ctx, good))

	require.NoError(t, m.SendAll(ctx, "greet", nil))

	assert.Empty(t, bad.calls())
	assert.Len(t, good.calls(), 1)
}

func TestSendUserFansOutAcrossMultipleConnections(t *testing.T) {
	fabric := brokertest.NewFabric()
	m := newTestManager(t, fabric, "server-a")
	ctx := context.Background()

	c1 := newTestConn("c1", "user-1")
	c2 := newTestConn("c2", "user-1")
	require.NoError(t, m.OnConnected(ctx, c1))
	require.NoError(t, m.OnConnected(ctx, c2))

	require.NoError(t, m.SendUser(ctx, "user-1", "greet", nil))

	assert.Len(t, c1.calls(), 1)
	assert.Len(t, c2.calls(), 1)
}

func TestProtocolPreservedAcrossBrokerHop(t *testing.T) {
	fabric := brokertest.NewFabric()
	serverA := newTestManager(t, fabric, "server-a")
	serverB := newTestManager(t, fabric, "server-b")
	ctx := context.Background()

	remoteConn := newTestConn("remote-1", "")
	require.NoError(t, serverB.OnConnected(ctx, remoteConn))

	require.NoError(t, serverA.SendConnection(ctx, "remote-1", "greet", []interface{}{"hi"}))

	calls := remoteConn.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "greet", calls[0].target)
}
