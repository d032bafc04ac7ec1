// Package hublifetime is the public facade: the distributed hub lifetime
// manager that routes invocations from any server to any subset of
// persistently connected clients, coordinating through a broker.Broker and
// the per-address-space channel naming scheme.
package hublifetime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/feckardt/hublifetime/internal/ackcoord"
	"github.com/feckardt/hublifetime/internal/broker"
	"github.com/feckardt/hublifetime/internal/channels"
	"github.com/feckardt/hublifetime/internal/hubcore"
	"github.com/feckardt/hublifetime/internal/registry"
	"github.com/feckardt/hublifetime/internal/wire"
)

// Options configures a Manager.
type Options struct {
	// HubTypeName prefixes every broker channel this manager uses.
	HubTypeName string
	// Protocols is the set of wire protocols to pre-encode every outbound
	// message for. At least one is required.
	Protocols []hubcore.HubProtocol
	// AckTimeout bounds how long AddGroup/RemoveGroup wait for a remote
	// ack. Defaults to ackcoord.DefaultTimeout.
	AckTimeout time.Duration
	// Logger receives structured logs for every caught-and-swallowed
	// failure. Defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics receives counters/gauges/histograms. Defaults to NopMetrics.
	Metrics Metrics
	// ServerName overrides the generated server name; mostly for tests
	// that need deterministic names.
	ServerName string
}

// Manager is the lifetime manager facade described by the operation
// contracts: OnConnected/OnDisconnected, the Send* family, and
// AddGroup/RemoveGroup.
type Manager struct {
	serverName string
	naming     channels.Naming
	protocols  []hubcore.HubProtocol
	logger     *zap.Logger
	metrics    Metrics

	brk   broker.Broker
	ack   *ackcoord.Coordinator
	cmdID atomic.Uint32

	conns  *registry.ConnectionRegistry
	groups *registry.GroupRegistry
	users  *registry.GroupRegistry // same shape as groups, keyed by user channel

	disposeOnce sync.Once
}

// New constructs a Manager and installs its startup subscriptions: "all",
// "groupManagement", and its own "ack:{serverName}" channel. It returns
// once all three subscriptions succeed, or the broker failure that
// prevented one of them.
func New(ctx context.Context, brk broker.Broker, opts Options) (*Manager, error) {
	if len(opts.Protocols) == 0 {
		return nil, fmt.Errorf("hublifetime: at least one protocol is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NopMetrics
	}
	serverName := opts.ServerName
	if serverName == "" {
		serverName = NewServerName()
	}

	m := &Manager{
		serverName: serverName,
		naming:     channels.New(opts.HubTypeName),
		protocols:  opts.Protocols,
		logger:     logger,
		metrics:    metrics,
		brk:        brk,
		ack:        ackcoord.New(opts.AckTimeout),
		conns:      registry.NewConnectionRegistry(),
		groups:     registry.NewGroupRegistry(),
		users:      registry.NewGroupRegistry(),
	}

	brk.OnConnectionRestored(func() { logger.Info("broker connection restored") })
	brk.OnConnectionFailed(func(err error) { logger.Error("broker connection failed", zap.Error(err)) })

	if err := brk.Subscribe(ctx, m.naming.All(), m.handleAll); err != nil {
		return nil, fmt.Errorf("hublifetime: subscribe to all channel: %w: %w", hubcore.ErrBrokerFailure, err)
	}
	if err := brk.Subscribe(ctx, m.naming.GroupManagement(), m.handleGroupManagement); err != nil {
		return nil, fmt.Errorf("hublifetime: subscribe to group management channel: %w: %w", hubcore.ErrBrokerFailure, err)
	}
	if err := brk.Subscribe(ctx, m.naming.Ack(serverName), m.handleAck); err != nil {
		return nil, fmt.Errorf("hublifetime: subscribe to own ack channel: %w: %w", hubcore.ErrBrokerFailure, err)
	}

	return m, nil
}

// ServerName returns this manager's generated or configured server name.
func (m *Manager) ServerName() string { return m.serverName }

// Dispose unsubscribes the manager's startup channels, fails every
// outstanding AddGroup/RemoveGroup ack wait with ErrManagerShutdown, and
// closes the broker. Safe to call more than once.
func (m *Manager) Dispose(ctx context.Context) error {
	var err error
	m.disposeOnce.Do(func() {
		m.ack.Dispose()
		_ = m.brk.Unsubscribe(ctx, m.naming.All())
		_ = m.brk.Unsubscribe(ctx, m.naming.GroupManagement())
		_ = m.brk.Unsubscribe(ctx, m.naming.Ack(m.serverName))
		err = m.brk.Close()
	})
	return err
}

// ---- connection lifecycle -------------------------------------------------

// OnConnected registers c, subscribes to its personal connection channel
// and (if c has a user ID) its shared user channel, and records both in
// c's feature bag. It completes only after every subscription succeeds;
// on failure it rolls back whatever partial registration it had already
// made, so a failed OnConnected never leaves a dead connection behind in
// the registry or subscribed to a channel nothing will ever unsubscribe.
func (m *Manager) OnConnected(ctx context.Context, c hubcore.ConnectionHandle) error {
	features := m.conns.Add(c)
	m.metrics.IncrementConnections()

	connChannel := m.naming.Connection(c.ConnectionID())
	if err := m.brk.Subscribe(ctx, connChannel, m.handleDirect(c.ConnectionID())); err != nil {
		m.conns.Remove(c.ConnectionID())
		m.metrics.DecrementConnections()
		return fmt.Errorf("hublifetime: subscribe to connection channel: %w: %w", hubcore.ErrBrokerFailure, err)
	}
	features.AddSubscription(connChannel)

	if userID := c.UserID(); userID != "" {
		userChannel := m.naming.User(userID)
		userEntry := m.users.GetOrCreate(userChannel)
		userEntry.Lock()
		if userEntry.Count() == 0 {
			if err := m.brk.Subscribe(ctx, userChannel, m.handleGroupLike(userChannel, m.users)); err != nil {
				userEntry.Unlock()
				_ = m.brk.Unsubscribe(ctx, connChannel)
				m.conns.Remove(c.ConnectionID())
				m.metrics.DecrementConnections()
				return fmt.Errorf("hublifetime: subscribe to user channel: %w: %w", hubcore.ErrBrokerFailure, err)
			}
			userEntry.SetSubscribed(true)
		}
		userEntry.Add(c)
		userEntry.Unlock()
		features.AddSubscription(userChannel)
	}

	return nil
}

// OnDisconnected deregisters c, unsubscribes every channel recorded in its
// feature bag, and removes c from every group it had joined. All of this
// proceeds in parallel and is awaited together; individual failures are
// logged and never prevent the others from completing.
func (m *Manager) OnDisconnected(ctx context.Context, c hubcore.ConnectionHandle) {
	features, ok := m.conns.Remove(c.ConnectionID())
	if !ok {
		return
	}
	m.metrics.DecrementConnections()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	connChannel := m.naming.Connection(c.ConnectionID())
	wg.Add(1)
	go func() {
		defer wg.Done()
		record(m.brk.Unsubscribe(ctx, connChannel))
	}()

	if userID := c.UserID(); userID != "" {
		userChannel := m.naming.User(userID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			userEntry := m.users.GetOrCreate(userChannel)
			userEntry.Lock()
			defer userEntry.Unlock()
			userEntry.Remove(c.ConnectionID())
			if userEntry.Count() == 0 && userEntry.Subscribed() {
				if err := m.brk.Unsubscribe(ctx, userChannel); err != nil {
					record(err)
					return
				}
				userEntry.SetSubscribed(false)
			}
		}()
	}

	for _, groupName := range features.Groups() {
		groupName := groupName
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.removeGroupCore(ctx, c, groupName)
		}()
	}

	wg.Wait()

	if errs.ErrorOrNil() != nil {
		m.logger.Warn("errors while tearing down connection",
			zap.String("connectionID", c.ConnectionID()),
			zap.Error(errs))
	}
}

// ---- send operations -------------------------------------------------

// buildInvocationBytes encodes method/args into a SerializationCache and
// frames it as an Invocation, pre-encoding every configured protocol
// exactly once regardless of how many channels the resulting bytes are
// published to.
func (m *Manager) buildInvocationBytes(excluded []string, method string, args []interface{}) ([]byte, error) {
	cache := hubcore.NewSerializationCache(hubcore.HubMessage{Target: method, Args: args})
	return wire.EncodeInvocation(wire.Invocation{ExcludedConnectionIDs: excluded, Cache: cache}, m.protocols)
}

func (m *Manager) publish(ctx context.Context, channel string, payload []byte) error {
	if err := m.brk.Publish(ctx, channel, payload); err != nil {
		m.metrics.RecordBrokerError("publish")
		return fmt.Errorf("hublifetime: publish to %s: %w: %w", channel, hubcore.ErrBrokerFailure, err)
	}
	m.metrics.IncrementMessagesPublished()
	return nil
}

// safeWriteMessage delivers msg to a locally terminated connection,
// logging and swallowing any write failure so one bad connection can never
// fail a fan-out for every other recipient.
func (m *Manager) safeWriteMessage(c hubcore.ConnectionHandle, msg hubcore.HubMessage) {
	if err := c.WriteMessage(msg); err != nil {
		m.metrics.IncrementBroadcastDropped()
		m.logger.Warn("dropped message to connection",
			zap.String("connectionID", c.ConnectionID()),
			zap.String("target", msg.Target),
			zap.Error(err))
		return
	}
	m.metrics.IncrementMessagesDelivered()
}

// SendAll invokes method on every connection in the cluster.
func (m *Manager) SendAll(ctx context.Context, method string, args []interface{}) error {
	return m.SendAllExcept(ctx, method, args, nil)
}

// SendAllExcept invokes method on every connection in the cluster except
// those whose IDs are in excluded.
func (m *Manager) SendAllExcept(ctx context.Context, method string, args []interface{}, excluded []string) error {
	payload, err := m.buildInvocationBytes(excluded, method, args)
	if err != nil {
		return err
	}
	return m.publish(ctx, m.naming.All(), payload)
}

// SendConnection invokes method on the single connection identified by
// connectionID, short-circuiting the broker entirely when that connection
// is locally terminated.
func (m *Manager) SendConnection(ctx context.Context, connectionID, method string, args []interface{}) error {
	if connectionID == "" {
		return fmt.Errorf("hublifetime: connectionID: %w", hubcore.ErrArgumentNull)
	}
	if c, ok := m.conns.Get(connectionID); ok {
		m.safeWriteMessage(c, hubcore.HubMessage{Target: method, Args: args})
		return nil
	}
	payload, err := m.buildInvocationBytes(nil, method, args)
	if err != nil {
		return err
	}
	return m.publish(ctx, m.naming.Connection(connectionID), payload)
}

// SendConnections invokes method on each connection in connectionIDs,
// applying SendConnection's local-short-circuit rule per element. The
// payload is encoded at most once.
func (m *Manager) SendConnections(ctx context.Context, connectionIDs []string, method string, args []interface{}) error {
	if connectionIDs == nil {
		return fmt.Errorf("hublifetime: connectionIDs: %w", hubcore.ErrArgumentNull)
	}
	payload, err := m.buildInvocationBytes(nil, method, args)
	if err != nil {
		return err
	}
	for _, id := range connectionIDs {
		if c, ok := m.conns.Get(id); ok {
			m.safeWriteMessage(c, hubcore.HubMessage{Target: method, Args: args})
			continue
		}
		if err := m.publish(ctx, m.naming.Connection(id), payload); err != nil {
			return err
		}
	}
	return nil
}

// SendGroup invokes method on every connection in groupName, on every
// server. It never short-circuits locally because the group may span
// servers.
func (m *Manager) SendGroup(ctx context.Context, groupName, method string, args []interface{}) error {
	return m.SendGroupExcept(ctx, groupName, method, args, nil)
}

// SendGroupExcept is SendGroup with an exclusion list.
func (m *Manager) SendGroupExcept(ctx context.Context, groupName, method string, args []interface{}, excluded []string) error {
	if groupName == "" {
		return fmt.Errorf("hublifetime: groupName: %w", hubcore.ErrArgumentNull)
	}
	payload, err := m.buildInvocationBytes(excluded, method, args)
	if err != nil {
		return err
	}
	return m.publish(ctx, m.naming.Group(groupName), payload)
}

// SendGroups invokes method on every connection in each of groupNames.
func (m *Manager) SendGroups(ctx context.Context, groupNames []string, method string, args []interface{}) error {
	if groupNames == nil {
		return fmt.Errorf("hublifetime: groupNames: %w", hubcore.ErrArgumentNull)
	}
	payload, err := m.buildInvocationBytes(nil, method, args)
	if err != nil {
		return err
	}
	for _, name := range groupNames {
		if err := m.publish(ctx, m.naming.Group(name), payload); err != nil {
			return err
		}
	}
	return nil
}

// SendUser invokes method on every connection belonging to userID.
func (m *Manager) SendUser(ctx context.Context, userID, method string, args []interface{}) error {
	payload, err := m.buildInvocationBytes(nil, method, args)
	if err != nil {
		return err
	}
	return m.publish(ctx, m.naming.User(userID), payload)
}

// SendUsers invokes method on every connection belonging to any of
// userIDs.
func (m *Manager) SendUsers(ctx context.Context, userIDs []string, method string, args []interface{}) error {
	if userIDs == nil {
		return fmt.Errorf("hublifetime: userIDs: %w", hubcore.ErrArgumentNull)
	}
	payload, err := m.buildInvocationBytes(nil, method, args)
	if err != nil {
		return err
	}
	for _, id := range userIDs {
		if err := m.publish(ctx, m.naming.User(id), payload); err != nil {
			return err
		}
	}
	return nil
}

// ---- group membership -------------------------------------------------

// AddGroup joins connectionID to groupName. If connectionID is locally
// terminated this resolves immediately; otherwise it publishes a
// GroupCommand and awaits the remote server's ack (or AckTimeout).
func (m *Manager) AddGroup(ctx context.Context, connectionID, groupName string) error {
	if connectionID == "" {
		return fmt.Errorf("hublifetime: connectionID: %w", hubcore.ErrArgumentNull)
	}
	if groupName == "" {
		return fmt.Errorf("hublifetime: groupName: %w", hubcore.ErrArgumentNull)
	}
	if c, ok := m.conns.Get(connectionID); ok {
		return m.addGroupCore(ctx, c, groupName)
	}
	return m.sendGroupCommandAndAwaitAck(ctx, wire.GroupActionAdd, groupName, connectionID)
}

// RemoveGroup removes connectionID from groupName, symmetric to AddGroup.
func (m *Manager) RemoveGroup(ctx context.Context, connectionID, groupName string) error {
	if connectionID == "" {
		return fmt.Errorf("hublifetime: connectionID: %w", hubcore.ErrArgumentNull)
	}
	if groupName == "" {
		return fmt.Errorf("hublifetime: groupName: %w", hubcore.ErrArgumentNull)
	}
	if c, ok := m.conns.Get(connectionID); ok {
		m.removeGroupCore(ctx, c, groupName)
		return nil
	}
	return m.sendGroupCommandAndAwaitAck(ctx, wire.GroupActionRemove, groupName, connectionID)
}

func (m *Manager) sendGroupCommandAndAwaitAck(ctx context.Context, action wire.GroupAction, groupName, connectionID string) error {
	id := m.cmdID.Add(1)
	wait := m.ack.CreateAck(id)

	payload, err := wire.EncodeGroupCommand(wire.GroupCommand{
		ID:           id,
		ServerName:   m.serverName,
		Action:       action,
		GroupName:    groupName,
		ConnectionID: connectionID,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	if err := m.publish(ctx, m.naming.GroupManagement(), payload); err != nil {
		return err
	}

	err = wait()
	m.metrics.RecordAckLatency(time.Since(start))
	if err != nil {
		if err == hubcore.ErrAckTimeout {
			m.metrics.IncrementAckTimeouts()
		}
		return err
	}
	return nil
}

// addGroupCore performs the local membership change: idempotent insertion
// into c's feature bag, then insertion into the GroupEntry, subscribing to
// the group's broker channel on the 0->1 transition. The subscription
// must complete before this returns.
func (m *Manager) addGroupCore(ctx context.Context, c hubcore.ConnectionHandle, groupName string) error {
	features, ok := m.conns.Features(c.ConnectionID())
	if !ok {
		return nil // connection torn down concurrently; nothing to join
	}
	if !features.AddGroup(groupName) {
		return nil // already a member, idempotent
	}

	channel := m.naming.Group(groupName)
	entry := m.groups.GetOrCreate(channel)
	entry.Lock()
	defer entry.Unlock()

	if entry.Count() == 0 {
		if err := m.brk.Subscribe(ctx, channel, m.handleGroupLike(channel, m.groups)); err != nil {
			features.RemoveGroup(groupName)
			return fmt.Errorf("hublifetime: subscribe to group channel: %w: %w", hubcore.ErrBrokerFailure, err)
		}
		entry.SetSubscribed(true)
		m.metrics.IncrementGroups()
	}
	entry.Add(c)
	return nil
}

// removeGroupCore is the symmetric local membership removal. Failures are
// logged and swallowed: RemoveGroup is specified to never fail for reasons
// outside the caller's control once the connection is known locally.
func (m *Manager) removeGroupCore(ctx context.Context, c hubcore.ConnectionHandle, groupName string) {
	if features, ok := m.conns.Features(c.ConnectionID()); ok {
		if !features.RemoveGroup(groupName) {
			return // wasn't a member, idempotent
		}
	}

	channel := m.naming.Group(groupName)
	entry, ok := m.groups.Get(channel)
	if !ok {
		return
	}
	entry.Lock()
	defer entry.Unlock()

	entry.Remove(c.ConnectionID())
	if entry.Count() == 0 && entry.Subscribed() {
		if err := m.brk.Unsubscribe(ctx, channel); err != nil {
			m.logger.Warn("failed to unsubscribe from now-empty group channel",
				zap.String("group", groupName), zap.Error(err))
			return
		}
		entry.SetSubscribed(false)
		m.metrics.DecrementGroups()
	}
}

// ---- inbound broker dispatch -------------------------------------------------

// handleAll delivers a broadcast Invocation to every locally terminated
// connection not present in its exclusion list.
func (m *Manager) handleAll(payload []byte) {
	m.dispatchInvocation(payload, m.conns.Snapshot())
}

// handleDirect returns a dispatch handler bound to connectionID; it writes
// only to that connection, never to the rest of the local registry. It is
// registered solely on that connection's own c:{id} channel.
func (m *Manager) handleDirect(connectionID string) func([]byte) {
	return func(payload []byte) {
		c, ok := m.conns.Get(connectionID)
		if !ok {
			return
		}
		m.dispatchInvocation(payload, []hubcore.ConnectionHandle{c})
	}
}

// handleGroupLike returns a dispatch handler shared by group and user
// channels: both deliver to every locally registered connection tracked by
// a GroupEntry, honoring the Invocation's exclusion list.
func (m *Manager) handleGroupLike(channel string, reg *registry.GroupRegistry) func([]byte) {
	return func(payload []byte) {
		inv, err := wire.DecodeInvocation(payload)
		if err != nil {
			m.logger.Warn("malformed invocation on channel", zap.String("channel", channel), zap.Error(err))
			return
		}
		entry, ok := reg.Get(channel)
		if !ok {
			return
		}
		entry.Lock()
		recipients := entry.Snapshot()
		entry.Unlock()
		m.deliverInvocation(inv, recipients)
	}
}

func (m *Manager) dispatchInvocation(payload []byte, recipients []hubcore.ConnectionHandle) {
	inv, err := wire.DecodeInvocation(payload)
	if err != nil {
		m.logger.Warn("malformed invocation", zap.Error(err))
		return
	}
	m.deliverInvocation(inv, recipients)
}

// deliverInvocation writes inv's cache to every recipient not present in
// its exclusion list. Exclusion is a deny-list: a connection ID not
// mentioned in ExcludedConnectionIDs is never excluded.
func (m *Manager) deliverInvocation(inv wire.Invocation, recipients []hubcore.ConnectionHandle) {
	var excluded map[string]struct{}
	if len(inv.ExcludedConnectionIDs) > 0 {
		excluded = make(map[string]struct{}, len(inv.ExcludedConnectionIDs))
		for _, id := range inv.ExcludedConnectionIDs {
			excluded[id] = struct{}{}
		}
	}
	for _, c := range recipients {
		if excluded != nil {
			if _, skip := excluded[c.ConnectionID()]; skip {
				continue
			}
		}
		if err := c.WriteCache(inv.Cache); err != nil {
			m.metrics.IncrementBroadcastDropped()
			m.logger.Warn("dropped cached message to connection",
				zap.String("connectionID", c.ConnectionID()), zap.Error(err))
			continue
		}
		m.metrics.IncrementMessagesDelivered()
	}
}

// handleGroupManagement processes a cross-server AddGroup/RemoveGroup
// command. Only the server that owns the target connection acts on it and
// then publishes an Ack back to the originating server; every other server
// ignores the command. No Ack is published when the local AddGroup fails,
// or when no server holds the connection, so the originator then waits
// until its ack timeout.
func (m *Manager) handleGroupManagement(payload []byte) {
	cmd, err := wire.DecodeGroupCommand(payload)
	if err != nil {
		m.logger.Warn("malformed group command", zap.Error(err))
		return
	}
	c, ok := m.conns.Get(cmd.ConnectionID)
	if !ok {
		return // not our connection; some other server owns it
	}

	ctx := context.Background()
	switch cmd.Action {
	case wire.GroupActionAdd:
		if err := m.addGroupCore(ctx, c, cmd.GroupName); err != nil {
			m.logger.Warn("failed to apply remote AddGroup", zap.Error(err))
			return
		}
	case wire.GroupActionRemove:
		m.removeGroupCore(ctx, c, cmd.GroupName)
	default:
		m.logger.Warn("unknown group command action", zap.Int("action", int(cmd.Action)))
		return
	}

	ackPayload, err := wire.EncodeAck(wire.Ack{ID: cmd.ID})
	if err != nil {
		m.logger.Warn("failed to encode ack", zap.Error(err))
		return
	}
	if err := m.publish(ctx, m.naming.Ack(cmd.ServerName), ackPayload); err != nil {
		m.logger.Warn("failed to publish ack", zap.Error(err))
	}
}

// handleAck completes the local AddGroup/RemoveGroup wait matching the
// ack's ID, if one is still outstanding.
func (m *Manager) handleAck(payload []byte) {
	ack, err := wire.DecodeAck(payload)
	if err != nil {
		m.logger.Warn("malformed ack", zap.Error(err))
		return
	}
	m.ack.TriggerAck(ack.ID)
}
