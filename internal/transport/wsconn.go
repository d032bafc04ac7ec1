// Package transport implements the demo gorilla/websocket ConnectionHandle
// and the gin HTTP surface that upgrades, authenticates, and registers
// connections with a hublifetime.Manager.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/feckardt/hublifetime/internal/authjwt"
	"github.com/feckardt/hublifetime/internal/hubcore"
	"github.com/feckardt/hublifetime/internal/hublifetime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientCommand is an inbound message a connected client may send to
// manage its own group membership. Any other action is ignored; this demo
// transport doesn't expose arbitrary RPC dispatch.
type clientCommand struct {
	Action string `json:"action"`
	Group  string `json:"group"`
}

// Conn is a gorilla/websocket-backed hubcore.ConnectionHandle. Reads and
// writes run on separate goroutines connected by a buffered send channel,
// the same split the teacher's websocket client uses.
type Conn struct {
	id       string
	userID   string
	conn     *websocket.Conn
	protocol hubcore.HubProtocol
	send     chan []byte

	logger *zap.Logger

	closeOnce sync.Once
}

// NewConn wraps an upgraded websocket connection. protocol selects which
// pre-encoded cache slot WriteCache reads.
func NewConn(id, userID string, wsConn *websocket.Conn, protocol hubcore.HubProtocol, logger *zap.Logger) *Conn {
	return &Conn{
		id:       id,
		userID:   userID,
		conn:     wsConn,
		protocol: protocol,
		send:     make(chan []byte, sendBufferSize),
		logger:   logger,
	}
}

func (c *Conn) ConnectionID() string { return c.id }
func (c *Conn) UserID() string       { return c.userID }

// WriteMessage encodes msg with this connection's protocol and queues it.
func (c *Conn) WriteMessage(msg hubcore.HubMessage) error {
	data, err := c.protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}
	return c.enqueue(data)
}

// WriteCache queues the bytes cache holds for this connection's protocol,
// encoding on demand if they weren't already produced upstream.
func (c *Conn) WriteCache(cache *hubcore.SerializationCache) error {
	data, err := cache.GetEncoded(c.protocol.Name(), c.protocol)
	if err != nil {
		return fmt.Errorf("transport: get encoded cache: %w", err)
	}
	return c.enqueue(data)
}

func (c *Conn) enqueue(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("transport: send buffer full for connection %s", c.id)
	}
}

// Close closes the send channel exactly once, triggering writePump's
// graceful close handshake.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection closes, dispatching
// group join/leave requests to the manager. onClose runs exactly once,
// always, regardless of how the loop exits.
func (c *Conn) readPump(manager *hublifetime.Manager, onClose func()) {
	defer onClose()
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.logger.Debug("ignoring unparseable client message", zap.String("connectionID", c.id), zap.Error(err))
			continue
		}
		switch cmd.Action {
		case "joinGroup":
			if err := manager.AddGroup(ctx, c.id, cmd.Group); err != nil {
				c.logger.Warn("client joinGroup failed", zap.String("connectionID", c.id), zap.Error(err))
			}
		case "leaveGroup":
			if err := manager.RemoveGroup(ctx, c.id, cmd.Group); err != nil {
				c.logger.Warn("client leaveGroup failed", zap.String("connectionID", c.id), zap.Error(err))
			}
		}
	}
}

// ServeWS upgrades r, authenticates it with authManager, and registers the
// resulting connection with manager for the lifetime of the socket.
func ServeWS(manager *hublifetime.Manager, authManager *authjwt.Manager, protocol hubcore.HubProtocol, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := authManager.WebSocketAuth(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := NewConn(newConnectionID(), claims.UserID, wsConn, protocol, logger)

		if err := manager.OnConnected(c.Request.Context(), conn); err != nil {
			logger.Error("OnConnected failed", zap.Error(err))
			wsConn.Close()
			return
		}

		go conn.writePump()
		conn.readPump(manager, func() {
			manager.OnDisconnected(context.Background(), conn)
			conn.Close()
		})
	}
}

var nextConnID uint64
var connIDMu sync.Mutex

func newConnectionID() string {
	connIDMu.Lock()
	defer connIDMu.Unlock()
	nextConnID++
	return fmt.Sprintf("c-%d-%d", time.Now().UnixNano(), nextConnID)
}
