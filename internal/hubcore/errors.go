// Package hubcore holds the error kinds and small shared types used across
// the hub lifetime manager's internal packages.
package hubcore

import "errors"

// Sentinel error kinds surfaced by the lifetime manager, per the error
// handling design: argument validation and ack/broker failures propagate to
// callers; everything else is caught, logged, and swallowed by the caller
// of Send*.
var (
	ErrArgumentNull         = errors.New("hubcore: argument must not be nil or empty")
	ErrMalformedFrame       = errors.New("hubcore: malformed wire frame")
	ErrProtocolNotAvailable = errors.New("hubcore: protocol not available for this message")
	ErrTooManyProtocols     = errors.New("hubcore: more than 255 protocols in serialization cache")
	ErrAckTimeout           = errors.New("hubcore: timed out waiting for group command ack")
	ErrBrokerFailure        = errors.New("hubcore: broker operation failed")
	ErrManagerShutdown      = errors.New("hubcore: manager is shutting down")
)

// HubMessage is an application-level invocation: a target method name and
// its argument array. The lifetime manager never inspects Args; it only
// ever asks a HubProtocol to encode the message once per wire protocol.
type HubMessage struct {
	Target string
	Args   []interface{}
}

// HubProtocol is the external collaborator that turns a HubMessage into the
// bytes a client of that protocol understands. The hub protocol's wire
// format and the client-side handshake state machine are out of scope for
// this package; only this narrow encode contract is consumed.
type HubProtocol interface {
	Name() string
	Encode(HubMessage) ([]byte, error)
}

// ConnectionHandle is the external, transport-owned connection abstraction.
// The lifetime manager holds a reference to it while the connection is
// registered but never owns its lifecycle.
type ConnectionHandle interface {
	ConnectionID() string
	UserID() string
	WriteMessage(HubMessage) error
	WriteCache(*SerializationCache) error
}

