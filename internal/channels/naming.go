// Package channels implements the deterministic mapping from
// (hubTypeName, address) to broker channel strings for the five address
// spaces the lifetime manager routes through.
package channels

import "fmt"

// Naming formats broker channel names for one hub type. Strings are used
// verbatim, never escaped: a group or user ID containing ":" is fine
// because the broker compares the whole channel string.
type Naming struct {
	hubTypeFullName string
}

// New returns a Naming scoped to hubTypeFullName, which prefixes every
// channel it produces.
func New(hubTypeFullName string) Naming {
	return Naming{hubTypeFullName: hubTypeFullName}
}

func (n Naming) prefix() string {
	return n.hubTypeFullName + ":"
}

// All returns the broadcast-to-everyone channel.
func (n Naming) All() string {
	return n.prefix() + "all"
}

// Connection returns the channel for a single connection ID.
func (n Naming) Connection(connectionID string) string {
	return n.prefix() + "c:" + connectionID
}

// User returns the channel for a user ID (possibly many connections).
func (n Naming) User(userID string) string {
	return n.prefix() + "u:" + userID
}

// Group returns the channel for a group name.
func (n Naming) Group(groupName string) string {
	return n.prefix() + "g:" + groupName
}

// GroupManagement returns the single channel every server subscribes to
// for cross-server group add/remove commands.
func (n Naming) GroupManagement() string {
	return n.prefix() + "gm"
}

// Ack returns the per-server channel that group-management acks for
// serverName are published on.
func (n Naming) Ack(serverName string) string {
	return n.prefix() + fmt.Sprintf("ack:%s", serverName)
}
