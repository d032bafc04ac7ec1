// Package wire implements the three framed wire-protocol messages that
// travel over broker channels: Invocation, GroupCommand, and Ack. All
// multi-byte integers outside the varint fields are little-endian, and
// unknown trailing bytes are ignored for forward compatibility.
package wire

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/feckardt/hublifetime/internal/hubcore"
	"github.com/feckardt/hublifetime/internal/varint"
)

// GroupAction is the action carried by a GroupCommand frame.
type GroupAction byte

const (
	GroupActionAdd    GroupAction = 0
	GroupActionRemove GroupAction = 1
)

// Invocation is sent on the "all", "connection:{id}", "user:{id}", and
// "group:{name}" channels.
type Invocation struct {
	ExcludedConnectionIDs []string
	Cache                 *hubcore.SerializationCache
}

// GroupCommand is sent on the "groupManagement" channel.
type GroupCommand struct {
	ID             uint32
	ServerName     string
	Action         GroupAction
	GroupName      string
	ConnectionID   string
}

// Ack is sent on the "ack:{serverName}" channel.
type Ack struct {
	ID uint32
}

// EncodeInvocation writes the Invocation frame: varint exclusion count,
// each excluded ID as a length-prefixed string, then the cache's
// bytes-only form.
func EncodeInvocation(inv Invocation, protocols []hubcore.HubProtocol) ([]byte, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	if err := varint.WriteVarInt(w, uint32(len(inv.ExcludedConnectionIDs))); err != nil {
		return nil, fmt.Errorf("wire: encode invocation exclusion count: %w", err)
	}
	for _, id := range inv.ExcludedConnectionIDs {
		if err := varint.WriteString(w, id); err != nil {
			return nil, fmt.Errorf("wire: encode invocation excluded id: %w", err)
		}
	}
	if err := inv.Cache.WriteAllVersions(w, protocols); err != nil {
		return nil, fmt.Errorf("wire: encode invocation cache: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("wire: flush invocation: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeInvocation is the inverse of EncodeInvocation. The resulting cache
// is bytes-only (no source HubMessage).
func DecodeInvocation(data []byte) (Invocation, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	count, err := varint.ReadVarInt(r)
	if err != nil {
		return Invocation{}, fmt.Errorf("wire: decode invocation exclusion count: %w: %w", hubcore.ErrMalformedFrame, err)
	}
	excluded := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := varint.ReadString(r)
		if err != nil {
			return Invocation{}, fmt.Errorf("wire: decode invocation excluded id: %w: %w", hubcore.ErrMalformedFrame, err)
		}
		excluded = append(excluded, id)
	}
	cache, err := hubcore.ReadAllVersions(r)
	if err != nil {
		return Invocation{}, fmt.Errorf("wire: decode invocation cache: %w", err)
	}
	return Invocation{ExcludedConnectionIDs: excluded, Cache: cache}, nil
}

// EncodeGroupCommand writes the GroupCommand frame.
func EncodeGroupCommand(cmd GroupCommand) ([]byte, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	if err := varint.WriteVarInt(w, cmd.ID); err != nil {
		return nil, fmt.Errorf("wire: encode group command id: %w", err)
	}
	if err := varint.WriteString(w, cmd.ServerName); err != nil {
		return nil, fmt.Errorf("wire: encode group command server name: %w", err)
	}
	if err := w.WriteByte(byte(cmd.Action)); err != nil {
		return nil, fmt.Errorf("wire: encode group command action: %w", err)
	}
	if err := varint.WriteString(w, cmd.GroupName); err != nil {
		return nil, fmt.Errorf("wire: encode group command group name: %w", err)
	}
	if err := varint.WriteString(w, cmd.ConnectionID); err != nil {
		return nil, fmt.Errorf("wire: encode group command connection id: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("wire: flush group command: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeGroupCommand is the inverse of EncodeGroupCommand. Trailing bytes
// beyond the five fields are ignored.
func DecodeGroupCommand(data []byte) (GroupCommand, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	id, err := varint.ReadVarInt(r)
	if err != nil {
		return GroupCommand{}, fmt.Errorf("wire: decode group command id: %w: %w", hubcore.ErrMalformedFrame, err)
	}
	serverName, err := varint.ReadString(r)
	if err != nil {
		return GroupCommand{}, fmt.Errorf("wire: decode group command server name: %w: %w", hubcore.ErrMalformedFrame, err)
	}
	actionByte, err := r.ReadByte()
	if err != nil {
		return GroupCommand{}, fmt.Errorf("wire: decode group command action: %w: %w", hubcore.ErrMalformedFrame, err)
	}
	groupName, err := varint.ReadString(r)
	if err != nil {
		return GroupCommand{}, fmt.Errorf("wire: decode group command group name: %w: %w", hubcore.ErrMalformedFrame, err)
	}
	connectionID, err := varint.ReadString(r)
	if err != nil {
		return GroupCommand{}, fmt.Errorf("wire: decode group command connection id: %w: %w", hubcore.ErrMalformedFrame, err)
	}
	return GroupCommand{
		ID:           id,
		ServerName:   serverName,
		Action:       GroupAction(actionByte),
		GroupName:    groupName,
		ConnectionID: connectionID,
	}, nil
}

// EncodeAck writes the Ack frame.
func EncodeAck(ack Ack) ([]byte, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := varint.WriteVarInt(w, ack.ID); err != nil {
		return nil, fmt.Errorf("wire: encode ack: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("wire: flush ack: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeAck is the inverse of EncodeAck.
func DecodeAck(data []byte) (Ack, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	id, err := varint.ReadVarInt(r)
	if err != nil {
		return Ack{}, fmt.Errorf("wire: decode ack: %w: %w", hubcore.ErrMalformedFrame, err)
	}
	return Ack{ID: id}, nil
}
