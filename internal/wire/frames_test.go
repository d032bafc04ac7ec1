package wire

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feckardt/hublifetime/internal/hubcore"
)

type fakeProtocol struct{ name string }

func (p fakeProtocol) Name() string { return p.name }
func (p fakeProtocol) Encode(msg hubcore.HubMessage) ([]byte, error) {
	return []byte(fmt.Sprintf("%s:%s", p.name, msg.Target)), nil
}

func excludedIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("conn-%d", i)
	}
	return ids
}

func TestEncodeDecodeInvocationExclusionSizes(t *testing.T) {
	protocols := []hubcore.HubProtocol{fakeProtocol{"json"}}
	for _, n := range []int{0, 1, 255, 65535} {
		excluded := excludedIDs(n)
		cache := hubcore.NewSerializationCache(hubcore.HubMessage{Target: "update", Args: []interface{}{1}})

		data, err := EncodeInvocation(Invocation{ExcludedConnectionIDs: excluded, Cache: cache}, protocols)
		require.NoError(t, err)

		inv, err := DecodeInvocation(data)
		require.NoError(t, err)
		assert.Equal(t, excluded, inv.ExcludedConnectionIDs)

		encoded, err := inv.Cache.GetEncoded("json", fakeProtocol{"json"})
		require.NoError(t, err)
		assert.Equal(t, "json:update", string(encoded))
	}
}

func TestDecodeInvocationMalformed(t *testing.T) {
	_, err := DecodeInvocation([]byte{0xff})
	require.Error(t, err)
	assert.True(t, errors.Is(err, hubcore.ErrMalformedFrame))
}

func TestGroupCommandRoundTrip(t *testing.T) {
	cmd := GroupCommand{
		ID:           42,
		ServerName:   "server-a",
		Action:       GroupActionAdd,
		GroupName:    "room-1",
		ConnectionID: "conn-7",
	}
	data, err := EncodeGroupCommand(cmd)
	require.NoError(t, err)

	got, err := DecodeGroupCommand(data)
	require.NoError(t, err)
	assert.Equal(t, cmd, got)
}

func TestGroupCommandRemoveAction(t *testing.T) {
	cmd := GroupCommand{ID: 1, ServerName: "s", Action: GroupActionRemove, GroupName: "g", ConnectionID: "c"}
	data, err := EncodeGroupCommand(cmd)
	require.NoError(t, err)

	got, err := DecodeGroupCommand(data)
	require.NoError(t, err)
	assert.Equal(t, GroupActionRemove, got.Action)
}

func TestAckRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 16384, 4294967295} {
		data, err := EncodeAck(Ack{ID: id})
		require.NoError(t, err)

		got, err := DecodeAck(data)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	}
}

func TestDecodeGroupCommandMalformed(t *testing.T) {
	_, err := DecodeGroupCommand([]byte{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, hubcore.ErrMalformedFrame))
}
