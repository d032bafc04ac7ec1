package hubcore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProtocol struct {
	name  string
	calls *int
}

func (p countingProtocol) Name() string { return p.name }
func (p countingProtocol) Encode(msg HubMessage) ([]byte, error) {
	*p.calls++
	return []byte(fmt.Sprintf("%s/%s", p.name, msg.Target)), nil
}

func TestGetEncodedCachesPerProtocol(t *testing.T) {
	var calls int
	p := countingProtocol{name: "json", calls: &calls}
	cache := NewSerializationCache(HubMessage{Target: "hello"})

	first, err := cache.GetEncoded("json", p)
	require.NoError(t, err)
	second, err := cache.GetEncoded("json", p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestGetEncodedManyProtocolsOverflowsInlineSlots(t *testing.T) {
	var calls int
	cache := NewSerializationCache(HubMessage{Target: "hello"})
	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		_, err := cache.GetEncoded(name, countingProtocol{name: name, calls: &calls})
		require.NoError(t, err)
	}
	assert.Equal(t, len(names), calls)
	assert.Equal(t, len(names), cache.protocolCount())
}

func TestGetEncodedBytesOnlyCacheMissingProtocol(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, w.WriteByte(0)) // zero protocols encoded
	require.NoError(t, w.Flush())

	cache, err := ReadAllVersions(bufio.NewReader(&buf))
	require.NoError(t, err)

	var calls int
	_, err = cache.GetEncoded("json", countingProtocol{name: "json", calls: &calls})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProtocolNotAvailable))
}

func TestWriteAllVersionsTooManyProtocols(t *testing.T) {
	var calls int
	cache := NewSerializationCache(HubMessage{Target: "hello"})
	protocols := make([]HubProtocol, 0, 256)
	for i := 0; i < 256; i++ {
		name := fmt.Sprintf("p%d", i)
		protocols = append(protocols, countingProtocol{name: name, calls: &calls})
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	err := cache.WriteAllVersions(w, protocols)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyProtocols))
}

func TestWriteReadAllVersionsRoundTrip(t *testing.T) {
	var calls int
	cache := NewSerializationCache(HubMessage{Target: "greet"})
	protocols := []HubProtocol{
		countingProtocol{name: "json", calls: &calls},
		countingProtocol{name: "json-camel", calls: &calls},
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, cache.WriteAllVersions(w, protocols))
	require.NoError(t, w.Flush())

	decoded, err := ReadAllVersions(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.protocolCount())
	assert.Nil(t, decoded.Message())

	encoded, err := decoded.GetEncoded("json", countingProtocol{name: "json", calls: &calls})
	require.NoError(t, err)
	assert.Equal(t, "json/greet", string(encoded))
}
