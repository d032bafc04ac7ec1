package hubcore

import (
	"bufio"
	"fmt"
	"io"

	"github.com/feckardt/hublifetime/internal/varint"
)

// protoSlot is one (protocolName, encodedBytes) pair.
type protoSlot struct {
	name  string
	bytes []byte
}

// SerializationCache holds a source HubMessage (absent when constructed
// from wire bytes) plus a set of per-protocol pre-encoded byte buffers.
// The first two protocols encoded live in inline slots; anything beyond
// that overflows into a map. In typical deployments only one or two wire
// protocols are configured, so the inline slots avoid a map allocation on
// the hot path of a single-protocol deployment.
type SerializationCache struct {
	source    *HubMessage
	inline    [2]protoSlot
	inlineLen int
	overflow  map[string][]byte
}

// NewSerializationCache builds a cache around a live HubMessage. Protocol
// encodings are produced lazily by GetEncoded.
func NewSerializationCache(source HubMessage) *SerializationCache {
	return &SerializationCache{source: &source}
}

// Message returns the source HubMessage, or nil if this cache was built
// from wire bytes (bytes-only mode).
func (c *SerializationCache) Message() *HubMessage {
	return c.source
}

func (c *SerializationCache) find(name string) ([]byte, bool) {
	for i := 0; i < c.inlineLen; i++ {
		if c.inline[i].name == name {
			return c.inline[i].bytes, true
		}
	}
	if c.overflow != nil {
		if b, ok := c.overflow[name]; ok {
			return b, true
		}
	}
	return nil, false
}

// set stores bytes for name. A later write for a protocol name that is
// already present is ignored whatever its bytes: an existing slot is never
// displaced.
func (c *SerializationCache) set(name string, data []byte) {
	if _, ok := c.find(name); ok {
		return
	}
	if c.inlineLen < len(c.inline) {
		c.inline[c.inlineLen] = protoSlot{name: name, bytes: data}
		c.inlineLen++
		return
	}
	if c.overflow == nil {
		c.overflow = make(map[string][]byte)
	}
	c.overflow[name] = data
}

// protocolCount returns how many distinct protocols currently have cached
// bytes.
func (c *SerializationCache) protocolCount() int {
	return c.inlineLen + len(c.overflow)
}

func (c *SerializationCache) forEach(fn func(name string, data []byte)) {
	for i := 0; i < c.inlineLen; i++ {
		fn(c.inline[i].name, c.inline[i].bytes)
	}
	for name, data := range c.overflow {
		fn(name, data)
	}
}

// GetEncoded returns the cached bytes for protocolName, encoding on demand
// with protocol if not already cached. If the cache has no source message
// (bytes-only mode) and protocolName was not among the bytes it was
// hydrated with, this fails with ErrProtocolNotAvailable.
func (c *SerializationCache) GetEncoded(protocolName string, protocol HubProtocol) ([]byte, error) {
	if b, ok := c.find(protocolName); ok {
		return b, nil
	}
	if c.source == nil {
		return nil, fmt.Errorf("hubcore: protocol %q: %w", protocolName, ErrProtocolNotAvailable)
	}
	encoded, err := protocol.Encode(*c.source)
	if err != nil {
		return nil, fmt.Errorf("hubcore: encode with protocol %q: %w", protocolName, err)
	}
	c.set(protocolName, encoded)
	return encoded, nil
}

// WriteAllVersions produces the bytes-only wire form described by the wire
// protocol's Invocation frame payload: a u8 protocol count
// (TooManyProtocols above 255), then for each protocol a length-prefixed
// name, an i32 byte length, and the bytes themselves. Any protocol in
// protocols not yet encoded is encoded first via GetEncoded.
func (c *SerializationCache) WriteAllVersions(w *bufio.Writer, protocols []HubProtocol) error {
	for _, p := range protocols {
		if _, err := c.GetEncoded(p.Name(), p); err != nil {
			return err
		}
	}
	if c.protocolCount() > 255 {
		return fmt.Errorf("hubcore: %d protocols: %w", c.protocolCount(), ErrTooManyProtocols)
	}
	if err := w.WriteByte(byte(c.protocolCount())); err != nil {
		return fmt.Errorf("hubcore: write protocol count: %w", err)
	}
	var writeErr error
	c.forEach(func(name string, data []byte) {
		if writeErr != nil {
			return
		}
		writeErr = varint.WriteString(w, name)
		if writeErr != nil {
			return
		}
		writeErr = varint.WriteInt32LE(w, int32(len(data)))
		if writeErr != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			writeErr = fmt.Errorf("hubcore: write protocol payload: %w", err)
		}
	})
	return writeErr
}

// ReadAllVersions is the inverse of WriteAllVersions; the resulting cache
// has no source HubMessage.
func ReadAllVersions(r *bufio.Reader) (*SerializationCache, error) {
	countByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("hubcore: read protocol count: %w: %w", ErrMalformedFrame, err)
	}
	cache := &SerializationCache{}
	for i := 0; i < int(countByte); i++ {
		name, err := varint.ReadString(r)
		if err != nil {
			return nil, fmt.Errorf("hubcore: read protocol name: %w: %w", ErrMalformedFrame, err)
		}
		length, err := varint.ReadInt32LE(r)
		if err != nil {
			return nil, fmt.Errorf("hubcore: read protocol length: %w: %w", ErrMalformedFrame, err)
		}
		if length < 0 {
			return nil, fmt.Errorf("hubcore: negative payload length: %w", ErrMalformedFrame)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("hubcore: read protocol payload: %w: %w", ErrMalformedFrame, err)
		}
		cache.set(name, buf)
	}
	return cache, nil
}
