package varint

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 4294967295}
	for _, v := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteVarInt(&buf, v))
		got, err := ReadVarInt(bufio.NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestVarIntBoundarySizes(t *testing.T) {
	sizeAt := func(v uint32) int {
		var buf bytes.Buffer
		require.NoError(t, WriteVarInt(&buf, v))
		return buf.Len()
	}
	assert.Equal(t, 1, sizeAt(0))
	assert.Equal(t, 1, sizeAt(127))
	assert.Equal(t, 2, sizeAt(128))
	assert.Equal(t, 2, sizeAt(16383))
	assert.Equal(t, 3, sizeAt(16384))
}

func TestReadVarIntTooLong(t *testing.T) {
	data := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, err := ReadVarInt(bufio.NewReader(bytes.NewReader(data)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestStringRoundTrip(t *testing.T) {
	cases := []string{"", "a", strings.Repeat("x", 1000), "éè中文"}
	for _, s := range cases {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		require.NoError(t, WriteString(w, s))
		require.NoError(t, w.Flush())

		got, err := ReadString(bufio.NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestReadStringInvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteVarInt(w, 2))
	require.NoError(t, w.WriteByte(0xff))
	require.NoError(t, w.WriteByte(0xfe))
	require.NoError(t, w.Flush())

	_, err := ReadString(bufio.NewReader(&buf))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestInt32LERoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 2147483647, -2147483648}
	for _, v := range cases {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		require.NoError(t, WriteInt32LE(w, v))
		require.NoError(t, w.Flush())

		got, err := ReadInt32LE(bufio.NewReader(&buf))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}
