package ackcoord

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feckardt/hublifetime/internal/hubcore"
)

func TestTriggerAckCompletesWait(t *testing.T) {
	c := New(time.Second)
	wait := c.CreateAck(1)

	go c.TriggerAck(1)

	err := wait()
	assert.NoError(t, err)
}

func TestAckTimeout(t *testing.T) {
	c := New(10 * time.Millisecond)
	wait := c.CreateAck(1)

	err := wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, hubcore.ErrAckTimeout))
}

func TestLateAckIsNoOp(t *testing.T) {
	c := New(10 * time.Millisecond)
	wait := c.CreateAck(1)

	err := wait()
	require.Error(t, err)

	c.TriggerAck(1) // should not panic or block
}

func TestUnknownAckIsNoOp(t *testing.T) {
	c := New(time.Second)
	c.TriggerAck(999) // never registered; must not panic
}

func TestDisposeFailsOutstandingWaits(t *testing.T) {
	c := New(time.Second)
	wait := c.CreateAck(1)

	go c.Dispose()

	err := wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, hubcore.ErrManagerShutdown))
}
