package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := NewRingChannel[int](2)

	assert.False(t, rc.Send(1))
	assert.False(t, rc.Send(2))
	assert.True(t, rc.Send(3), "third send MUST drop the oldest element")

	v, ok := rc.ReceiveTimeout(0)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = rc.ReceiveTimeout(0)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	m := rc.Metrics()
	assert.Equal(t, int64(3), m.Written)
	assert.Equal(t, int64(1), m.Overwritten)
	assert.Equal(t, int64(2), m.Processed)
}

func TestRingChannel_ReceiveTimeout(t *testing.T) {
	rc := NewRingChannel[string](1)

	start := time.Now()
	_, ok := rc.ReceiveTimeout(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	go func() {
		time.Sleep(5 * time.Millisecond)
		rc.Send("late")
	}()
	v, ok := rc.ReceiveTimeout(time.Second)
	assert.True(t, ok)
	assert.Equal(t, "late", v)
}

func TestRingChannel_Drain(t *testing.T) {
	rc := NewRingChannel[int](4)
	rc.Send(1)
	rc.Send(2)

	assert.Equal(t, 2, rc.Drain())
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 4, rc.Cap())
}

func TestNewRingChannel_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRingChannel[int](0) })
}
