package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstCoalescesToOneCall(t *testing.T) {
	d := New(10 * time.Millisecond)
	defer d.Cancel()

	var calls atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 20; i++ {
		i := i
		d.Do(func() {
			calls.Add(1)
			last.Store(int32(i))
		})
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(20), last.Load(), "trailing edge keeps the latest call")

	// No further invocation arrives later.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSeparatedCallsEachFire(t *testing.T) {
	d := New(5 * time.Millisecond)
	defer d.Cancel()

	var calls atomic.Int32
	d.Do(func() { calls.Add(1) })
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	d.Do(func() { calls.Add(1) })
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestCancelStopsPendingCall(t *testing.T) {
	d := New(10 * time.Millisecond)

	var calls atomic.Int32
	d.Do(func() { calls.Add(1) })
	d.Cancel()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, calls.Load())

	// After Cancel the debouncer stays dead.
	d.Do(func() { calls.Add(1) })
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, calls.Load())

	assert.NotPanics(t, d.Cancel)
}
