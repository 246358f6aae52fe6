package observe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-client/core/errs"
)

func TestValue_SetSameValueIsNoop(t *testing.T) {
	v := NewValue(false)
	var calls int32
	sub := v.Subscribe(func(bool) { atomic.AddInt32(&calls, 1) })
	defer sub.Close()

	assert.False(t, v.Set(false))
	assert.True(t, v.Set(true))
	assert.False(t, v.Set(true))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestValue_ClosedSubscriptionStopsDelivery(t *testing.T) {
	v := NewValue(0)
	var got []int
	sub := v.Subscribe(func(n int) { got = append(got, n) })

	v.Set(1)
	sub.Close()
	sub.Close()
	v.Set(2)

	assert.Equal(t, []int{1}, got)
	assert.Zero(t, v.Listeners())
}

func TestRegistry_CloseAll(t *testing.T) {
	v := NewValue("a")
	var reg Registry
	reg.Add(v.Subscribe(func(string) {}))
	reg.Add(v.Subscribe(func(string) {}))
	reg.Add(nil)
	require.Equal(t, 2, reg.Len())

	reg.CloseAll()

	assert.Zero(t, reg.Len())
	assert.Zero(t, v.Listeners())
}

func TestWaitFor_AlreadySatisfied(t *testing.T) {
	v := NewValue(true)

	got, err := v.WaitFor(context.Background(), time.Second, func(b bool) bool { return b })

	require.NoError(t, err)
	assert.True(t, got)
	assert.Zero(t, v.Listeners())
}

func TestWaitFor_ResolvesOnTransition(t *testing.T) {
	v := NewValue(false)
	go func() {
		time.Sleep(10 * time.Millisecond)
		v.Set(true)
	}()

	got, err := v.WaitFor(context.Background(), time.Second, func(b bool) bool { return b })

	require.NoError(t, err)
	assert.True(t, got)
	assert.Zero(t, v.Listeners())
}

func TestWaitFor_TimesOut(t *testing.T) {
	v := NewValue(false)

	start := time.Now()
	_, err := v.WaitFor(context.Background(), 30*time.Millisecond, func(b bool) bool { return b })

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Zero(t, v.Listeners())
}

func TestWaitFor_ContextCancelled(t *testing.T) {
	v := NewValue(false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.WaitFor(ctx, time.Second, func(b bool) bool { return b })

	assert.True(t, errors.Is(err, errs.ErrTimeout))
	assert.True(t, errors.Is(err, context.Canceled))
}
