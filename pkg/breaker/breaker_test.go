package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAndStaysOpenUntilTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 3, Timeout: time.Second, SuccessThreshold: 2})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		require.True(t, b.CanProceed())
		b.RecordFailure()
	}
	assert.Equal(t, Open, b.GetStats().State)
	assert.False(t, b.CanProceed())

	clock = clock.Add(999 * time.Millisecond)
	assert.False(t, b.CanProceed(), "not yet timed out")

	clock = clock.Add(2 * time.Millisecond)
	assert.True(t, b.CanProceed(), "should transition to half-open after timeout")
	assert.Equal(t, HalfOpen, b.GetStats().State)
}

func TestBreakerRecoversAfterSuccessThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Millisecond, SuccessThreshold: 2})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	require.Equal(t, Open, b.GetStats().State)
	clock = clock.Add(2 * time.Millisecond)
	require.True(t, b.CanProceed())
	require.Equal(t, HalfOpen, b.GetStats().State)

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.GetStats().State)
	b.RecordSuccess()
	assert.Equal(t, Closed, b.GetStats().State)
	assert.Equal(t, 0, b.GetStats().FailureCount)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Millisecond, SuccessThreshold: 2})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(2 * time.Millisecond)
	require.True(t, b.CanProceed())
	require.Equal(t, HalfOpen, b.GetStats().State)

	b.RecordFailure()
	assert.Equal(t, Open, b.GetStats().State)
}

func TestCallRejectsWhenOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, Timeout: time.Hour, SuccessThreshold: 1})
	boom := errors.New("boom")
	err := b.Call(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = b.Call(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}
