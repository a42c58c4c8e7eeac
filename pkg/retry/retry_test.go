package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Constant(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConstantExhaustsAttempts(t *testing.T) {
	boom := errors.New("persistent")
	calls := 0
	err := Constant(func() error {
		calls++
		return boom
	}, time.Millisecond, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestConstantClampsAttemptsToOne(t *testing.T) {
	calls := 0
	err := Constant(func() error {
		calls++
		return errors.New("nope")
	}, time.Millisecond, 0)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExponentialRetriesUntilSuccess(t *testing.T) {
	calls := 0
	var waits []time.Duration
	err := Exponential(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, ExponentialConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		OnRetry: func(_ error, next time.Duration) {
			waits = append(waits, next)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestExponentialRequiresInterval(t *testing.T) {
	err := Exponential(func() error { return nil }, ExponentialConfig{})
	assert.ErrorContains(t, err, "initial interval")
}

func TestExponentialStopsOnMaxElapsedTime(t *testing.T) {
	boom := errors.New("never works")
	err := Exponential(func() error { return boom }, ExponentialConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  20 * time.Millisecond,
	})
	assert.ErrorIs(t, err, boom)
}

func TestExponentialContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := ExponentialContext(ctx, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("transient")
	}, ExponentialConfig{InitialInterval: time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExponentialPermanentErrorBehavior(t *testing.T) {
	// A succeeding operation never consults the backoff schedule.
	start := time.Now()
	err := Exponential(func() error { return nil }, ExponentialConfig{
		InitialInterval: time.Second,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
