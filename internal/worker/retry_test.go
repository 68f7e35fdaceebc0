package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_SucceedsEventually(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), 3, time.Millisecond,
		func(error) bool { return true },
		func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	err := retryWithBackoff(context.Background(), 3, time.Millisecond,
		func(error) bool { return false },
		func() error {
			calls++
			return permanent
		})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_Exhaustion(t *testing.T) {
	calls := 0
	transient := errors.New("transient")
	err := retryWithBackoff(context.Background(), 3, time.Millisecond,
		func(error) bool { return true },
		func() error {
			calls++
			return transient
		})
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryWithBackoff(ctx, 3, time.Minute,
		func(error) bool { return true },
		func() error { return errors.New("transient") })
	assert.ErrorIs(t, err, context.Canceled)
}
