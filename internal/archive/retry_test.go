package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryRunSucceedsAfterFailures(t *testing.T) {
	policy := RetryPolicy{Base: time.Millisecond, Cap: 5 * time.Millisecond}

	calls := 0
	var attempts []int
	err := policy.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	}, func(attempt int, err error) {
		attempts = append(attempts, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryRunStopsOnContextCancel(t *testing.T) {
	policy := RetryPolicy{Base: time.Millisecond, Cap: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := policy.Run(ctx, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return fmt.Errorf("still failing")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, calls, 2)
}
