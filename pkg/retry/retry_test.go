package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackoff_Calculate(t *testing.T) {
	b := NewBackoff(ExponentialPolicy(100*time.Millisecond, 5))

	assert.Equal(t, 200*time.Millisecond, b.Calculate(1))
	assert.Equal(t, 400*time.Millisecond, b.Calculate(2))
	assert.Equal(t, 3200*time.Millisecond, b.Calculate(5))
	assert.False(t, b.Exhausted(5))
	assert.True(t, b.Exhausted(6))
}

func TestBackoff_RespectsMaxDelay(t *testing.T) {
	p := ExponentialPolicy(time.Second, 10)
	p.MaxDelay = 3 * time.Second

	assert.Equal(t, 3*time.Second, NewBackoff(p).Calculate(4))
}

func TestRetrier_Do(t *testing.T) {
	policy := ExponentialPolicy(time.Millisecond, 3)

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), policy, zap.NewNop(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), policy, zap.NewNop(), func(ctx context.Context) error {
			calls++
			return errors.New("down")
		})

		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.Equal(t, 4, calls)
	})

	t.Run("stops on non retryable error", func(t *testing.T) {
		p := policy
		p.RetryableFunc = func(error) bool { return false }
		calls := 0
		err := Do(context.Background(), p, zap.NewNop(), func(ctx context.Context) error {
			calls++
			return errors.New("fatal")
		})

		assert.EqualError(t, err, "fatal")
		assert.Equal(t, 1, calls)
	})
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{MaxRetries: -1, BaseDelay: time.Second, Multiplier: 2}.Validate())
	assert.Error(t, Policy{MaxRetries: 1, Multiplier: 2}.Validate())
}
