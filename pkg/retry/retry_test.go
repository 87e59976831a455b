package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

func fastConfig(max int, retryable ...error) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     max,
		BackoffStrategy: &ConstantBackoff{Interval: time.Millisecond},
		Logger:          logger.NewNop(),
		RetryableErrors: retryable,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.ErrStoreUnavailable
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return apperrors.ErrStoreUnavailable
	}, fastConfig(3))

	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return apperrors.ErrNotFound
	}, fastConfig(5, apperrors.ErrStoreUnavailable))

	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestRetryUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Retry(ctx, func(context.Context) error {
		calls++
		if calls == 10 {
			cancel()
		}
		return apperrors.ErrStoreUnavailable
	}, fastConfig(0))

	assert.Equal(t, 10, calls)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExponentialBackoff(t *testing.T) {
	b := &ExponentialBackoff{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, b.NextBackoff(1))
	assert.Equal(t, 400*time.Millisecond, b.NextBackoff(3))
	assert.Equal(t, time.Second, b.NextBackoff(10))
}
