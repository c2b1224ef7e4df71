package connect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-sql/sqlexp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectRetryCountZeroFailsImmediately(t *testing.T) {
	plan := RetryPlan{RetryCount: 0}
	err := Reconnect(context.Background(), plan, func(ctx context.Context) error { return nil })
	require.Error(t, err)
}

func TestReconnectSucceedsOnSecondAttempt(t *testing.T) {
	plan := RetryPlan{RetryCount: 2, RetryInterval: 10 * time.Millisecond, LoginTimeout: time.Second, QueryTimeout: time.Minute}
	attempts := 0
	err := Reconnect(context.Background(), plan, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestReconnectExhaustsRetriesReturnsRetryable(t *testing.T) {
	plan := RetryPlan{RetryCount: 2, RetryInterval: 10 * time.Millisecond, LoginTimeout: time.Second, QueryTimeout: time.Minute}
	err := Reconnect(context.Background(), plan, func(ctx context.Context) error {
		return errors.New("still down")
	})
	require.Error(t, err)
	var r sqlexp.Retryable
	require.True(t, errors.As(err, &r))
	assert.True(t, r.Retryable())
}

func TestReconnectIntervalExceedsQueryTimeoutFailsFast(t *testing.T) {
	plan := RetryPlan{RetryCount: 2, RetryInterval: time.Minute, LoginTimeout: time.Second, QueryTimeout: time.Second}
	err := Reconnect(context.Background(), plan, func(ctx context.Context) error { return errors.New("down") })
	require.Error(t, err)
}

// S4/S8-style envelope check: count=2, login=5s, interval=10s ≈ 20s.
func TestExpectedEnvelopeDefaults(t *testing.T) {
	plan := RetryPlan{RetryCount: 2, RetryInterval: 10 * time.Second, LoginTimeout: 5 * time.Second}
	assert.Equal(t, 20*time.Second, ExpectedEnvelope(plan))

	plan2 := RetryPlan{RetryCount: 1, RetryInterval: 10 * time.Second, LoginTimeout: 15 * time.Second}
	assert.Equal(t, 15*time.Second, ExpectedEnvelope(plan2))
}
