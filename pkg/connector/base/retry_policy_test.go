package base

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glucosync/glucosync/pkg/errors"
)

func TestExecuteExhaustsAttemptsWithIncreasingDelays(t *testing.T) {
	rp := &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	var timestamps []time.Time
	err := rp.Execute(context.Background(), func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New(errors.ErrorTypeConnection, "refused")
	})

	require.Error(t, err)
	require.Len(t, timestamps, 3)

	first := timestamps[1].Sub(timestamps[0])
	second := timestamps[2].Sub(timestamps[1])
	assert.Greater(t, second, first)
}

func TestExecuteStopsOnSuccess(t *testing.T) {
	rp := NewRetryPolicy(5, time.Millisecond)

	calls := 0
	err := rp.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeTimeout, "slow")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithConditionAbortsOnNonRetryable(t *testing.T) {
	rp := NewRetryPolicy(5, time.Millisecond)

	calls := 0
	err := rp.ExecuteWithCondition(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeAuthentication, "bad password")
	}, errors.IsRetryable)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsAuthFailure(err))
}

func TestExecuteHonorsCancellation(t *testing.T) {
	rp := NewRetryPolicy(10, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := rp.Execute(ctx, func() error {
		calls++
		return errors.New(errors.ErrorTypeConnection, "refused")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAuthRecoveryInvokesHookExactlyOnce(t *testing.T) {
	rp := NewRetryPolicy(3, time.Millisecond)

	calls := 0
	recoveries := 0
	err := rp.ExecuteWithAuthRecovery(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New(errors.ErrorTypeSessionExpired, "session token rejected")
		}
		return nil
	}, func(context.Context) error {
		recoveries++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, recoveries)
	assert.Equal(t, 2, calls)
}

func TestAuthRecoveryDoesNotConsumeBudget(t *testing.T) {
	rp := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	calls := 0
	err := rp.ExecuteWithAuthRecovery(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New(errors.ErrorTypeSessionExpired, "session token rejected")
		}
		return errors.New(errors.ErrorTypeConnection, "refused")
	}, func(context.Context) error { return nil })

	require.Error(t, err)
	// One expired-session call plus the full three-attempt budget.
	assert.Equal(t, 4, calls)
}

func TestAuthRecoverySecondExpiryAborts(t *testing.T) {
	rp := NewRetryPolicy(5, time.Millisecond)

	recoveries := 0
	err := rp.ExecuteWithAuthRecovery(context.Background(), func() error {
		return errors.New(errors.ErrorTypeSessionExpired, "session token rejected")
	}, func(context.Context) error {
		recoveries++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 1, recoveries)
	assert.True(t, errors.IsSessionExpired(err))
}

func TestAuthRecoveryFailedReauthAborts(t *testing.T) {
	rp := NewRetryPolicy(5, time.Millisecond)

	calls := 0
	err := rp.ExecuteWithAuthRecovery(context.Background(), func() error {
		calls++
		return errors.New(errors.ErrorTypeSessionExpired, "session token rejected")
	}, func(context.Context) error {
		return errors.New(errors.ErrorTypeAuthentication, "bad password")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsAuthFailure(err))
}

func TestDelaysCappedAtMax(t *testing.T) {
	rp := &RetryPolicy{
		MaxAttempts:  10,
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}

	assert.LessOrEqual(t, rp.GetDelay(9), 4*time.Second)
}
