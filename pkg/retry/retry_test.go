package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		attempts++
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryAbortsOnFatalError(t *testing.T) {
	attempts := 0
	fatal := NewFatalError(errors.New("bad input"))
	err := Retry(context.Background(), fastPolicy(5), func() error {
		attempts++
		return fatal
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, fastPolicy(5), func() error {
		attempts++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
