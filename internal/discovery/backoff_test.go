package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRpcRetryRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := rpcRetry(context.Background(), 3, time.Microsecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRpcRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := rpcRetry(context.Background(), 2, time.Microsecond, func(context.Context) error {
		calls++
		return fmt.Errorf("down")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRpcRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := rpcRetry(ctx, 10, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return fmt.Errorf("down")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
