package grpc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCachedTokenProvider(t *testing.T) {
	t.Run("caches tokens for their ttl", func(t *testing.T) {
		var calls atomic.Int64
		provider := NewCachedTokenProvider(TokenProviderFN(func(context.Context) (string, error) {
			calls.Add(1)
			return "token", nil
		}), time.Hour)

		for range 3 {
			token, err := provider.Token(context.Background())
			require.NoError(t, err)
			require.Equal(t, "token", token)
		}
		require.Equal(t, int64(1), calls.Load())
	})

	t.Run("a blank token is not cached", func(t *testing.T) {
		var calls atomic.Int64
		provider := NewCachedTokenProvider(TokenProviderFN(func(context.Context) (string, error) {
			calls.Add(1)
			return "  ", nil
		}), time.Hour)

		token, err := provider.Token(context.Background())
		require.NoError(t, err)
		require.Empty(t, token)
		_, err = provider.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(2), calls.Load())
	})

	t.Run("provider errors propagate", func(t *testing.T) {
		providerErr := errors.New("identity server down")
		provider := NewCachedTokenProvider(TokenProviderFN(func(context.Context) (string, error) {
			return "", providerErr
		}), time.Hour)

		_, err := provider.Token(context.Background())
		require.ErrorIs(t, err, providerErr)
	})

	t.Run("background refresh keeps the cache warm", func(t *testing.T) {
		var calls atomic.Int64
		provider := NewCachedTokenProvider(TokenProviderFN(func(context.Context) (string, error) {
			calls.Add(1)
			return "token", nil
		}), 20*time.Millisecond).StartRefresh(context.Background())
		defer provider.Close()

		require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	})
}
