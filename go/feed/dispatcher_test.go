package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSerialDispatcher(t *testing.T) {
	t.Run("runs tasks serially in submission order", func(t *testing.T) {
		dispatcher := NewSerialDispatcher()
		defer dispatcher.Close()

		// Do waits for completion, so appending without a lock is safe.
		var order []int
		for i := 0; i < 100; i++ {
			err := dispatcher.Do(context.Background(), func(context.Context) error {
				order = append(order, i)
				return nil
			})
			require.NoError(t, err)
		}
		require.Len(t, order, 100)
		for i, got := range order {
			require.Equal(t, i, got)
		}
	})

	t.Run("runs inline when already on the dispatcher", func(t *testing.T) {
		dispatcher := NewSerialDispatcher()
		defer dispatcher.Close()

		var nested bool
		err := dispatcher.Do(context.Background(), func(taskCtx context.Context) error {
			// A nested post would deadlock the single loop goroutine.
			return dispatcher.Do(taskCtx, func(context.Context) error {
				nested = true
				return nil
			})
		})
		require.NoError(t, err)
		require.True(t, nested)
	})

	t.Run("propagates task errors", func(t *testing.T) {
		dispatcher := NewSerialDispatcher()
		defer dispatcher.Close()

		taskErr := errors.New("task failed")
		err := dispatcher.Do(context.Background(), func(context.Context) error { return taskErr })
		require.ErrorIs(t, err, taskErr)
	})

	t.Run("abandons the wait when the context is cancelled", func(t *testing.T) {
		dispatcher := NewSerialDispatcher()
		defer dispatcher.Close()

		blocked := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = dispatcher.Do(context.Background(), func(context.Context) error {
				close(blocked)
				<-release
				return nil
			})
		}()
		<-blocked
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := dispatcher.Do(ctx, func(context.Context) error { return nil })
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rejects tasks after close", func(t *testing.T) {
		dispatcher := NewSerialDispatcher()
		dispatcher.Close()
		err := dispatcher.Do(context.Background(), func(context.Context) error { return nil })
		require.ErrorIs(t, err, ErrDispatcherClosed)
	})

	t.Run("close blocks until the loop has exited", func(t *testing.T) {
		dispatcher := NewSerialDispatcher()
		require.NoError(t, dispatcher.Do(context.Background(), func(context.Context) error { return nil }))
		dispatcher.Close()
		dispatcher.Close() // idempotent
	})
}

func TestInlineDispatcher(t *testing.T) {
	var ran bool
	err := Inline().Do(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}
