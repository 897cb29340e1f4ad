package grpc

import (
	"context"
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeRecvStream replays items in order, then the final error (io.EOF by default).
type fakeRecvStream[T any] struct {
	items []T
	final error
	index int
}

func (s *fakeRecvStream[T]) Recv() (T, error) {
	var zero T
	if s.index < len(s.items) {
		item := s.items[s.index]
		s.index++
		return item, nil
	}
	if s.final != nil {
		return zero, s.final
	}
	return zero, io.EOF
}

// fakeClientStream records sent requests and returns a canned response.
type fakeClientStream[Req, Resp any] struct {
	sent     []Req
	response Resp
	sendErr  error
	recvErr  error
	closed   bool
}

func (s *fakeClientStream[Req, Resp]) Send(request Req) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, request)
	return nil
}

func (s *fakeClientStream[Req, Resp]) CloseAndRecv() (Resp, error) {
	s.closed = true
	if s.recvErr != nil {
		var zero Resp
		return zero, s.recvErr
	}
	return s.response, nil
}

func TestInvoke(t *testing.T) {
	t.Run("returns the response", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		response, err := Invoke(context.Background(), caller, "test.Service/Get", nil,
			func(context.Context) (string, error) { return "response", nil },
		)
		require.NoError(t, err)
		require.Equal(t, "response", response)
	})

	t.Run("propagates remote failures unchanged", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		remoteErr := status.Error(codes.NotFound, "no such thing")
		_, err := Invoke(context.Background(), caller, "test.Service/Get", nil,
			func(context.Context) (string, error) { return "", remoteErr },
		)
		require.ErrorIs(t, err, remoteErr)
	})

	t.Run("configuration errors fire before the call executes", func(t *testing.T) {
		caller := testCaller(&AuthOpts{Mode: AuthModeAPIKey})
		executed := false
		_, err := Invoke(context.Background(), caller, "test.Service/Get", nil,
			func(context.Context) (string, error) { executed = true; return "", nil },
		)
		require.Error(t, err)
		require.False(t, executed)
	})
}

func TestServerStream(t *testing.T) {
	t.Run("yields items in arrival order", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		stream := ServerStream(context.Background(), caller, "test.Service/List", nil,
			func(context.Context) (RecvStream[int], error) {
				return &fakeRecvStream[int]{items: []int{1, 2, 3}}, nil
			},
		)
		var got []int
		for item, err := range stream {
			require.NoError(t, err)
			got = append(got, item)
		}
		require.Equal(t, []int{1, 2, 3}, got)
	})

	t.Run("re-raises a pull failure and ends the sequence", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		remoteErr := status.Error(codes.Unavailable, "gone")
		stream := ServerStream(context.Background(), caller, "test.Service/List", nil,
			func(context.Context) (RecvStream[int], error) {
				return &fakeRecvStream[int]{items: []int{1, 2}, final: remoteErr}, nil
			},
		)
		var got []int
		var gotErr error
		for item, err := range stream {
			if err != nil {
				gotErr = err
				break
			}
			got = append(got, item)
		}
		require.Equal(t, []int{1, 2}, got)
		require.ErrorIs(t, gotErr, remoteErr)
	})

	t.Run("surfaces open failures", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		openErr := status.Error(codes.Unauthenticated, "denied")
		stream := ServerStream(context.Background(), caller, "test.Service/List", nil,
			func(context.Context) (RecvStream[int], error) { return nil, openErr },
		)
		var gotErr error
		for _, err := range stream {
			gotErr = err
		}
		require.ErrorIs(t, gotErr, openErr)
	})
}

func TestClientStream(t *testing.T) {
	t.Run("writes requests in order and returns the response", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		fake := &fakeClientStream[int, string]{response: "done"}
		response, err := ClientStream(context.Background(), caller, "test.Service/Put", nil,
			func(context.Context) (ClientStreamHandle[int, string], error) { return fake, nil },
			slices.Values([]int{1, 2, 3}),
		)
		require.NoError(t, err)
		require.Equal(t, "done", response)
		require.Equal(t, []int{1, 2, 3}, fake.sent)
		require.True(t, fake.closed)
	})

	t.Run("re-raises write failures", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		sendErr := status.Error(codes.ResourceExhausted, "full")
		fake := &fakeClientStream[int, string]{sendErr: sendErr}
		_, err := ClientStream(context.Background(), caller, "test.Service/Put", nil,
			func(context.Context) (ClientStreamHandle[int, string], error) { return fake, nil },
			slices.Values([]int{1}),
		)
		require.ErrorIs(t, err, sendErr)
	})

	t.Run("re-raises response failures", func(t *testing.T) {
		caller := testCaller(&AuthOpts{})
		recvErr := status.Error(codes.Internal, "broken")
		fake := &fakeClientStream[int, string]{recvErr: recvErr}
		_, err := ClientStream(context.Background(), caller, "test.Service/Put", nil,
			func(context.Context) (ClientStreamHandle[int, string], error) { return fake, nil },
			slices.Values([]int{1}),
		)
		require.ErrorIs(t, err, recvErr)
	})

	t.Run("stops writing when the call is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		caller := testCaller(&AuthOpts{})
		fake := &fakeClientStream[int, string]{}
		requests := func(yield func(int) bool) {
			if !yield(1) {
				return
			}
			cancel()
			yield(2)
		}
		_, err := ClientStream(ctx, caller, "test.Service/Put", nil,
			func(context.Context) (ClientStreamHandle[int, string], error) { return fake, nil },
			requests,
		)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, []int{1}, fake.sent)
	})
}
