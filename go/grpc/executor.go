package grpc

import (
	"context"
	"errors"
	"io"
	"iter"
)

// RecvStream is the response side of a server-streaming call handle. It matches the
// receiving half of grpc-generated client streams.
type RecvStream[Resp any] interface {
	Recv() (Resp, error)
}

// SendStream is the request side of a streaming call handle.
type SendStream[Req any] interface {
	Send(Req) error
	CloseSend() error
}

// ClientStreamHandle is a client-streaming call handle: many requests, one response.
type ClientStreamHandle[Req, Resp any] interface {
	Send(Req) error
	CloseAndRecv() (Resp, error)
}

// BidiStreamHandle is a full-duplex call handle.
type BidiStreamHandle[Req, Resp any] interface {
	Send(Req) error
	CloseSend() error
	Recv() (Resp, error)
}

// Invoke executes a single-response call. The invoke function receives the effective
// call context and performs the call; remote failures are logged and re-raised
// unchanged.
func Invoke[Resp any](
	ctx context.Context, c *Caller, operation string, settings *CallSettings,
	invoke func(context.Context) (Resp, error),
) (Resp, error) {
	var zero Resp
	callCtx, cancel, err := c.callContext(ctx, settings)
	if err != nil {
		return zero, err
	}
	defer cancel()

	response, err := invoke(callCtx)
	if err != nil {
		c.logCallError(ctx, operation, err)
		return zero, err
	}
	return response, nil
}

// ServerStream executes a server-streaming call and returns the response sequence.
// The sequence is lazy: nothing happens until it is iterated, and each iteration
// opens a fresh call. Items are yielded in arrival order; a pull failure is logged,
// yielded once, and ends the sequence.
func ServerStream[Resp any](
	ctx context.Context, c *Caller, operation string, settings *CallSettings,
	open func(context.Context) (RecvStream[Resp], error),
) iter.Seq2[Resp, error] {
	return func(yield func(Resp, error) bool) {
		var zero Resp
		callCtx, cancel, err := c.callContext(ctx, settings)
		if err != nil {
			yield(zero, err)
			return
		}
		defer cancel()

		stream, err := open(callCtx)
		if err != nil {
			c.logCallError(ctx, operation, err)
			yield(zero, err)
			return
		}
		for {
			item, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				c.logCallError(ctx, operation, err)
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// ClientStream executes a client-streaming call: it writes the request sequence in
// arrival order under the effective call context, signals end-of-requests, and
// returns the single response. Any failure is logged and re-raised.
func ClientStream[Req, Resp any](
	ctx context.Context, c *Caller, operation string, settings *CallSettings,
	open func(context.Context) (ClientStreamHandle[Req, Resp], error),
	requests iter.Seq[Req],
) (Resp, error) {
	var zero Resp
	callCtx, cancel, err := c.callContext(ctx, settings)
	if err != nil {
		return zero, err
	}
	defer cancel()

	stream, err := open(callCtx)
	if err != nil {
		c.logCallError(ctx, operation, err)
		return zero, err
	}
	for request := range requests {
		if err := callCtx.Err(); err != nil {
			return zero, err
		}
		if err := stream.Send(request); err != nil {
			c.logCallError(ctx, operation, err)
			return zero, err
		}
	}
	response, err := stream.CloseAndRecv()
	if err != nil {
		c.logCallError(ctx, operation, err)
		return zero, err
	}
	return response, nil
}
