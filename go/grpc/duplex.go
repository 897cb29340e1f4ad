package grpc

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

// defaultWriterGracePeriod bounds the wait on a duplex writer during teardown.
const defaultWriterGracePeriod = 2 * time.Second

// BidiStream executes a full-duplex call. Request writing runs as a concurrent task
// under a cancellation signal derived from the call's; responses are yielded in
// arrival order as they are pulled.
//
// When the response sequence finishes first, whether normally, by failure, or by
// cancellation, the writer is asked to stop and given a bounded grace period to
// finish cooperatively. If the grace period elapses, a warning is logged and control
// returns regardless; the writer goroutine may outlive the call.
func BidiStream[Req, Resp any](
	ctx context.Context, c *Caller, operation string, settings *CallSettings,
	open func(context.Context) (BidiStreamHandle[Req, Resp], error),
	requests iter.Seq[Req],
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

		writerCtx, cancelWriter := context.WithCancel(callCtx)
		writerDone := make(chan error, 1)
		go func() {
			writerDone <- writeRequests(writerCtx, stream, requests)
		}()
		defer c.awaitWriter(ctx, operation, cancelWriter, writerDone)

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

// writeRequests writes the request sequence in order, checking the derived
// cancellation signal between items, and signals end-of-requests when the sequence
// ends. A Send returning io.EOF means the stream was closed by the other side; the
// actual failure surfaces on the read side, so it is not reported here.
func writeRequests[Req any, Resp any](ctx context.Context, stream BidiStreamHandle[Req, Resp], requests iter.Seq[Req]) error {
	for request := range requests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Send(request); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return stream.CloseSend()
}

// awaitWriter requests cancellation of the writer task and waits for it to finish,
// bounded by the grace period. Cancellation errors from the writer are swallowed;
// other writer errors are logged but never surfaced, since the read side has already
// reported the call's outcome.
func (c *Caller) awaitWriter(ctx context.Context, operation string, cancelWriter context.CancelFunc, done <-chan error) {
	cancelWriter()

	timer := time.NewTimer(c.writerGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !isCancellation(err) {
			c.log.DebugContext(ctx, "duplex writer stopped with error",
				"operation", operation, "target", c.target(), "error", err)
		}
	case <-timer.C:
		c.log.WarnContext(ctx, "duplex writer did not stop within grace period",
			"operation", operation, "target", c.target(), "grace_period", c.writerGrace)
	}
}
